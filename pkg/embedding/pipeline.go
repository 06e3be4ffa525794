package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/observability"
)

// Extractor produces per-token hidden states for a text.
type Extractor interface {
	// Extract returns a [batch, tokens, hidden] tensor for text.
	Extract(ctx context.Context, text string) (Tensor, error)

	// Close releases the extractor.
	Close() error
}

// Factory constructs an Extractor. It may be slow (model download, remote
// probe) and is called at most once per successful construction.
type Factory interface {
	Name() string
	New(ctx context.Context) (Extractor, error)
}

// ErrPipelineClosed is returned after Close.
var ErrPipelineClosed = errors.New("embedding pipeline closed")

// Pipeline embeds text with a lazily constructed extractor.
type Pipeline struct {
	factory   Factory
	normalize bool

	group singleflight.Group

	mu        sync.Mutex
	extractor Extractor
	closed    bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithNormalize L2-normalises every returned vector.
func WithNormalize(on bool) PipelineOption {
	return func(p *Pipeline) { p.normalize = on }
}

// NewPipeline creates a Pipeline. No extractor is built until the first
// Embed call.
func NewPipeline(factory Factory, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{factory: factory}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Backend returns the extractor backend name.
func (p *Pipeline) Backend() string {
	return p.factory.Name()
}

// Ready reports whether the extractor has been constructed.
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extractor != nil
}

// Embed returns the mean-pooled embedding of text.
func (p *Pipeline) Embed(ctx context.Context, text string) (api.EmbeddingVector, error) {
	backend := p.factory.Name()
	start := time.Now()

	vec, err := p.embed(ctx, text)

	result := "success"
	if err != nil {
		result = "error"
	}
	observability.EmbeddingsTotal.WithLabelValues(backend, result).Inc()
	observability.EmbeddingDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	return vec, err
}

func (p *Pipeline) embed(ctx context.Context, text string) (api.EmbeddingVector, error) {
	ext, err := p.Extractor(ctx)
	if err != nil {
		return nil, err
	}

	t, err := ext.Extract(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}
	vec, err := PoolTensor(t)
	if err != nil {
		return nil, err
	}
	if p.normalize {
		Normalize(vec)
	}
	debug.Log("embedding", "embedded text", "chars", len(text), "dims", len(vec))
	return vec, nil
}

// EmbedBatch embeds each text in order. Texts are sent one at a time since
// pooling accepts a single sequence.
func (p *Pipeline) EmbedBatch(ctx context.Context, texts []string) ([]api.EmbeddingVector, error) {
	out := make([]api.EmbeddingVector, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Extractor returns the memoized extractor, constructing it on first use.
// Concurrent callers share one construction; a failed construction is
// retried by the next call.
func (p *Pipeline) Extractor(ctx context.Context) (Extractor, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPipelineClosed
	}
	if p.extractor != nil {
		ext := p.extractor
		p.mu.Unlock()
		return ext, nil
	}
	p.mu.Unlock()

	ch := p.group.DoChan("extractor", func() (any, error) {
		p.mu.Lock()
		if p.extractor != nil {
			ext := p.extractor
			p.mu.Unlock()
			return ext, nil
		}
		p.mu.Unlock()

		slog.Info("creating feature extractor", "backend", p.factory.Name())
		// Construction is shared; one caller's cancellation must not fail it
		// for the others.
		ext, err := p.factory.New(context.WithoutCancel(ctx))
		if err != nil {
			slog.Error("feature extractor failed", "backend", p.factory.Name(), "error", err)
			return nil, fmt.Errorf("creating %s extractor: %w", p.factory.Name(), err)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			ext.Close()
			return nil, ErrPipelineClosed
		}
		p.extractor = ext
		return ext, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Extractor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the extractor. Later Embed calls fail.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.extractor == nil {
		return nil
	}
	err := p.extractor.Close()
	p.extractor = nil
	return err
}
