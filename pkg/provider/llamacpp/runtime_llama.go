//go:build llama

package llamacpp

import (
	"context"
	"fmt"

	llamago "github.com/tcpipuk/llama-go"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/provider"
)

// llamaRuntime holds a loaded model and its inference context. The engine
// worker serializes generations, so no locking is needed here.
type llamaRuntime struct {
	id       string
	model    *llamago.Model
	llamaCtx *llamago.Context
}

func newRuntime(cfg Config, id, path string) (provider.Runtime, error) {
	model, err := llamago.LoadModel(path,
		llamago.WithGPULayers(cfg.GPULayers),
		llamago.WithSilentLoading(),
	)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: load model: %w", err)
	}

	var ctxOpts []llamago.ContextOption
	if cfg.ContextSize > 0 {
		ctxOpts = append(ctxOpts, llamago.WithContext(cfg.ContextSize))
	}
	if cfg.Threads > 0 {
		ctxOpts = append(ctxOpts, llamago.WithThreads(cfg.Threads))
	}

	llamaCtx, err := model.NewContext(ctxOpts...)
	if err != nil {
		_ = model.Close()
		return nil, fmt.Errorf("llamacpp: create context: %w", err)
	}

	if id == "" {
		id = DefaultModelID
	}
	return &llamaRuntime{id: id, model: model, llamaCtx: llamaCtx}, nil
}

func (r *llamaRuntime) Model() string { return r.id }

func (r *llamaRuntime) ChatStream(ctx context.Context, messages []api.ChatMessage, opts provider.GenerateOptions) (<-chan provider.Event, error) {
	msgs := make([]llamago.ChatMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, llamago.ChatMessage{Role: string(m.Role), Content: m.Text()})
	}

	chatOpts := llamago.ChatOptions{}
	if opts.MaxTokens != nil {
		chatOpts.MaxTokens = llamago.Int(*opts.MaxTokens)
	}
	if opts.Temperature != nil {
		chatOpts.Temperature = llamago.Float32(float32(*opts.Temperature))
	}
	if len(opts.Stop) > 0 {
		chatOpts.StopWords = opts.Stop
	}

	deltaCh, errCh := r.llamaCtx.ChatStream(ctx, msgs, chatOpts)

	out := make(chan provider.Event, 16)
	go func() {
		defer close(out)
		for {
			select {
			case delta, ok := <-deltaCh:
				if !ok {
					select {
					case out <- provider.Event{Type: provider.EventDone, FinishReason: "stop"}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- provider.Event{Type: provider.EventTextDelta, Delta: delta.Content}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-errCh:
				if ok && err != nil {
					select {
					case out <- provider.Event{Type: provider.EventError, Err: fmt.Errorf("llamacpp: %w", err)}:
					case <-ctx.Done():
					}
					return
				}
				// Closed error channel; keep reading deltas.
				errCh = nil
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *llamaRuntime) Close() error {
	if r.llamaCtx != nil {
		_ = r.llamaCtx.Close()
	}
	if r.model != nil {
		_ = r.model.Close()
	}
	return nil
}
