package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/provider"
)

// EngineSource yields the ready engine. *engine.Manager implements it.
type EngineSource interface {
	Engine() (*engine.Engine, error)
}

// Augmenter rewrites a history before it is sent, for example to add
// retrieved context.
type Augmenter interface {
	Augment(ctx context.Context, history []api.ChatMessage) ([]api.ChatMessage, error)
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithAugmenter sets the history augmenter. Augmentation failures are
// logged and the history is sent unchanged.
func WithAugmenter(a Augmenter) Option {
	return func(as *Assembler) { as.augmenter = a }
}

// WithSystemPrompt prepends a system message to histories that have none.
func WithSystemPrompt(prompt string) Option {
	return func(as *Assembler) { as.systemPrompt = prompt }
}

// WithGenerateOptions sets sampling options for every request.
func WithGenerateOptions(opts provider.GenerateOptions) Option {
	return func(as *Assembler) { as.opts = opts }
}

// Assembler sends conversation histories to the engine. It keeps no
// per-conversation state; every call carries the full history.
type Assembler struct {
	engines      EngineSource
	augmenter    Augmenter
	systemPrompt string
	opts         provider.GenerateOptions
}

// NewAssembler creates an Assembler over engines.
func NewAssembler(engines EngineSource, opts ...Option) *Assembler {
	a := &Assembler{engines: engines}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SendPrompt starts a streaming completion over history. It returns
// api.ErrEngineNotReady when no engine has been loaded.
func (a *Assembler) SendPrompt(ctx context.Context, history []api.ChatMessage) (*Stream, error) {
	return a.SendPromptWithOptions(ctx, history, a.opts)
}

// SendPromptWithOptions is SendPrompt with per-request sampling options.
// Unset fields fall back to the engine defaults.
func (a *Assembler) SendPromptWithOptions(ctx context.Context, history []api.ChatMessage, opts provider.GenerateOptions) (*Stream, error) {
	eng, err := a.engines.Engine()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrEngineNotReady, err)
	}

	msgs := api.CloneMessages(history)
	if a.augmenter != nil {
		augmented, err := a.augmenter.Augment(ctx, msgs)
		if err != nil {
			slog.Warn("augmentation failed, sending prompt unchanged", "error", err)
		} else {
			msgs = augmented
		}
	}
	if a.systemPrompt != "" && !hasSystem(msgs) {
		msgs = append([]api.ChatMessage{api.SystemMessage(a.systemPrompt)}, msgs...)
	}

	debug.Log("chat", "sending prompt", "messages", len(msgs), "model", eng.Model())

	sctx, cancel := context.WithCancel(ctx)
	events, err := eng.ChatStream(sctx, msgs, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	return newStream(sctx, events, cancel), nil
}

func hasSystem(msgs []api.ChatMessage) bool {
	for _, m := range msgs {
		if m.Role == api.RoleSystem {
			return true
		}
	}
	return false
}
