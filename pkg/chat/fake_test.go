package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/provider"
)

// scriptedLoader loads a runtime that replays events.
type scriptedLoader struct {
	rt *scriptedRuntime
}

func (l *scriptedLoader) Name() string { return "scripted" }

func (l *scriptedLoader) Load(context.Context, string, provider.ProgressFunc) (provider.Runtime, error) {
	return l.rt, nil
}

// scriptedRuntime replays events for every request and records the
// histories it was sent.
type scriptedRuntime struct {
	events []provider.Event
	hold   chan struct{} // when non-nil, sending waits for it after the first event

	mu    sync.Mutex
	calls [][]api.ChatMessage
}

func (r *scriptedRuntime) Model() string { return "scripted" }

func (r *scriptedRuntime) ChatStream(ctx context.Context, messages []api.ChatMessage, _ provider.GenerateOptions) (<-chan provider.Event, error) {
	r.mu.Lock()
	r.calls = append(r.calls, api.CloneMessages(messages))
	r.mu.Unlock()

	ch := make(chan provider.Event)
	go func() {
		defer close(ch)
		for i, ev := range r.events {
			if i == 1 && r.hold != nil {
				select {
				case <-r.hold:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *scriptedRuntime) Close() error { return nil }

func (r *scriptedRuntime) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *scriptedRuntime) lastCall() []api.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func deltas(parts ...string) []provider.Event {
	var evs []provider.Event
	for _, p := range parts {
		evs = append(evs, provider.Event{Type: provider.EventTextDelta, Delta: p})
	}
	return evs
}

func done() provider.Event {
	return provider.Event{Type: provider.EventDone, FinishReason: "stop", Usage: &api.Usage{PromptTokens: 3, CompletionTokens: 3, TotalTokens: 6}}
}

func failure() provider.Event {
	return provider.Event{Type: provider.EventError, Err: errors.New("connection reset")}
}

// readyManager returns a manager with the scripted runtime loaded.
func readyManager(t *testing.T, rt *scriptedRuntime) *engine.Manager {
	t.Helper()
	m := engine.NewManager(&scriptedLoader{rt: rt}, engine.Config{})
	t.Cleanup(func() { m.Close() })
	if _, err := m.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}
