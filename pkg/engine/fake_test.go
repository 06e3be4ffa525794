package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/provider"
)

// fakeLoader counts loads and can be told to block or fail.
type fakeLoader struct {
	calls   atomic.Int32
	release chan struct{} // when non-nil, Load waits for it
	started chan struct{} // closed once Load begins, when non-nil

	mu       sync.Mutex
	failures int // number of upcoming loads that fail
	deltas   []string
}

func (l *fakeLoader) Name() string { return "fake" }

func (l *fakeLoader) Load(ctx context.Context, model string, progress provider.ProgressFunc) (provider.Runtime, error) {
	n := l.calls.Add(1)
	if l.started != nil && n == 1 {
		close(l.started)
	}
	progress.Report(provider.Progress{Text: "fetching", Fraction: 0.5})
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	progress.Report(provider.Progress{Text: "ready", Fraction: 1})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("weights unreadable")
	}
	if model == "" {
		model = "fake-model"
	}
	return &fakeRuntime{model: model, deltas: l.deltas}, nil
}

// fakeRuntime streams the configured deltas followed by a done event.
type fakeRuntime struct {
	model  string
	deltas []string
	block  chan struct{} // when non-nil, ChatStream waits on it before each delta
	failAt int           // 1-based delta index replaced by an error, 0 for none

	closed atomic.Bool
}

func (r *fakeRuntime) Model() string { return r.model }

func (r *fakeRuntime) ChatStream(ctx context.Context, messages []api.ChatMessage, opts provider.GenerateOptions) (<-chan provider.Event, error) {
	ch := make(chan provider.Event)
	go func() {
		defer close(ch)
		send := func(ev provider.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for i, d := range r.deltas {
			if r.block != nil {
				select {
				case <-r.block:
				case <-ctx.Done():
					return
				}
			}
			if r.failAt == i+1 {
				send(provider.Event{Type: provider.EventError, Err: errors.New("decode failed")})
				return
			}
			if !send(provider.Event{Type: provider.EventTextDelta, Delta: d}) {
				return
			}
		}
		send(provider.Event{Type: provider.EventDone, FinishReason: "stop"})
	}()
	return ch, nil
}

func (r *fakeRuntime) Close() error {
	r.closed.Store(true)
	return nil
}
