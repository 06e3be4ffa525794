package engine

import (
	"context"
	"sync"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/observability"
	"github.com/rhuss/plauder/pkg/provider"
)

// Engine is a loaded model behind a single worker goroutine. The worker owns
// the runtime; generations run one at a time in submission order.
type Engine struct {
	runtime provider.Runtime
	cfg     Config

	jobs chan job

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

type job struct {
	ctx      context.Context
	messages []api.ChatMessage
	opts     provider.GenerateOptions
	out      chan provider.Event
}

func newEngine(rt provider.Runtime, cfg Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		runtime: rt,
		cfg:     cfg,
		jobs:    make(chan job, cfg.queueSize()),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Model returns the identifier of the loaded model.
func (e *Engine) Model() string {
	return e.runtime.Model()
}

// ChatStream queues a generation over messages and returns its event
// channel. The channel is closed after a done or error event, or when ctx
// is cancelled. It returns api.ErrEngineBusy when the queue is full and
// api.ErrEngineClosed after Close.
func (e *Engine) ChatStream(ctx context.Context, messages []api.ChatMessage, opts provider.GenerateOptions) (<-chan provider.Event, error) {
	j := job{
		ctx:      ctx,
		messages: api.CloneMessages(messages),
		opts:     e.cfg.merge(opts),
		out:      make(chan provider.Event, 16),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, api.ErrEngineClosed
	}
	select {
	case e.jobs <- j:
		observability.EngineQueueDepth.Set(float64(len(e.jobs)))
		return j.out, nil
	default:
		return nil, api.ErrEngineBusy
	}
}

// Close stops the worker, cancels any running generation and releases the
// runtime. Queued generations receive api.ErrEngineClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()
		<-e.done
		e.closeErr = e.runtime.Close()
	})
	return e.closeErr
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			e.drainQueue()
			return
		case j := <-e.jobs:
			observability.EngineQueueDepth.Set(float64(len(e.jobs)))
			e.serve(j)
		}
	}
}

// serve runs one generation to completion and forwards its events.
func (e *Engine) serve(j job) {
	defer close(j.out)

	if e.ctx.Err() != nil {
		j.out <- provider.Event{Type: provider.EventError, Err: api.ErrEngineClosed}
		return
	}
	if j.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	debug.Log("engine", "generation started", "messages", len(j.messages))

	src, err := e.runtime.ChatStream(ctx, j.messages, j.opts)
	if err != nil {
		e.forward(ctx, j.out, provider.Event{Type: provider.EventError, Err: err})
		return
	}

	for ev := range src {
		if !e.forward(ctx, j.out, ev) {
			break
		}
		if ev.Type == provider.EventDone || ev.Type == provider.EventError {
			break
		}
	}

	// The runtime closes src once ctx ends. Draining keeps it from
	// overlapping with the next generation.
	cancel()
	for range src {
	}
	debug.Log("engine", "generation finished")
}

func (e *Engine) forward(ctx context.Context, out chan<- provider.Event, ev provider.Event) bool {
	if ev.Type == provider.EventError && ctx.Err() != nil && e.ctx.Err() != nil {
		ev.Err = api.ErrEngineClosed
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		if e.ctx.Err() != nil {
			// Tell a still-listening consumer why the stream ended.
			select {
			case out <- provider.Event{Type: provider.EventError, Err: api.ErrEngineClosed}:
			default:
			}
		}
		return false
	}
}

func (e *Engine) drainQueue() {
	for {
		select {
		case j := <-e.jobs:
			select {
			case j.out <- provider.Event{Type: provider.EventError, Err: api.ErrEngineClosed}:
			default:
			}
			close(j.out)
		default:
			observability.EngineQueueDepth.Set(0)
			return
		}
	}
}
