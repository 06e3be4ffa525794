package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/observability"
	"github.com/rhuss/plauder/pkg/provider"
)

const loadKey = "load"

// Manager owns at most one loaded Engine.
type Manager struct {
	loader provider.Loader
	cfg    Config

	group singleflight.Group

	// baseCtx outlives individual Initialize callers so that one caller
	// giving up does not abort the load for the others. Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	state        State
	engine       *Engine
	watchers     map[int]provider.ProgressFunc
	nextWatcher  int
	lastProgress provider.Progress
	lastErr      error
	loads        int
	readySince   time.Time
}

// NewManager returns a Manager in the absent state. Nothing is loaded until
// Initialize is called.
func NewManager(loader provider.Loader, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	observability.EngineState.Set(float64(StateAbsent))
	return &Manager{
		loader:   loader,
		cfg:      cfg,
		baseCtx:  ctx,
		cancel:   cancel,
		watchers: make(map[int]provider.ProgressFunc),
	}
}

// Initialize loads the model if no engine exists yet and returns the ready
// engine. It is idempotent: once ready it returns immediately without
// reporting progress. Concurrent callers share a single load and each
// receives its progress reports. When ctx ends first, the caller stops
// waiting and the load carries on.
func (m *Manager) Initialize(ctx context.Context, progress provider.ProgressFunc) (*Engine, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		e := m.engine
		m.mu.Unlock()
		return e, nil
	case StateClosed:
		m.mu.Unlock()
		return nil, api.ErrEngineClosed
	}
	id := -1
	if progress != nil {
		id = m.nextWatcher
		m.nextWatcher++
		m.watchers[id] = progress
	}
	m.mu.Unlock()

	defer m.unwatch(id)

	ch := m.group.DoChan(loadKey, m.load)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Engine returns the ready engine, or api.ErrNotInitialized when no load
// has completed successfully.
func (m *Manager) Engine() (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateReady:
		return m.engine, nil
	case StateClosed:
		return nil, api.ErrEngineClosed
	}
	return nil, api.ErrNotInitialized
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot for status reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:        m.state,
		Backend:      m.loader.Name(),
		Model:        m.cfg.Model,
		LoadAttempts: m.loads,
	}
	if m.state == StateLoading {
		st.Progress = m.lastProgress.Text
		st.Fraction = m.lastProgress.Fraction
	}
	if m.engine != nil {
		st.Model = m.engine.Model()
		since := m.readySince
		st.ReadySince = &since
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Close stops the engine worker and releases the runtime. A load in flight
// is cancelled. The manager cannot be initialized again.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	e := m.engine
	m.engine = nil
	m.mu.Unlock()

	m.cancel()
	observability.EngineState.Set(float64(StateClosed))
	if e != nil {
		return e.Close()
	}
	return nil
}

// load runs inside the singleflight group, so at most one executes at a time.
func (m *Manager) load() (any, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		// A previous flight finished between the caller's check and DoChan.
		e := m.engine
		m.mu.Unlock()
		return e, nil
	case StateClosed:
		m.mu.Unlock()
		return nil, api.ErrEngineClosed
	}
	m.state = StateLoading
	m.loads++
	m.lastErr = nil
	m.lastProgress = provider.Progress{}
	m.mu.Unlock()

	observability.EngineState.Set(float64(StateLoading))
	backend := m.loader.Name()
	slog.Info("loading model", "backend", backend, "model", m.cfg.Model)

	ctx := m.baseCtx
	if m.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.LoadTimeout)
		defer cancel()
	}

	start := time.Now()
	rt, err := m.loader.Load(ctx, m.cfg.Model, m.broadcast)
	elapsed := time.Since(start)
	observability.EngineLoadDuration.WithLabelValues(backend).Observe(elapsed.Seconds())

	if err != nil {
		loadErr := &api.LoadError{Model: m.cfg.Model, Err: err}
		m.mu.Lock()
		if m.state != StateClosed {
			m.state = StateAbsent
		}
		m.lastErr = loadErr
		m.mu.Unlock()

		observability.EngineLoadsTotal.WithLabelValues(backend, "failure").Inc()
		observability.EngineState.Set(float64(m.State()))
		slog.Error("model load failed", "backend", backend, "model", m.cfg.Model, "error", err)
		return nil, loadErr
	}

	e := newEngine(rt, m.cfg)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		e.Close()
		return nil, api.ErrEngineClosed
	}
	m.engine = e
	m.state = StateReady
	m.readySince = time.Now()
	m.mu.Unlock()

	observability.EngineLoadsTotal.WithLabelValues(backend, "success").Inc()
	observability.EngineState.Set(float64(StateReady))
	slog.Info("model ready", "backend", backend, "model", rt.Model(), "elapsed", elapsed.Round(time.Millisecond))
	return e, nil
}

// broadcast fans a progress report out to every waiting caller.
func (m *Manager) broadcast(p provider.Progress) {
	m.mu.Lock()
	m.lastProgress = p
	fns := make([]provider.ProgressFunc, 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	debug.Log("engine", "load progress", "text", p.Text, "fraction", p.Fraction)
	for _, fn := range fns {
		fn(p)
	}
}

func (m *Manager) unwatch(id int) {
	if id < 0 {
		return
	}
	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
}
