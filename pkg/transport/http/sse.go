package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/plauder/pkg/transport"
)

// errWriterCompleted is returned for writes after a terminal event.
var errWriterCompleted = errors.New("cannot write event: writer is completed")

// writerState tracks the state of an SSE writer.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal event sent
)

// sseWriter implements transport.EventWriter for HTTP/SSE responses.
// Headers are sent with the first event, so a handler that fails before
// streaming can still answer with a plain JSON error.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

var _ transport.EventWriter = (*sseWriter)(nil)

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteEvent sends a single SSE event. The event is formatted as:
//
//	event: {name}\n
//	data: {json}\n
//	\n
func (s *sseWriter) WriteEvent(ctx context.Context, name string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errWriterCompleted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if s.state == writerIdle {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.state = writerStreaming
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if transport.IsTerminal(name) {
		s.state = writerCompleted
	}
	return nil
}

// started reports whether any event has been written.
func (s *sseWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != writerIdle
}

// close marks the writer completed so late writers, such as progress
// callbacks still in flight, never touch the ResponseWriter after the
// handler has returned.
func (s *sseWriter) close() {
	s.mu.Lock()
	s.state = writerCompleted
	s.mu.Unlock()
}
