package chat

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/observability"
	"github.com/rhuss/plauder/pkg/provider"
)

// errIncompleteStream is reported when the engine closes a stream without a
// done or error event.
var errIncompleteStream = errors.New("stream ended before completion")

// Stream is a single-pass sequence of completion chunks. It is not safe for
// concurrent use, except for Close.
type Stream struct {
	ctx    context.Context
	events <-chan provider.Event
	cancel context.CancelFunc

	chunk        api.StreamChunk
	err          error
	finished     bool
	finishReason string
	usage        *api.Usage

	received  int
	started   time.Time
	closeOnce sync.Once
}

func newStream(ctx context.Context, events <-chan provider.Event, cancel context.CancelFunc) *Stream {
	return &Stream{
		ctx:     ctx,
		events:  events,
		cancel:  cancel,
		started: time.Now(),
	}
}

// Next advances to the next chunk. It returns false once the stream has
// completed, failed or been closed; Err tells which.
func (s *Stream) Next() bool {
	if s.finished {
		return false
	}
	for {
		ev, ok := <-s.events
		if !ok {
			if s.err == nil && s.finishReason == "" {
				s.err = s.ctx.Err()
				if s.err == nil {
					s.err = errIncompleteStream
				}
			}
			s.finish()
			return false
		}

		switch ev.Type {
		case provider.EventTextDelta:
			delta := ev.Delta
			s.chunk = api.StreamChunk{Delta: &delta}
			if s.received == 0 {
				observability.ChatFirstChunkLatency.Observe(time.Since(s.started).Seconds())
			}
			s.received++
			observability.ChatChunksTotal.Inc()
			return true
		case provider.EventDone:
			s.finishReason = ev.FinishReason
			if s.finishReason == "" {
				s.finishReason = "stop"
			}
			s.usage = ev.Usage
			s.finish()
			return false
		case provider.EventError:
			s.err = ev.Err
			if s.err == nil {
				s.err = errIncompleteStream
			}
			s.finish()
			return false
		}
	}
}

// Chunk returns the chunk Next advanced to.
func (s *Stream) Chunk() api.StreamChunk {
	return s.chunk
}

// Err returns the error that ended the stream, or nil after a normal finish.
func (s *Stream) Err() error {
	return s.err
}

// FinishReason returns the model's finish reason once the stream completed.
func (s *Stream) FinishReason() string {
	return s.finishReason
}

// Usage returns token usage when the backend reported it.
func (s *Stream) Usage() *api.Usage {
	return s.usage
}

// Received returns the number of chunks delivered so far.
func (s *Stream) Received() int {
	return s.received
}

// All returns the remaining chunks as an iterator. Check Err afterwards.
func (s *Stream) All() iter.Seq[api.StreamChunk] {
	return func(yield func(api.StreamChunk) bool) {
		for s.Next() {
			if !yield(s.Chunk()) {
				return
			}
		}
	}
}

// Close abandons the stream. The engine stops generating without the
// remaining chunks being read.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	return nil
}

func (s *Stream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.chunk = api.StreamChunk{}
	s.Close()

	result := "success"
	switch {
	case s.err == nil:
	case errors.Is(s.err, context.Canceled), errors.Is(s.err, context.DeadlineExceeded):
		result = "cancelled"
	default:
		result = "error"
	}
	observability.ChatStreamsTotal.WithLabelValues(result).Inc()
}
