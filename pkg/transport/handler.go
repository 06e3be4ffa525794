package transport

import "context"

// Event names shared by all streaming surfaces.
const (
	EventProgress = "progress" // engine load progress
	EventReady    = "ready"    // engine finished loading
	EventDraft    = "draft"    // partial assistant message
	EventFinal    = "final"    // completed turn or message
	EventError    = "error"    // terminal failure
)

// IsTerminal reports whether name ends a stream.
func IsTerminal(name string) bool {
	switch name {
	case EventReady, EventFinal, EventError:
		return true
	}
	return false
}

// EventWriter abstracts streaming output for a single request. The
// transport creates one per request and hands it to the code producing
// events.
//
// Writing after a terminal event (ready, final, or error) returns an error.
type EventWriter interface {
	// WriteEvent serializes data as JSON and sends it under the given
	// event name. Returns an error if the client has gone away.
	WriteEvent(ctx context.Context, name string, data any) error
}

// EventWriterFunc is an adapter that allows using an ordinary function
// as an EventWriter.
type EventWriterFunc func(ctx context.Context, name string, data any) error

// WriteEvent calls f(ctx, name, data).
func (f EventWriterFunc) WriteEvent(ctx context.Context, name string, data any) error {
	return f(ctx, name, data)
}
