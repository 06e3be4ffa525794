package provider

import "github.com/rhuss/plauder/pkg/api"

// EventType identifies the kind of a streamed runtime event.
type EventType int

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventType = iota

	// EventDone signals the model finished generating.
	EventDone

	// EventError signals the stream failed. Err is set.
	EventError
)

// String returns a readable name for logs.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one item of a streamed completion.
type Event struct {
	Type         EventType
	Delta        string
	FinishReason string
	Usage        *api.Usage
	Err          error
}
