package provider

import (
	"context"
	"time"

	"github.com/rhuss/plauder/pkg/api"
)

// Loader constructs model runtimes. Load may take a long time (downloads,
// weight mapping); progress is reported through the optional callback.
type Loader interface {
	// Name returns the backend identifier (e.g., "openai", "llamacpp").
	Name() string

	// Load prepares the model and returns a ready Runtime.
	Load(ctx context.Context, model string, progress ProgressFunc) (Runtime, error)
}

// Runtime is a loaded model execution context. Implementations need not be
// safe for concurrent generations; the engine serializes calls.
type Runtime interface {
	// Model returns the identifier the runtime was loaded for.
	Model() string

	// ChatStream starts a streaming completion over the full message
	// history. The returned channel is closed when the stream completes,
	// errors, or ctx is cancelled.
	ChatStream(ctx context.Context, messages []api.ChatMessage, opts GenerateOptions) (<-chan Event, error)

	// Close releases the runtime.
	Close() error
}

// Progress is a single load progress report.
type Progress struct {
	Text     string        `json:"text"`
	Fraction float64       `json:"progress"` // 0..1, or 0 when unknown
	Elapsed  time.Duration `json:"-"`
}

// ProgressFunc receives load progress reports.
type ProgressFunc func(Progress)

// Report calls fn if it is non-nil.
func (fn ProgressFunc) Report(p Progress) {
	if fn != nil {
		fn(p)
	}
}

// GenerateOptions are sampling parameters applied to a single completion.
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   *int
	Stop        []string
}

// ModelInfo describes a model offered by a backend.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}
