package openaicompat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/provider"
)

// Config holds settings for an OpenAI-compatible backend.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Loader connects to an OpenAI-compatible backend. The backend owns the
// model weights; loading only verifies that the model is served.
type Loader struct {
	cfg Config
}

var _ provider.Loader = (*Loader)(nil)

// NewLoader returns a Loader for the given backend.
func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg}
}

// Name returns "openai".
func (l *Loader) Name() string { return "openai" }

// Load probes the backend's model list. An empty model selects the first
// model the backend offers.
func (l *Loader) Load(ctx context.Context, model string, progress provider.ProgressFunc) (provider.Runtime, error) {
	start := time.Now()
	client := NewClient(l.cfg.BaseURL, l.cfg.APIKey, l.cfg.Timeout)

	progress.Report(provider.Progress{
		Text:    fmt.Sprintf("Connecting to %s", client.BaseURL()),
		Elapsed: time.Since(start),
	})

	models, err := client.ListModels(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	resolved, err := resolveModel(model, models)
	if err != nil {
		client.Close()
		return nil, err
	}

	progress.Report(provider.Progress{
		Text:     fmt.Sprintf("Model %s is ready", resolved),
		Fraction: 1,
		Elapsed:  time.Since(start),
	})

	return &runtime{client: client, model: resolved}, nil
}

func resolveModel(model string, models []provider.ModelInfo) (string, error) {
	if len(models) == 0 {
		if model == "" {
			return "", api.NewModelError("backend offers no models")
		}
		// Some servers (llama.cpp with a single model) return an empty list.
		return model, nil
	}
	if model == "" {
		return models[0].ID, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		if m.ID == model {
			return model, nil
		}
		ids = append(ids, m.ID)
	}
	return "", api.NewModelError(fmt.Sprintf("model %q is not served by the backend (available: %s)",
		model, strings.Join(ids, ", ")))
}

// runtime streams completions for one model through a Client.
type runtime struct {
	client *Client
	model  string
}

func (r *runtime) Model() string { return r.model }

func (r *runtime) ChatStream(ctx context.Context, messages []api.ChatMessage, opts provider.GenerateOptions) (<-chan provider.Event, error) {
	return r.client.Stream(ctx, TranslateToChat(r.model, messages, opts))
}

func (r *runtime) Close() error {
	return r.client.Close()
}
