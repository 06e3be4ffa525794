package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rhuss/plauder/pkg/provider"
)

// ErrNotCompiled is returned when the binary was built without the llama tag.
var ErrNotCompiled = errors.New("llamacpp: not compiled (build with -tags llama)")

// Config holds in-process inference settings.
type Config struct {
	ModelsDir   string // download directory (default ~/.plauder/models)
	ContextSize int    // context window (0 = model default)
	GPULayers   int    // layers offloaded to the GPU (0 = CPU only)
	Threads     int    // CPU threads (0 = auto)
}

// Loader resolves, downloads, and loads GGUF models.
type Loader struct {
	cfg        Config
	downloader *Downloader
}

var _ provider.Loader = (*Loader)(nil)

// NewLoader returns a Loader for cfg.
func NewLoader(cfg Config) *Loader {
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = DefaultModelsDir()
	}
	return &Loader{
		cfg:        cfg,
		downloader: &Downloader{Dir: cfg.ModelsDir},
	}
}

// Name returns "llamacpp".
func (l *Loader) Name() string { return "llamacpp" }

// Downloader exposes the loader's downloader for the pull command.
func (l *Loader) Downloader() *Downloader { return l.downloader }

// Load resolves model to a GGUF file, downloading it when needed, and maps it
// into memory. model is a registry ID, a path to a .gguf file, or empty for
// the default model.
func (l *Loader) Load(ctx context.Context, model string, progress provider.ProgressFunc) (provider.Runtime, error) {
	start := time.Now()
	path, err := l.Resolve(ctx, model, progress)
	if err != nil {
		return nil, err
	}

	progress.Report(provider.Progress{
		Text:    fmt.Sprintf("Loading weights from %s", path),
		Elapsed: time.Since(start),
	})

	rt, err := newRuntime(l.cfg, model, path)
	if err != nil {
		return nil, err
	}

	progress.Report(provider.Progress{
		Text:     "Model loaded",
		Fraction: 1,
		Elapsed:  time.Since(start),
	})
	return rt, nil
}

// Resolve returns the local GGUF path for model, downloading registry
// models that are not present yet.
func (l *Loader) Resolve(ctx context.Context, model string, progress provider.ProgressFunc) (string, error) {
	if strings.HasSuffix(model, ".gguf") {
		if _, err := os.Stat(model); err != nil {
			return "", fmt.Errorf("model file: %w", err)
		}
		return model, nil
	}

	info := DefaultModel()
	if model != "" {
		var ok bool
		info, ok = LookupModel(model)
		if !ok {
			return "", fmt.Errorf("unknown model %q", model)
		}
	}

	if l.downloader.IsDownloaded(info) {
		return l.downloader.Path(info), nil
	}
	progress.Report(provider.Progress{Text: fmt.Sprintf("Fetching %s", info.Name)})
	return l.downloader.Download(ctx, info, progress)
}
