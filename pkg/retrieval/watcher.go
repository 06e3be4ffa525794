package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rhuss/plauder/pkg/debug"
)

// DefaultExtensions are the file types a Watcher indexes.
var DefaultExtensions = []string{".md", ".txt"}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Dir        string
	Extensions []string      // default DefaultExtensions
	Debounce   time.Duration // default 500ms
}

// Watcher keeps a directory tree indexed. Files are ingested on start and
// re-ingested after they stop changing for the debounce interval; removed
// files are dropped from the store.
type Watcher struct {
	indexer *Indexer
	cfg     WatcherConfig
	exts    map[string]bool

	mu      sync.Mutex
	pending map[string]time.Time

	// indexed receives the source of every completed ingest or removal.
	// Used by tests.
	indexed func(source string)
}

// NewWatcher creates a Watcher for cfg.Dir.
func NewWatcher(indexer *Indexer, cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Watcher{
		indexer: indexer,
		cfg:     cfg,
		exts:    exts,
		pending: make(map[string]time.Time),
	}
}

// Run indexes existing files and then follows changes until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.cfg.Dir); err != nil {
		return err
	}
	w.scan(ctx)

	slog.Info("watching documents", "dir", w.cfg.Dir)

	ticker := time.NewTicker(w.cfg.Debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "error", err)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	debug.Log("retrieval", "file event", "path", event.Name, "op", event.Op.String())

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(fw, event.Name); err != nil {
				slog.Warn("watching new directory failed", "dir", event.Name, "error", err)
			}
			return
		}
	}
	if !w.wanted(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		w.mu.Lock()
		w.pending[event.Name] = time.Now()
		w.mu.Unlock()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
		w.remove(ctx, event.Name)
	}
}

// flush ingests files whose last change is older than the debounce interval.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, changed := range w.pending {
		if now.Sub(changed) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingest(ctx, path)
	}
}

func (w *Watcher) scan(ctx context.Context) {
	filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !w.wanted(path) {
			return nil
		}
		w.ingest(ctx, path)
		return nil
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	doc, err := w.indexer.IngestFile(ctx, w.cfg.Dir, path)
	if err != nil {
		slog.Warn("indexing file failed", "path", path, "error", err)
		return
	}
	if w.indexed != nil {
		w.indexed(doc.Source)
	}
}

func (w *Watcher) remove(ctx context.Context, path string) {
	source := sourceName(w.cfg.Dir, path)
	n, err := w.indexer.Remove(ctx, source)
	if err != nil {
		slog.Warn("removing file from index failed", "path", path, "error", err)
		return
	}
	debug.Log("retrieval", "file removed from index", "source", source, "documents", n)
	if w.indexed != nil {
		w.indexed(source)
	}
}

func (w *Watcher) wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
