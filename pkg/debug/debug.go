// Package debug provides category-based debug logging for plauder.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): PLAUDER_DEBUG env or logging.debug config
//   - Levels (HOW MUCH detail): PLAUDER_LOG_LEVEL env or logging.level config
//
// Usage:
//
//	debug.Log("engine", "load progress", "text", p.Text)
//	if debug.Enabled("providers") { /* expensive formatting */ }
//
// Categories: engine, providers, chat, embedding, retrieval, storage,
// transport, auth, mcp, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, individual stream deltas and request bodies are logged.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories. It is swapped
// atomically by Init so that tests may reconfigure it.
var categories atomic.Pointer[map[string]bool]

func init() {
	// Available before Init runs, so package init code can log.
	setCategories(parseCategories(os.Getenv("PLAUDER_DEBUG")))
}

// Options configures the default logger.
type Options struct {
	Categories string    // comma separated category list
	Level      string    // ERROR, WARN, INFO, DEBUG, TRACE
	Format     string    // "text" (default) or "json"
	Output     io.Writer // default os.Stderr
}

// Init configures the debug system and installs the default slog logger.
// Environment variables take precedence over opts.
func Init(opts Options) {
	cats := os.Getenv("PLAUDER_DEBUG")
	if cats == "" {
		cats = opts.Categories
	}
	setCategories(parseCategories(cats))

	level := os.Getenv("PLAUDER_LOG_LEVEL")
	if level == "" {
		level = opts.Level
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	m := *categories.Load()
	return m["all"] || m[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when PLAUDER_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !TraceIsEnabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the sorted list of enabled categories.
func Categories() []string {
	m := *categories.Load()
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Truncate returns s truncated to maxLen bytes, with "..." appended if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func setCategories(m map[string]bool) {
	categories.Store(&m)
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
