package engine

import (
	"time"

	"github.com/rhuss/plauder/pkg/provider"
)

// Config holds engine manager settings.
type Config struct {
	// Model is the identifier passed to the loader. Empty lets the loader
	// pick its default.
	Model string

	// QueueSize bounds the number of generation jobs waiting for the
	// worker. Zero or negative means the default of 8.
	QueueSize int

	// LoadTimeout bounds a single load attempt. Zero means no limit.
	LoadTimeout time.Duration

	// Defaults are applied to options a request leaves unset.
	Defaults provider.GenerateOptions
}

func (c Config) queueSize() int {
	if c.QueueSize <= 0 {
		return 8
	}
	return c.QueueSize
}

// merge fills unset fields of opts from the configured defaults.
func (c Config) merge(opts provider.GenerateOptions) provider.GenerateOptions {
	if opts.Temperature == nil {
		opts.Temperature = c.Defaults.Temperature
	}
	if opts.MaxTokens == nil {
		opts.MaxTokens = c.Defaults.MaxTokens
	}
	if len(opts.Stop) == 0 {
		opts.Stop = c.Defaults.Stop
	}
	return opts
}
