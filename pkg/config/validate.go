package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Engine.Backend {
	case "openai":
		if c.Engine.BackendURL == "" {
			errs = append(errs, fmt.Errorf("engine.backend_url is required when engine.backend is \"openai\""))
		}
	case "llamacpp":
	default:
		errs = append(errs, fmt.Errorf("engine.backend must be \"openai\" or \"llamacpp\", got %q", c.Engine.Backend))
	}
	if c.Engine.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("engine.queue_size must be >= 0, got %d", c.Engine.QueueSize))
	}
	if t := c.Engine.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("engine.temperature must be within [0, 2], got %g", *t))
	}

	switch c.Embedding.Backend {
	case "tei":
		if c.Embedding.URL == "" {
			errs = append(errs, fmt.Errorf("embedding.url is required when embedding.backend is \"tei\""))
		}
	case "hash":
		if c.Embedding.Dimensions <= 0 {
			errs = append(errs, fmt.Errorf("embedding.dimensions must be > 0, got %d", c.Embedding.Dimensions))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.backend must be \"tei\" or \"hash\", got %q", c.Embedding.Backend))
	}

	if c.Retrieval.Enabled {
		if c.Retrieval.ChunkSize <= 0 {
			errs = append(errs, fmt.Errorf("retrieval.chunk_size must be > 0, got %d", c.Retrieval.ChunkSize))
		}
		if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
			errs = append(errs, fmt.Errorf("retrieval.chunk_overlap must be within [0, chunk_size), got %d", c.Retrieval.ChunkOverlap))
		}
		if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
			errs = append(errs, fmt.Errorf("retrieval.min_score must be within [-1, 1], got %g", c.Retrieval.MinScore))
		}
	}

	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"sqlite\", or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must be >= 0, got %d", c.Sessions.MaxSessions))
	}

	switch c.Auth.Type {
	case "none":
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"jwt\" or \"apikey\", got %q", c.Auth.Type))
	}
	seenKeys := make(map[string]bool)
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" && k.KeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
		}
		if k.Subject == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
		}
		if k.Key != "" {
			if seenKeys[k.Key] {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: duplicate key", i))
			}
			seenKeys[k.Key] = true
		}
	}
	if rl := c.Auth.RateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		errs = append(errs, fmt.Errorf("auth.rate_limit requires requests_per_second > 0 and burst > 0"))
	}

	switch c.Logging.Format {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
