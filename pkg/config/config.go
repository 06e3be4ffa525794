// Package config provides unified configuration for plauder.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. .env file in the working directory (never overrides the real environment)
//  3. YAML or TOML config file (discovered or explicitly specified)
//  4. Environment variable overrides (PLAUDER_ prefix)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for plauder.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Engine        EngineConfig        `yaml:"engine" toml:"engine"`
	Embedding     EmbeddingConfig     `yaml:"embedding" toml:"embedding"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" toml:"retrieval"`
	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	Sessions      SessionsConfig      `yaml:"sessions" toml:"sessions"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	MCP           MCPConfig           `yaml:"mcp" toml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`                         // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`         // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`       // default: 0 (streams are long lived)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"` // default: 30s
}

// EngineConfig holds inference engine settings.
type EngineConfig struct {
	Backend      string        `yaml:"backend" toml:"backend"`             // "openai" or "llamacpp", default: "openai"
	Model        string        `yaml:"model" toml:"model"`                 // empty selects the backend default
	BackendURL   string        `yaml:"backend_url" toml:"backend_url"`     // required for backend=openai
	APIKey       string        `yaml:"api_key" toml:"api_key"`             // optional
	APIKeyFile   string        `yaml:"api_key_file" toml:"api_key_file"`   // _file variant for api_key
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`             // per request, default: 5m
	LoadTimeout  time.Duration `yaml:"load_timeout" toml:"load_timeout"`   // default: 0 (none)
	QueueSize    int           `yaml:"queue_size" toml:"queue_size"`       // default: 8
	AutoLoad     bool          `yaml:"auto_load" toml:"auto_load"`         // initialize at startup
	SystemPrompt string        `yaml:"system_prompt" toml:"system_prompt"` // prepended to every conversation
	Temperature  *float64      `yaml:"temperature" toml:"temperature"`
	MaxTokens    *int          `yaml:"max_tokens" toml:"max_tokens"`

	// In-process (llamacpp) settings.
	ModelsDir   string `yaml:"models_dir" toml:"models_dir"`
	ContextSize int    `yaml:"context_size" toml:"context_size"`
	GPULayers   int    `yaml:"gpu_layers" toml:"gpu_layers"`
	Threads     int    `yaml:"threads" toml:"threads"`
}

// EmbeddingConfig holds embedding pipeline settings.
type EmbeddingConfig struct {
	Backend    string        `yaml:"backend" toml:"backend"`       // "tei" or "hash", default: "hash"
	URL        string        `yaml:"url" toml:"url"`               // required for backend=tei
	Dimensions int           `yaml:"dimensions" toml:"dimensions"` // hash backend only, default: 384
	Normalize  bool          `yaml:"normalize" toml:"normalize"`   // default: true
	Timeout    time.Duration `yaml:"timeout" toml:"timeout"`       // default: 30s
}

// RetrievalConfig holds document retrieval settings.
type RetrievalConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
	TopK         int           `yaml:"top_k" toml:"top_k"`                 // default: 4
	MinScore     float64       `yaml:"min_score" toml:"min_score"`         // default: 0.2
	ChunkSize    int           `yaml:"chunk_size" toml:"chunk_size"`       // default: 800 runes
	ChunkOverlap int           `yaml:"chunk_overlap" toml:"chunk_overlap"` // default: 100 runes
	WatchDir     string        `yaml:"watch_dir" toml:"watch_dir"`         // optional
	Extensions   []string      `yaml:"extensions" toml:"extensions"`       // default: .md, .txt
	Debounce     time.Duration `yaml:"debounce" toml:"debounce"`           // default: 500ms
}

// StorageConfig holds document store settings.
type StorageConfig struct {
	Type     string         `yaml:"type" toml:"type"`         // "memory", "sqlite", or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size" toml:"max_size"` // for memory store, default: 10000
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"` // default: plauder.db
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn" toml:"dsn"`
	DSNFile        string `yaml:"dsn_file" toml:"dsn_file"`                 // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns" toml:"max_conns"`               // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start" toml:"migrate_on_start"` // default: false
}

// SessionsConfig holds chat session settings.
type SessionsConfig struct {
	MaxSessions int `yaml:"max_sessions" toml:"max_sessions"` // default: 1000
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type" toml:"type"` // "none", "jwt" or "apikey", default: "none"
	JWT       JWTConfig       `yaml:"jwt" toml:"jwt"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys" toml:"api_keys"` // also accepted next to jwt
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// APIKeyConfig maps one static bearer key to an identity.
type APIKeyConfig struct {
	Key     string   `yaml:"key" toml:"key"`
	KeyFile string   `yaml:"key_file" toml:"key_file"` // _file variant for key
	Subject string   `yaml:"subject" toml:"subject"`
	Tenant  string   `yaml:"tenant" toml:"tenant"` // default: subject
	Scopes  []string `yaml:"scopes" toml:"scopes"`
}

// JWTConfig describes HS256 token validation.
type JWTConfig struct {
	Secret      string `yaml:"secret" toml:"secret"`
	SecretFile  string `yaml:"secret_file" toml:"secret_file"` // _file variant for secret
	Issuer      string `yaml:"issuer" toml:"issuer"`
	Audience    string `yaml:"audience" toml:"audience"`
	TenantClaim string `yaml:"tenant_claim" toml:"tenant_claim"` // default: "tenant_id"
}

// RateLimitConfig configures the per-subject token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" toml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"` // default: 5
	Burst             int     `yaml:"burst" toml:"burst"`                             // default: 10
}

// MCPConfig holds settings for the built-in MCP server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"` // default: "/mcp"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"` // default: true
	Path    string `yaml:"path" toml:"path"`       // default: "/metrics"
}

// LoggingConfig configures the default slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // default: "INFO"
	Format string `yaml:"format" toml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug" toml:"debug"`   // comma separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			Backend:   "openai",
			Timeout:   5 * time.Minute,
			QueueSize: 8,
		},
		Embedding: EmbeddingConfig{
			Backend:    "hash",
			Dimensions: 384,
			Normalize:  true,
			Timeout:    30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:         4,
			MinScore:     0.2,
			ChunkSize:    800,
			ChunkOverlap: 100,
			Extensions:   []string{".md", ".txt"},
			Debounce:     500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			SQLite: SQLiteConfig{
				Path: "plauder.db",
			},
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Sessions: SessionsConfig{
			MaxSessions: 1000,
		},
		Auth: AuthConfig{
			Type: "none",
			JWT: JWTConfig{
				TenantClaim: "tenant_id",
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				Burst:             10,
			},
		},
		MCP: MCPConfig{
			Path: "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
