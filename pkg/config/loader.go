package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. .env file (PLAUDER_ENV_FILE or ./.env), variables already set win
//  3. Config file (explicit path, PLAUDER_CONFIG env, ./config.yaml, ./config.toml, /etc/plauder/config.yaml)
//  4. PLAUDER_* environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from a dotenv file.
// A missing default file is not an error; a missing explicit one is.
func loadDotEnv() error {
	path := os.Getenv("PLAUDER_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PLAUDER_CONFIG environment variable
// 3. ./config.yaml, then ./config.toml in the current directory
// 4. /etc/plauder/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("PLAUDER_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"config.toml",
		"/etc/plauder/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadFile reads a config file into cfg, picking the decoder by extension.
// Fields not present in the file retain their current (default) values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// applyEnvOverrides maps PLAUDER_* environment variables to config fields.
// Malformed numeric or duration values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	integer("PLAUDER_PORT", &cfg.Server.Port)

	str("PLAUDER_BACKEND", &cfg.Engine.Backend)
	str("PLAUDER_BACKEND_URL", &cfg.Engine.BackendURL)
	str("PLAUDER_MODEL", &cfg.Engine.Model)
	str("PLAUDER_API_KEY", &cfg.Engine.APIKey)
	str("PLAUDER_SYSTEM_PROMPT", &cfg.Engine.SystemPrompt)
	str("PLAUDER_MODELS_DIR", &cfg.Engine.ModelsDir)
	boolean("PLAUDER_AUTO_LOAD", &cfg.Engine.AutoLoad)
	duration("PLAUDER_LOAD_TIMEOUT", &cfg.Engine.LoadTimeout)
	integer("PLAUDER_GPU_LAYERS", &cfg.Engine.GPULayers)

	str("PLAUDER_EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	str("PLAUDER_EMBEDDING_URL", &cfg.Embedding.URL)

	boolean("PLAUDER_RETRIEVAL", &cfg.Retrieval.Enabled)
	str("PLAUDER_WATCH_DIR", &cfg.Retrieval.WatchDir)

	str("PLAUDER_STORAGE", &cfg.Storage.Type)
	integer("PLAUDER_STORAGE_SIZE", &cfg.Storage.MaxSize)
	str("PLAUDER_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	str("PLAUDER_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)

	str("PLAUDER_AUTH_TYPE", &cfg.Auth.Type)
	str("PLAUDER_JWT_SECRET", &cfg.Auth.JWT.Secret)

	boolean("PLAUDER_MCP", &cfg.MCP.Enabled)

	str("PLAUDER_LOG_FORMAT", &cfg.Logging.Format)

	return errors.Join(errs...)
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	type fileRef struct {
		name  string
		file  string
		value *string
	}
	refs := []fileRef{
		{"engine.api_key_file", cfg.Engine.APIKeyFile, &cfg.Engine.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, fileRef{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
