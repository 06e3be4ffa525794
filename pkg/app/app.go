// Package app assembles plauder's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/plauder/pkg/auth"
	"github.com/rhuss/plauder/pkg/auth/apikey"
	"github.com/rhuss/plauder/pkg/auth/jwt"
	"github.com/rhuss/plauder/pkg/auth/noop"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/config"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/embedding"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/mcp"
	"github.com/rhuss/plauder/pkg/provider"
	"github.com/rhuss/plauder/pkg/provider/llamacpp"
	"github.com/rhuss/plauder/pkg/provider/openaicompat"
	"github.com/rhuss/plauder/pkg/retrieval"
	"github.com/rhuss/plauder/pkg/storage"
	"github.com/rhuss/plauder/pkg/storage/memory"
	"github.com/rhuss/plauder/pkg/storage/postgres"
	"github.com/rhuss/plauder/pkg/storage/sqlite"
	"github.com/rhuss/plauder/pkg/transport"
	transporthttp "github.com/rhuss/plauder/pkg/transport/http"
)

// App holds the wired components of one plauder process.
type App struct {
	Config *config.Config

	Engines   *engine.Manager
	Assembler *chat.Assembler
	Sessions  *chat.SessionStore
	Embedder  *embedding.Pipeline

	// Retrieval components, nil when retrieval is disabled. Watcher is
	// also nil when no watch directory is configured.
	Store     storage.Store
	Indexer   *retrieval.Indexer
	Retriever *retrieval.Retriever
	Watcher   *retrieval.Watcher
}

// InitLogging installs the default logger from cfg.
func InitLogging(cfg config.LoggingConfig) {
	debug.Init(debug.Options{
		Categories: cfg.Debug,
		Level:      cfg.Level,
		Format:     cfg.Format,
	})
}

// New builds every component cfg describes. Nothing is loaded yet: the
// engine stays absent until Initialize, and the embedding extractor is
// created on first use.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loader, err := NewLoader(cfg.Engine)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	a.Engines = engine.NewManager(loader, engine.Config{
		Model:       cfg.Engine.Model,
		QueueSize:   cfg.Engine.QueueSize,
		LoadTimeout: cfg.Engine.LoadTimeout,
		Defaults: provider.GenerateOptions{
			Temperature: cfg.Engine.Temperature,
			MaxTokens:   cfg.Engine.MaxTokens,
		},
	})

	factory, err := NewEmbeddingFactory(cfg.Embedding)
	if err != nil {
		a.Engines.Close()
		return nil, err
	}
	a.Embedder = embedding.NewPipeline(factory, embedding.WithNormalize(cfg.Embedding.Normalize))

	opts := []chat.Option{chat.WithSystemPrompt(cfg.Engine.SystemPrompt)}

	if cfg.Retrieval.Enabled {
		store, err := OpenStore(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store = store
		a.Indexer = retrieval.NewIndexer(store, a.Embedder, retrieval.ChunkOptions{
			Size:    cfg.Retrieval.ChunkSize,
			Overlap: cfg.Retrieval.ChunkOverlap,
		}, cfg.Storage.Type)
		a.Retriever = retrieval.NewRetriever(store, a.Embedder, retrieval.RetrieverConfig{
			TopK:     cfg.Retrieval.TopK,
			MinScore: cfg.Retrieval.MinScore,
		})
		opts = append(opts, chat.WithAugmenter(a.Retriever))

		if cfg.Retrieval.WatchDir != "" {
			a.Watcher = retrieval.NewWatcher(a.Indexer, retrieval.WatcherConfig{
				Dir:        cfg.Retrieval.WatchDir,
				Extensions: cfg.Retrieval.Extensions,
				Debounce:   cfg.Retrieval.Debounce,
			})
		}
	}

	a.Assembler = chat.NewAssembler(a.Engines, opts...)
	a.Sessions = chat.NewSessionStore(a.Assembler, cfg.Sessions.MaxSessions)

	slog.Info("components ready",
		"backend", loader.Name(),
		"model", cfg.Engine.Model,
		"embedding", factory.Name(),
		"retrieval", cfg.Retrieval.Enabled,
		"storage", storeType(cfg),
	)
	return a, nil
}

func storeType(cfg *config.Config) string {
	if !cfg.Retrieval.Enabled {
		return "none"
	}
	return cfg.Storage.Type
}

// NewLoader returns the provider loader for the configured backend.
func NewLoader(cfg config.EngineConfig) (provider.Loader, error) {
	switch cfg.Backend {
	case "openai":
		return openaicompat.NewLoader(openaicompat.Config{
			BaseURL: cfg.BackendURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}), nil
	case "llamacpp":
		return llamacpp.NewLoader(llamacpp.Config{
			ModelsDir:   cfg.ModelsDir,
			ContextSize: cfg.ContextSize,
			GPULayers:   cfg.GPULayers,
			Threads:     cfg.Threads,
		}), nil
	}
	return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
}

// NewEmbeddingFactory returns the extractor factory for the configured
// embedding backend.
func NewEmbeddingFactory(cfg config.EmbeddingConfig) (embedding.Factory, error) {
	switch cfg.Backend {
	case "tei":
		return embedding.NewTEIFactory(embedding.TEIConfig{URL: cfg.URL, Timeout: cfg.Timeout}), nil
	case "hash":
		return embedding.HashFactory{Dimensions: cfg.Dimensions}, nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
}

// OpenStore opens the configured document store.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(cfg.MaxSize), nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// NewAuthMiddleware builds the authentication and rate limiting middleware.
// With auth type "none" every request runs as the anonymous identity. With
// "jwt", configured API keys are checked first and other tokens fall through
// to JWT validation.
func NewAuthMiddleware(cfg config.AuthConfig, bypass []string) (transport.Middleware, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "none":
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
	case "apikey":
		if len(cfg.APIKeys) == 0 {
			return nil, fmt.Errorf("auth type apikey needs at least one key")
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(apiKeyEntries(cfg.APIKeys))}
	case "jwt":
		if len(cfg.APIKeys) > 0 {
			chain.Authenticators = append(chain.Authenticators, apikey.New(apiKeyEntries(cfg.APIKeys), apikey.PassUnknown()))
		}
		authn, err := jwt.New(jwt.Config{
			Secret:      []byte(cfg.JWT.Secret),
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			TenantClaim: cfg.JWT.TenantClaim,
			Leeway:      30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		chain.Authenticators = append(chain.Authenticators, authn)
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = auth.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	return auth.Middleware(chain, limiter, bypass), nil
}

func apiKeyEntries(keys []config.APIKeyConfig) []apikey.Entry {
	entries := make([]apikey.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, apikey.Entry{
			Key:      k.Key,
			Identity: auth.Identity{Subject: k.Subject, Tenant: k.Tenant, Scopes: k.Scopes},
		})
	}
	return entries
}

// Server builds the HTTP server over the app's components.
func (a *App) Server(version string) (*transporthttp.Server, error) {
	cfg := a.Config

	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
		bypass = append(bypass, metricsPath)
	}
	authMW, err := NewAuthMiddleware(cfg.Auth, bypass)
	if err != nil {
		return nil, err
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithMiddleware(authMW),
	}
	if cfg.MCP.Enabled {
		srv := mcp.NewServer(mcp.Services{
			Assembler: a.Assembler,
			Sessions:  a.Sessions,
			Embedder:  a.Embedder,
			Retriever: a.Retriever,
		}, version)
		opts = append(opts, transporthttp.WithMount(cfg.MCP.Path, mcp.Handler(srv)))
	}

	return transporthttp.NewServer(a.services(), opts...), nil
}

func (a *App) services() transporthttp.Services {
	return transporthttp.Services{
		Engines:   a.Engines,
		Assembler: a.Assembler,
		Sessions:  a.Sessions,
		Embedder:  a.Embedder,
		Store:     a.Store,
		Indexer:   a.Indexer,
		Retriever: a.Retriever,
	}
}

// Start launches background work: the document watcher and, when
// configured, the initial model load. Both stop with ctx.
func (a *App) Start(ctx context.Context) {
	if a.Watcher != nil {
		go func() {
			if err := a.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("document watcher stopped", "dir", a.Config.Retrieval.WatchDir, "error", err)
			}
		}()
	}
	if a.Config.Engine.AutoLoad {
		go a.autoLoad(ctx)
	}
}

func (a *App) autoLoad(ctx context.Context) {
	_, err := a.Engines.Initialize(ctx, func(p provider.Progress) {
		slog.Info("loading model", "progress", p.Text, "fraction", p.Fraction)
	})
	if err != nil {
		slog.Error("model load failed", "error", err)
		return
	}
	slog.Info("model ready", "model", a.Engines.Status().Model)
}

// Run starts background work and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context, version string) error {
	srv, err := a.Server(version)
	if err != nil {
		return err
	}
	a.Start(ctx)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the engine, the embedding extractor and the store.
func (a *App) Close() error {
	var errs []error
	if a.Engines != nil {
		errs = append(errs, a.Engines.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
