// Command server runs the plauder chat server.
//
// The server takes no flags. Configuration comes from the file named by
// PLAUDER_CONFIG (or ./config.yaml, ./config.toml, /etc/plauder/config.yaml)
// with PLAUDER_* environment overrides, for example:
//
//	PLAUDER_CONFIG       - YAML or TOML config file
//	PLAUDER_BACKEND_URL  - OpenAI-compatible backend URL (backend=openai)
//	PLAUDER_MODEL        - Model to load (optional)
//	PLAUDER_PORT         - Listen port (default: 8080)
//	PLAUDER_AUTO_LOAD    - Load the model at startup (default: false)
//	PLAUDER_RETRIEVAL    - Enable document retrieval (default: false)
//	PLAUDER_STORAGE      - Document store: "memory", "sqlite" or "postgres"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhuss/plauder/pkg/app"
	"github.com/rhuss/plauder/pkg/config"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	app.InitLogging(cfg.Logging)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("plauder starting", "version", version, "port", cfg.Server.Port)
	return a.Run(ctx, version)
}
