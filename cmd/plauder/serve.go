package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rhuss/plauder/pkg/app"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and MCP server",
	Long: `Run the plauder server in the foreground until interrupted.

Equivalent to the standalone server binary. The listen port comes from the
configuration unless --port is given.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("plauder starting", "version", version, "port", cfg.Server.Port)
	return a.Run(ctx, version)
}
