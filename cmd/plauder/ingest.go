package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/plauder/pkg/app"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest PATH...",
	Short: "Index files into the document store",
	Long: `Chunk, embed, and store the given files. Directories are walked
recursively and only files with a configured retrieval extension are
indexed. Re-ingesting a file replaces its earlier chunks.

The in-memory store does not survive the command, so configure sqlite or
postgres storage for ingestion to be useful.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Retrieval.Enabled = true
	if cfg.Storage.Type == "memory" {
		slog.Warn("ingesting into the in-memory store, documents are discarded on exit")
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	var docs, chunks, failed int
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		root := filepath.Dir(arg)
		if info.IsDir() {
			root = arg
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if info.IsDir() && !slices.Contains(cfg.Retrieval.Extensions, ext) {
				return nil
			}
			doc, err := a.Indexer.IngestFile(ctx, root, path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				return nil
			}
			docs++
			chunks += doc.Chunks
			fmt.Fprintf(out, "%s\t%s\t%d chunks\n", doc.ID, doc.Source, doc.Chunks)
			return ctx.Err()
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "indexed %d documents (%d chunks) into %s storage\n", docs, chunks, cfg.Storage.Type)
	if failed > 0 {
		return fmt.Errorf("%d files failed", failed)
	}
	return nil
}
