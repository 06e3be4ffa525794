package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/plauder/pkg/app"
	"github.com/rhuss/plauder/pkg/embedding"
)

var embedCompare bool

var embedCmd = &cobra.Command{
	Use:   "embed TEXT...",
	Short: "Print the embedding of each argument",
	Long: `Print the mean-pooled embedding of each argument as a JSON array.

With --compare and exactly two arguments, print their cosine similarity
instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().BoolVar(&embedCompare, "compare", false, "print the cosine similarity of two texts")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	if embedCompare && len(args) != 2 {
		return fmt.Errorf("--compare needs exactly two texts, got %d", len(args))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	factory, err := app.NewEmbeddingFactory(cfg.Embedding)
	if err != nil {
		return err
	}
	pipeline := embedding.NewPipeline(factory, embedding.WithNormalize(cfg.Embedding.Normalize))
	defer pipeline.Close()

	for i, text := range args {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("argument %d is blank", i+1)
		}
	}
	vecs, err := pipeline.EmbedBatch(cmd.Context(), args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if embedCompare {
		fmt.Fprintf(out, "%.4f\n", embedding.Cosine(vecs[0], vecs[1]))
		return nil
	}
	enc := json.NewEncoder(out)
	for _, v := range vecs {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}
