package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rhuss/plauder/pkg/provider"
	"github.com/rhuss/plauder/pkg/provider/llamacpp"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage local GGUF models for the llamacpp backend",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available and downloaded models",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

var modelsPullCmd = &cobra.Command{
	Use:   "pull [MODEL]",
	Short: "Download a model (default: the configured or default model)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModelsPull,
}

var modelsRemoveCmd = &cobra.Command{
	Use:   "remove MODEL",
	Short: "Remove a downloaded model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsRemove,
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsCmd.AddCommand(modelsRemoveCmd)
	rootCmd.AddCommand(modelsCmd)
}

// downloader returns the downloader for the configured models directory.
func downloader() (*llamacpp.Downloader, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	dir := cfg.Engine.ModelsDir
	if dir == "" {
		dir = llamacpp.DefaultModelsDir()
	}
	return &llamacpp.Downloader{Dir: dir}, cfg.Engine.Model, nil
}

func lookupModel(id string) (llamacpp.ModelInfo, error) {
	if id == "" {
		return llamacpp.DefaultModel(), nil
	}
	m, ok := llamacpp.LookupModel(id)
	if !ok {
		return llamacpp.ModelInfo{}, fmt.Errorf("unknown model %q (see 'plauder models list')", id)
	}
	return m, nil
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	d, _, err := downloader()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tDOWNLOADED\tDEFAULT")
	for _, m := range llamacpp.ListModels() {
		downloaded := "no"
		if d.IsDownloaded(m) {
			downloaded = "yes"
		}
		def := ""
		if m.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, humanSize(m.Size), downloaded, def)
	}
	return w.Flush()
}

func runModelsPull(cmd *cobra.Command, args []string) error {
	d, configured, err := downloader()
	if err != nil {
		return err
	}
	id := configured
	if len(args) == 1 {
		id = args[0]
	}
	model, err := lookupModel(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if d.IsDownloaded(model) {
		fmt.Fprintf(out, "Model %q is already downloaded at %s\n", model.Name, d.Path(model))
		return nil
	}

	fmt.Fprintf(out, "Downloading %s (%s)...\n", model.Name, humanSize(model.Size))
	path, err := d.Download(cmd.Context(), model, func(p provider.Progress) {
		fmt.Fprintf(os.Stderr, "\r\033[K  %s", p.Text)
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	fmt.Fprintf(out, "\nModel saved to %s\n", path)
	return nil
}

func runModelsRemove(cmd *cobra.Command, args []string) error {
	d, _, err := downloader()
	if err != nil {
		return err
	}
	model, err := lookupModel(args[0])
	if err != nil {
		return err
	}
	if !d.IsDownloaded(model) {
		return fmt.Errorf("model %q is not downloaded", model.ID)
	}
	if err := d.RemoveModel(model); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", d.Path(model))
	return nil
}
