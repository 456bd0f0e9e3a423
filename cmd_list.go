package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/storage"
)

// listCmd creates the list command.
func listCmd() *cobra.Command {
	var (
		outputDir string
		container string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished segment files",
		Example: `  segrec list
  segrec list --container caf --output-dir ./recordings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}

			var c audio.Container
			if container != "" {
				if c, err = audio.ParseContainer(container); err != nil {
					return err
				}
			}

			store, err := storage.NewLocalStorage(cfg.OutputDir)
			if err != nil {
				return fmt.Errorf("%w: %w", errSetup, err)
			}
			files, err := store.ListSegments(cmd.Context(), c)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%d\t%s\n", f.Name, f.Size, f.ModTime.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Segment directory (overrides OUTPUT_DIR)")
	cmd.Flags().StringVarP(&container, "container", "c", "", "Only list this container (wav, caf, m4a, pcm)")
	return cmd
}
