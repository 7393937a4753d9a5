package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brensch/marcreport/internal/saver"
)

var saveOutputDir string

// saveCmd exports the event log tables.
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Saves the event log tables to Parquet files",
	Long: `Saves each table in the DuckDB event log database into a separate
Parquet file. Files go to --output, or next to the database when unset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		outputDir := saveOutputDir
		if outputDir == "" {
			outputDir = filepath.Dir(cfg.DbPath)
		}

		logger.Info("Starting table save process...",
			slog.String("db_path", cfg.DbPath),
			slog.String("output_dir", outputDir),
		)

		files, err := saver.SaveTablesToParquet(cmd.Context(), getDB(), outputDir, logger)
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		if err != nil {
			logger.Error("Save process completed with errors", "error", err)
			return fmt.Errorf("save failed: %w", err)
		}

		logger.Info("Table save process completed successfully.", "files", len(files))
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveOutputDir, "output", "o", "", "Directory for the exported Parquet files")
}
