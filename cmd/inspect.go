package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/brensch/marcreport/internal/inspector"
)

// inspectCmd summarises a written report.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarise the bookplate report per archive using DuckDB",
	Long:  `Reads the Parquet bookplate report at --report-path through DuckDB and shows, for each archive, the row count and the number of distinct MMS ids and bookplate URLs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		counts, err := inspector.Summarize(cmd.Context(), getDB(), cfg.ReportPath, logger)
		if err != nil {
			logger.Error("Inspection failed", "error", err)
			return fmt.Errorf("inspection failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(counts) == 0 {
			fmt.Fprintf(out, "%s contains no bookplate rows.\n", cfg.ReportPath)
			return nil
		}

		var total int64
		rows := make([][]string, 0, len(counts)+1)
		for _, c := range counts {
			total += c.Rows
			rows = append(rows, []string{
				c.Archive,
				strconv.FormatInt(c.Rows, 10),
				strconv.FormatInt(c.DistinctMMS, 10),
				strconv.FormatInt(c.DistinctURLs, 10),
			})
		}
		rows = append(rows, []string{"total", strconv.FormatInt(total, 10), "", ""})
		fmt.Fprintln(out, renderTable(
			[]string{"Archive", "Rows", "MMS ids", "URLs"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
		))
		return nil
	},
}
