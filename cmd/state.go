package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/marcreport/internal/db"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateRunID       string
	stateFile        string
	stateFailures    bool
)

// stateCmd shows the event log history.
var stateCmd = &cobra.Command{
	Use:   "state [filetype]",
	Short: "View the event log history for runs, archives and content files",
	Long: `Queries the DuckDB event log and displays the history, newest first.
Specify 'run', 'archive' or 'content' as an optional argument to filter by file type.
Use --file to show only the latest event for one file, or --failures with
--run to list the archives that failed in one run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		filetype := ""
		if len(args) > 0 {
			switch strings.ToLower(args[0]) {
			case "run", "runs":
				filetype = db.FileTypeRun
			case "archive", "archives":
				filetype = db.FileTypeArchive
			case "content", "contents":
				filetype = db.FileTypeContent
			default:
				return fmt.Errorf("invalid filetype filter: %s (use 'run', 'archive' or 'content')", args[0])
			}
		}

		if stateFailures {
			if stateRunID == "" {
				return fmt.Errorf("--failures needs --run <run id>")
			}
			return showFailures(ctx, out, getDB(), stateRunID, logger)
		}

		if stateFile != "" {
			if filetype == "" {
				filetype = db.FileTypeArchive
			}
			event, ts, msg, found, err := db.GetLatestFileEvent(ctx, getDB(), stateFile, filetype)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(out, "No events recorded for %s %s.\n", filetype, stateFile)
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Type", "Event", "Timestamp", "Message"},
				[][]string{{stateFile, filetype, event, ts.Format(time.RFC3339), msg}},
				nil,
			))
			return nil
		}

		logger.Info("Querying database event log", "type_filter", filetype, "event_filter", stateFilterEvent, "run", stateRunID, "limit", stateLimit)
		events, err := db.FileHistory(ctx, getDB(), db.HistoryFilter{
			RunID:    stateRunID,
			Filetype: filetype,
			Event:    stateFilterEvent,
			Limit:    stateLimit,
		})
		if err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No matching events in the log.")
			return nil
		}

		rows := make([][]string, 0, len(events))
		for _, ev := range events {
			rows = append(rows, []string{
				ev.Timestamp.Format("2006-01-02 15:04:05"),
				shortRunID(ev.RunID),
				ev.Filetype,
				ev.Filename,
				ev.Event,
				optInt(ev.Records),
				optDuration(ev.Duration),
				ev.Message,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Timestamp", "Run", "Type", "File", "Event", "Records", "Duration", "Message"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g., process_start, process_end, error)")
	stateCmd.Flags().StringVar(&stateRunID, "run", "", "Only show events from this run id")
	stateCmd.Flags().StringVar(&stateFile, "file", "", "Show the latest event for a single file")
	stateCmd.Flags().BoolVar(&stateFailures, "failures", false, "List the failed archives of the run given with --run")
}

func showFailures(ctx context.Context, out io.Writer, conn *sql.DB, runID string, logger *slog.Logger) error {
	failures, err := db.GetFailures(ctx, conn, runID, logger)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Fprintf(out, "No failures recorded for run %s.\n", runID)
		return nil
	}
	rows := make([][]string, 0, len(failures))
	for _, ev := range failures {
		rows = append(rows, []string{ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Filename, ev.Message})
	}
	fmt.Fprintln(out, renderTable([]string{"Timestamp", "Archive", "Error"}, rows, nil))
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optDuration(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return d.Round(time.Millisecond).String()
}
