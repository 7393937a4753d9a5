package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/marcreport/internal/app"
	"github.com/brensch/marcreport/internal/config"
	"github.com/brensch/marcreport/internal/db"
	"github.com/brensch/marcreport/internal/orchestrator"
	"github.com/brensch/marcreport/internal/report"
)

// runReport processes the full export and writes the bookplate report.
func runReport(ctx context.Context, out io.Writer, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, tui bool) error {
	if dir := filepath.Dir(cfg.ReportPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.FullOutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Log lines written to the terminal would tear the TUI.
	runLogger := logger
	if tui && logFile == nil {
		runLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	writer, err := report.Create(cfg.ReportPath, runLogger)
	if err != nil {
		return err
	}

	events := db.NewEventLog(dbConn, runLogger)
	events.RunStarted(ctx, cfg.FullSourceDir)
	runLogger.Info("Recording run in event log.", "run_id", events.RunID(), "source", cfg.FullSourceDir, "output", cfg.FullOutputDir, "report", cfg.ReportPath)

	opts := orchestrator.OptionsFromConfig(cfg)
	opts.Rows = writer

	var summary orchestrator.Summary
	var runErr error
	if tui {
		summary, runErr = runWithTUI(ctx, opts, events, runLogger)
	} else {
		summary, runErr = orchestrator.Run(ctx, opts, events, runLogger)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("failed to finalize report %s: %w", cfg.ReportPath, closeErr)
	}
	events.RunFinished(ctx, cfg.FullSourceDir, summary)

	written := writer.Rows()
	if written != summary.Rows {
		logger.Warn("Report row count differs from run summary.", "written", written, "summary_rows", summary.Rows)
	}
	logger.Info("Report run complete.",
		"run_id", events.RunID(),
		"processed", summary.Processed,
		"failed", summary.Failed,
		"rows", written,
		"duration", summary.Duration.Round(time.Millisecond),
	)
	printSummary(out, cfg.ReportPath, events.RunID(), written, summary)

	return errors.Join(runErr, closeErr)
}

func runWithTUI(ctx context.Context, opts orchestrator.Options, events *db.EventLog, logger *slog.Logger) (orchestrator.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := app.NewModel("MARC bookplate report", cancel)
	p := tea.NewProgram(model, tea.WithContext(ctx))
	sink := app.NewSink(p)
	opts.Progress = sink.Progress

	type result struct {
		summary orchestrator.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := orchestrator.Run(runCtx, opts, orchestrator.MultiSink(events, sink), logger)
		sink.Done(s, err)
		done <- result{s, err}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Warn("Progress view stopped unexpectedly", "error", err)
		cancel()
	}
	// The program may have quit early; the run always finishes.
	res := <-done
	return res.summary, res.err
}

func printSummary(out io.Writer, reportPath, runID string, reportRows int, s orchestrator.Summary) {
	rows := [][]string{
		{"Run", runID},
		{"Archives found", strconv.Itoa(s.Discovered)},
		{"Archives selected", strconv.Itoa(s.Selected)},
		{"Processed", strconv.Itoa(s.Processed)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Records", strconv.Itoa(s.Records)},
		{"Skipped segments", strconv.Itoa(s.Skipped)},
		{"Bookplate rows", strconv.Itoa(reportRows)},
		{"Report", reportPath},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(s.Failures) == 0 {
		return
	}
	failures := make([][]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		failures = append(failures, []string{f.Archive, string(f.Stage), f.Err.Error()})
	}
	fmt.Fprintln(out, renderTable([]string{"Archive", "Stage", "Error"}, failures, nil))
}

// runDailyUpdate is a placeholder for the external daily database job.
func runDailyUpdate(cfg config.Config, logger *slog.Logger) {
	logger.Info("Will update daily db.", "source", cfg.DailySourceDir)
}
