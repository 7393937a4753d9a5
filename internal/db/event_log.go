package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/marcreport/internal/orchestrator"
)

// EventLog records orchestrator notifications in marc_event_log under a
// fresh run id. Logging failures are reported through the logger and never
// interrupt a run.
type EventLog struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

var _ orchestrator.EventSink = (*EventLog)(nil)

// NewEventLog starts a new run.
func NewEventLog(db *sql.DB, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{db: db, runID: uuid.NewString(), logger: logger}
}

// RunID identifies every row written by this EventLog.
func (e *EventLog) RunID() string {
	return e.runID
}

// RunStarted logs the start of a run against sourceDir.
func (e *EventLog) RunStarted(ctx context.Context, sourceDir string) {
	e.log(ctx, Event{Filename: sourceDir, Filetype: FileTypeRun, Event: EventRunStart})
}

// RunFinished logs the run totals.
func (e *EventLog) RunFinished(ctx context.Context, sourceDir string, s orchestrator.Summary) {
	msg := fmt.Sprintf("processed=%d failed=%d rows=%d", s.Processed, s.Failed, s.Rows)
	e.log(ctx, Event{
		Filename: sourceDir,
		Filetype: FileTypeRun,
		Event:    EventRunEnd,
		Message:  msg,
		Records:  &s.Records,
		Skipped:  &s.Skipped,
		Duration: &s.Duration,
	})
}

func (e *EventLog) ArchiveStarted(ctx context.Context, archive string) {
	e.log(ctx, Event{Filename: archive, Filetype: FileTypeArchive, Event: EventProcessStart})
}

func (e *EventLog) ArchiveFinished(ctx context.Context, res orchestrator.ArchiveResult) {
	e.log(ctx, Event{
		Filename:   filepath.Base(res.ContentPath),
		Filetype:   FileTypeContent,
		Event:      EventExtractEnd,
		OutputPath: res.ContentPath,
		Message:    "extracted from " + res.Archive,
	})
	e.log(ctx, Event{
		Filename: res.Archive,
		Filetype: FileTypeArchive,
		Event:    EventProcessEnd,
		Message:  fmt.Sprintf("%d bookplate rows", len(res.Rows)),
		Records:  &res.Records,
		Skipped:  &res.Skipped,
		Duration: &res.Duration,
	})
}

func (e *EventLog) ArchiveFailed(ctx context.Context, f orchestrator.Failure) {
	e.log(ctx, Event{
		Filename: f.Archive,
		Filetype: FileTypeArchive,
		Event:    EventError,
		Message:  fmt.Sprintf("%s: %v", f.Stage, f.Err),
	})
}

func (e *EventLog) log(ctx context.Context, ev Event) {
	ev.RunID = e.runID
	ev.Timestamp = time.Now().UTC()
	// Failures are written even when the run context is already cancelled.
	if err := LogFileEvent(context.WithoutCancel(ctx), e.db, ev); err != nil {
		e.logger.Warn("Failed to record event.", slog.String("event", ev.Event), slog.String("file", ev.Filename), "error", err)
	}
}
