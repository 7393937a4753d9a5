package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// HistoryFilter narrows FileHistory. Empty fields match everything.
type HistoryFilter struct {
	RunID    string
	Filetype string
	Event    string
	Limit    int
}

// FileHistory returns event log rows, newest first.
func FileHistory(ctx context.Context, db *sql.DB, filter HistoryFilter) ([]Event, error) {
	query := `
        SELECT run_id, filename, filetype, event, event_timestamp, output_path, message, records, skipped, duration_ms
        FROM marc_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if filter.RunID != "" {
		conditions = append(conditions, fmt.Sprintf("run_id = $%d", argCounter))
		args = append(args, filter.RunID)
		argCounter++
	}
	if filter.Filetype != "" {
		conditions = append(conditions, fmt.Sprintf("filetype = $%d", argCounter))
		args = append(args, filter.Filetype)
		argCounter++
	}
	if filter.Event != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, filter.Event)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCounter)
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetFailures returns the error events recorded for runID in the order they
// were logged.
func GetFailures(ctx context.Context, db *sql.DB, runID string, logger *slog.Logger) ([]Event, error) {
	logger.Debug("Querying database for failed archives...", slog.String("run_id", runID))
	query := `
        SELECT run_id, filename, filetype, event, event_timestamp, output_path, message, records, skipped, duration_ms
        FROM marc_event_log
        WHERE run_id = ? AND event = ?
        ORDER BY log_id;
    `
	rows, err := db.QueryContext(ctx, query, runID, EventError)
	if err != nil {
		logger.Error("Failed to query for failed archives", "error", err, "run_id", runID)
		return nil, fmt.Errorf("query failed archives: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	logger.Debug("Found failed archives in DB.", slog.Int("count", len(events)))
	return events, err
}

// scanEvents reads every row, collecting scan errors so one bad row does not
// hide the rest.
func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	var scanErrors error
	for rows.Next() {
		var ev Event
		var outputPath, message sql.NullString
		var records, skipped, durationMs sql.NullInt64
		if err := rows.Scan(&ev.RunID, &ev.Filename, &ev.Filetype, &ev.Event, &ev.Timestamp, &outputPath, &message, &records, &skipped, &durationMs); err != nil {
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan event log row: %w", err))
			continue
		}
		ev.OutputPath = outputPath.String
		ev.Message = message.String
		ev.Records = intPtr(records)
		ev.Skipped = intPtr(skipped)
		if durationMs.Valid {
			d := time.Duration(durationMs.Int64) * time.Millisecond
			ev.Duration = &d
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		scanErrors = errors.Join(scanErrors, fmt.Errorf("iterate event log rows: %w", err))
	}
	return events, scanErrors
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
