package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Constants for event types
const (
	EventRunStart     = "run_start"
	EventRunEnd       = "run_end"
	EventProcessStart = "process_start"
	EventExtractEnd   = "extract_end"
	EventProcessEnd   = "process_end"
	EventError        = "error"
)

// Constants for file types
const (
	FileTypeRun     = "run"
	FileTypeArchive = "archive"
	FileTypeContent = "content"
)

// Schema SQL
const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS marc_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS marc_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('marc_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    filename        VARCHAR NOT NULL,      -- archive or content file base name
    filetype        VARCHAR NOT NULL,      -- 'run', 'archive', 'content'
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    output_path     VARCHAR,
    message         VARCHAR,
    records         BIGINT,
    skipped         BIGINT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_marc_event_log_run ON marc_event_log (run_id);
CREATE INDEX IF NOT EXISTS idx_marc_event_log_file ON marc_event_log (filename, filetype);
`

// Open opens the DuckDB file at path and makes sure the schema exists. An
// empty path opens an in-memory database.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to duckdb %q: %w", path, err)
	}
	if err := InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Event is one row of marc_event_log. Zero values are stored as NULL.
type Event struct {
	RunID      string
	Filename   string
	Filetype   string
	Event      string
	Timestamp  time.Time
	OutputPath string
	Message    string
	Records    *int
	Skipped    *int
	Duration   *time.Duration
}

// LogFileEvent inserts a new event record into the log. Timestamp is set to
// now when zero.
func LogFileEvent(ctx context.Context, db *sql.DB, ev Event) error {
	query := `
        INSERT INTO marc_event_log (run_id, filename, filetype, event, event_timestamp, output_path, message, records, skipped, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var durationMs sql.NullInt64
	if ev.Duration != nil {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		ev.RunID,
		ev.Filename,
		ev.Filetype,
		ev.Event,
		ts,
		sql.NullString{String: ev.OutputPath, Valid: ev.OutputPath != ""},
		sql.NullString{String: ev.Message, Valid: ev.Message != ""},
		nullInt(ev.Records),
		nullInt(ev.Skipped),
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", ev.Event, ev.Filename, err)
	}
	return nil
}

// GetLatestFileEvent retrieves the most recent event record for a specific file.
func GetLatestFileEvent(ctx context.Context, db *sql.DB, filename, filetype string) (event string, timestamp time.Time, message string, found bool, err error) {
	query := `
        SELECT event, event_timestamp, message
        FROM marc_event_log
        WHERE filename = ? AND filetype = ?
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	var msg sql.NullString
	row := db.QueryRowContext(ctx, query, filename, filetype)
	err = row.Scan(&event, &timestamp, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, "", false, nil
		}
		return "", time.Time{}, "", false, fmt.Errorf("failed query latest event for '%s' (%s): %w", filename, filetype, err)
	}
	return event, timestamp, msg.String, true, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
