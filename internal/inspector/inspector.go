package inspector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveCount summarises the report rows that came from one archive.
type ArchiveCount struct {
	Archive      string
	Rows         int64
	DistinctMMS  int64
	DistinctURLs int64
}

// Summarize groups the bookplate report at reportPath by archive, in the order
// archives first appear in the report.
func Summarize(ctx context.Context, db *sql.DB, reportPath string, logger *slog.Logger) ([]ArchiveCount, error) {
	l := logger.With(slog.String("report", reportPath))
	if _, err := os.Stat(reportPath); err != nil {
		return nil, fmt.Errorf("report %s: %w", reportPath, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	l.Debug("Installing and loading Parquet extension.")
	if _, err := conn.ExecContext(ctx, `INSTALL parquet; LOAD parquet;`); err != nil {
		l.Warn("Failed install/load parquet extension.", "error", err)
	}

	escaped := strings.ReplaceAll(filepath.ToSlash(reportPath), "'", "''")
	query := fmt.Sprintf(`
        SELECT archive,
               count(*)                        AS row_count,
               count(DISTINCT mms_id)          AS mms_count,
               count(DISTINCT bookplate_996_u) AS url_count,
               min(file_row_number)            AS first_row
        FROM read_parquet('%s', file_row_number = true)
        GROUP BY archive
        ORDER BY first_row;
    `, escaped)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise report %s: %w", reportPath, err)
	}
	defer rows.Close()

	var out []ArchiveCount
	for rows.Next() {
		var c ArchiveCount
		var firstRow int64
		if err := rows.Scan(&c.Archive, &c.Rows, &c.DistinctMMS, &c.DistinctURLs, &firstRow); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}
	l.Info("Report summarised.", slog.Int("archives", len(out)))
	return out, nil
}
