package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SaveTablesToParquet copies every table in db to <outputDir>/<table>.parquet
// and returns the written paths, sorted by table name.
func SaveTablesToParquet(ctx context.Context, db *sql.DB, outputDir string, logger *slog.Logger) ([]string, error) {
	logger.Info("Starting DuckDB table to Parquet save.")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", outputDir, err)
	}
	logger.Debug("Output directory ensured.", slog.String("dir", outputDir))

	tableNames, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(tableNames) == 0 {
		logger.Info("No user tables found in the database to save.")
		return nil, nil
	}
	logger.Info("Found tables to save.", slog.Int("count", len(tableNames)))

	var wg sync.WaitGroup
	var saveErrorsMu sync.Mutex
	var saveErrors []error
	written := make([]string, len(tableNames))

	for i, tn := range tableNames {
		i, tn := i, tn
		if ctx.Err() != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", ctx.Err())
			saveErrors = append(saveErrors, ctx.Err())
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := logger.With(slog.String("table", tn))

			safeFilename := strings.ReplaceAll(tn, `"`, "")
			safeFilename = strings.ReplaceAll(safeFilename, "/", "_")
			outputFilePath := filepath.Join(outputDir, safeFilename+".parquet")
			duckdbFilePath := filepath.ToSlash(outputFilePath)

			quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(tn, `"`, `""`))
			copySQL := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET);`,
				quotedTableName,
				strings.ReplaceAll(duckdbFilePath, "'", "''"),
			)
			l.Debug("Executing COPY TO command.", slog.String("output_path", outputFilePath))

			if _, execErr := db.ExecContext(ctx, copySQL); execErr != nil {
				l.Error("Failed to save table to Parquet.", "error", execErr)
				saveErrorsMu.Lock()
				saveErrors = append(saveErrors, fmt.Errorf("save %s: %w", tn, execErr))
				saveErrorsMu.Unlock()
				return
			}
			written[i] = outputFilePath
			l.Info("Saved table to Parquet.", slog.String("output_path", outputFilePath))
		}()
	}
	wg.Wait()

	var paths []string
	for _, p := range written {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if finalErr := errors.Join(saveErrors...); finalErr != nil {
		logger.Error("Save process completed with errors.", "error", finalErr)
		return paths, finalErr
	}
	logger.Info("DuckDB table to Parquet save finished.", slog.Int("files", len(paths)))
	return paths, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM duckdb_tables() ORDER BY table_name;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tableNames, nil
}
