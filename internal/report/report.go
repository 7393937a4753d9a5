// Package report writes bookplate rows to a Parquet file.
package report

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/marcreport/internal/orchestrator"
)

type bookplateRecord struct {
	Archive       string `parquet:"name=archive, type=BYTE_ARRAY, convertedtype=UTF8"`
	MMSID         string `parquet:"name=mms_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title         string `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bookplate996U string `parquet:"name=bookplate_996_u, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bookplate996Z string `parquet:"name=bookplate_996_z, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Writer appends rows to a Snappy-compressed Parquet file. It is safe for
// concurrent use; Close must be called to write the footer.
type Writer struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	fw     source.ParquetFile
	pw     *writer.ParquetWriter
	rows   int
	closed bool
}

var _ orchestrator.RowWriter = (*Writer)(nil)

// Create truncates or creates the report at path.
func Create(path string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create report file %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(bookplateRecord), 1)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("create parquet writer for %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	logger.Debug("Created report writer.", slog.String("path", path))
	return &Writer{path: path, logger: logger, fw: fw, pw: pw}, nil
}

func (w *Writer) Write(row orchestrator.BookplateRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("report %s already closed", w.path)
	}
	if err := w.pw.Write(bookplateRecord(row)); err != nil {
		return fmt.Errorf("write report row: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns how many rows were written.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes the footer and closes the file. Further calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if stopErr := w.pw.WriteStop(); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("finalize report %s: %w", w.path, stopErr))
	}
	if closeErr := w.fw.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close report %s: %w", w.path, closeErr))
	}
	w.logger.Info("Report written.", slog.String("path", w.path), slog.Int("rows", w.rows))
	return err
}

// ReadAll loads every row of the report at path.
func ReadAll(path string) ([]orchestrator.BookplateRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open report %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(bookplateRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader for %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	records := make([]bookplateRecord, n)
	if n > 0 {
		if err := pr.Read(&records); err != nil {
			return nil, fmt.Errorf("read report %s: %w", path, err)
		}
	}
	rows := make([]orchestrator.BookplateRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, orchestrator.BookplateRow(r))
	}
	return rows, nil
}
