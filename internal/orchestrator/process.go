package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/brensch/marcreport/internal/archive"
	"github.com/brensch/marcreport/internal/marc"
)

var bookplateMatcher = marc.ContainsFold("bookplate")

// process extracts one archive, streams its content file and collects the
// bookplate rows. The extracted file is removed afterwards when
// RemoveExtracted is set, including after a decode failure.
func (r *runner) process(ctx context.Context, index int, p archive.ArchivePath) (ArchiveResult, *Failure) {
	start := time.Now()
	l := r.logger.With(slog.String("archive", p.Name()), slog.Int("index", index))
	res := ArchiveResult{Index: index, Archive: p.Name()}
	fail := func(stage Stage, err error) *Failure {
		return &Failure{Index: index, Archive: p.Name(), Stage: stage, Err: err}
	}

	r.sink.ArchiveStarted(ctx, p.Name())
	l.Debug("Extracting archive.")
	contentPath, err := r.extractor.Extract(ctx, p.Path, r.opts.OutputDir)
	if err != nil {
		return res, fail(StageExtract, err)
	}
	res.ContentPath = contentPath

	decodeErr := r.decode(ctx, l, contentPath, &res)

	if r.opts.RemoveExtracted {
		if err := os.Remove(contentPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			if decodeErr != nil {
				return res, fail(StageDecode, errors.Join(decodeErr, err))
			}
			return res, fail(StageCleanup, fmt.Errorf("failed to remove %s: %w", contentPath, err))
		}
		l.Debug("Removed extracted content file.", slog.String("content_file", contentPath))
	}
	if decodeErr != nil {
		return res, fail(StageDecode, decodeErr)
	}

	res.Duration = time.Since(start)
	l.Info("Archive processed.",
		slog.Int("records", res.Records),
		slog.Int("skipped_records", res.Skipped),
		slog.Int("bookplates", len(res.Rows)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (r *runner) decode(ctx context.Context, l *slog.Logger, contentPath string, res *ArchiveResult) error {
	dec, err := marc.Open(contentPath, marc.WithLogger(l))
	if err != nil {
		return err
	}
	for dec.Next(ctx) {
		rec := dec.Record()
		r.probe(l, rec)
		if row, ok := bookplateRow(res.Archive, rec); ok {
			res.Rows = append(res.Rows, row)
		}
	}
	stats := dec.Stats()
	res.Records = stats.Decoded
	res.Skipped = stats.Skipped + stats.Unterminated
	if res.Skipped > 0 {
		l.Warn("Skipped malformed records.",
			slog.Int("malformed", stats.Skipped),
			slog.Int("unterminated", stats.Unterminated),
		)
	}
	return errors.Join(dec.Err(), dec.Close())
}

func (r *runner) probe(l *slog.Logger, rec *marc.Record) {
	if len(r.opts.Fields) == 0 || !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, f := range r.opts.Fields {
		if v := marc.ExtractSubfield(rec, f.Tag, f.Code, nil); v != "" {
			l.Debug("Field value.", slog.String("mms_id", rec.Control("001")), slog.String("field", f.Tag+"$"+f.Code), slog.String("value", v))
		}
	}
}

// bookplateRow reports the record when one of its 996 $u values mentions a
// bookplate. The last matching $u wins, paired with the $z of the same field.
func bookplateRow(archiveName string, rec *marc.Record) (BookplateRow, bool) {
	u := marc.ExtractSubfield(rec, "996", "u", bookplateMatcher)
	if u == "" {
		return BookplateRow{}, false
	}
	row := BookplateRow{
		Archive:       archiveName,
		MMSID:         rec.Control("001"),
		Title:         rec.Title(),
		Bookplate996U: u,
	}
	for _, f := range rec.Fields("996") {
		if !slices.Contains(f.Values("u"), u) {
			continue
		}
		if zs := f.Values("z"); len(zs) > 0 {
			row.Bookplate996Z = zs[len(zs)-1]
		} else {
			row.Bookplate996Z = ""
		}
	}
	return row, true
}
