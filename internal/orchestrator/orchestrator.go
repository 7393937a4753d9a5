// Package orchestrator drives one pass over a directory of MARC archives:
// locate, sort, extract, decode and collect bookplate rows.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brensch/marcreport/internal/config"
)

// ErrDuplicateOutput is returned before any work starts when two archives
// would extract to the same content file while running concurrently.
var ErrDuplicateOutput = errors.New("archives share an output file name")

// Stage names the step at which an archive failed.
type Stage string

const (
	StageExtract Stage = "extract"
	StageDecode  Stage = "decode"
	StageCleanup Stage = "cleanup"
)

// Failure describes one archive that could not be processed.
type Failure struct {
	Index   int // position in sort order
	Archive string
	Stage   Stage
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Archive, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// BookplateRow is one record whose 996 $u mentions a bookplate.
type BookplateRow struct {
	Archive       string
	MMSID         string
	Title         string
	Bookplate996U string
	Bookplate996Z string
}

// ArchiveResult is the outcome of one successfully processed archive.
type ArchiveResult struct {
	Index       int
	Archive     string
	ContentPath string
	Records     int
	Skipped     int // malformed plus unterminated segments
	Rows        []BookplateRow
	Duration    time.Duration
}

// EventSink receives per-archive notifications. Implementations must be safe
// for concurrent use when Options.Workers > 1.
type EventSink interface {
	ArchiveStarted(ctx context.Context, archive string)
	ArchiveFinished(ctx context.Context, res ArchiveResult)
	ArchiveFailed(ctx context.Context, f Failure)
}

// RowWriter consumes bookplate rows in archive sort order.
type RowWriter interface {
	Write(row BookplateRow) error
}

// FieldProbe names an extra tag/subfield pair logged for every record.
type FieldProbe struct {
	Tag  string
	Code string
}

// Progress is passed to Options.Progress after every completed archive.
type Progress struct {
	Completed int
	Failed    int
	Total     int
	Archive   string
	Records   int
}

// Options controls a run.
type Options struct {
	SourceDir string
	OutputDir string

	MaxItems         int // 0 processes every archive
	ProgressInterval int // completed archives between progress log lines; 0 disables
	Workers          int
	RemoveExtracted  bool
	// StopOnError ends the run at the first failing archive. With several
	// workers every archive sorting before the failure still completes, and
	// later archives already in flight finish too; no new ones start.
	StopOnError bool

	Rows     RowWriter // nil discards rows
	Fields   []FieldProbe
	Progress func(Progress)
}

// OptionsFromConfig maps the report-related settings onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SourceDir:        cfg.FullSourceDir,
		OutputDir:        cfg.FullOutputDir,
		MaxItems:         cfg.MaxItems,
		ProgressInterval: cfg.ProgressInterval,
		Workers:          cfg.NumWorkers,
		RemoveExtracted:  cfg.RemoveExtracted,
		StopOnError:      cfg.StopOnError,
		Fields:           fieldProbes(cfg.FieldProbes),
	}
}

// fieldProbes drops entries that config.Validate would reject.
func fieldProbes(specs []string) []FieldProbe {
	var probes []FieldProbe
	for _, s := range specs {
		if tag, code, ok := config.SplitFieldProbe(s); ok {
			probes = append(probes, FieldProbe{Tag: tag, Code: code})
		}
	}
	return probes
}

// Summary totals one run.
type Summary struct {
	Discovered int // archive files found, before MaxItems
	Selected   int
	Processed  int
	Failed     int
	Records    int
	Skipped    int
	Rows       int
	Failures   []Failure
	Duration   time.Duration
}

type nopSink struct{}

func (nopSink) ArchiveStarted(context.Context, string)         {}
func (nopSink) ArchiveFinished(context.Context, ArchiveResult) {}
func (nopSink) ArchiveFailed(context.Context, Failure)         {}

type multiSink []EventSink

// MultiSink fans every notification out to sinks in order. Nil sinks are
// ignored.
func MultiSink(sinks ...EventSink) EventSink {
	var ms multiSink
	for _, s := range sinks {
		if s != nil {
			ms = append(ms, s)
		}
	}
	return ms
}

func (ms multiSink) ArchiveStarted(ctx context.Context, archive string) {
	for _, s := range ms {
		s.ArchiveStarted(ctx, archive)
	}
}

func (ms multiSink) ArchiveFinished(ctx context.Context, res ArchiveResult) {
	for _, s := range ms {
		s.ArchiveFinished(ctx, res)
	}
}

func (ms multiSink) ArchiveFailed(ctx context.Context, f Failure) {
	for _, s := range ms {
		s.ArchiveFailed(ctx, f)
	}
}
