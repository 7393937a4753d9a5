package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/marcreport/internal/archive"
)

// Run processes the archives in opts.SourceDir in numeric-aware sort order.
// A failing archive is recorded in the Summary and reported to sink, and the
// run moves on to the next one unless opts.StopOnError is set. The returned
// error joins every per-archive failure, plus ctx.Err() when cancelled.
//
// With opts.Workers > 1 archives are processed concurrently. Rows still reach
// opts.Rows in sort order, but progress callbacks fire in completion order.
func Run(ctx context.Context, opts Options, sink EventSink, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sink == nil {
		sink = nopSink{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	start := time.Now()
	logger.Info("Starting report run.",
		slog.String("source_dir", opts.SourceDir),
		slog.String("output_dir", opts.OutputDir),
		slog.Int("workers", opts.Workers),
	)

	// --- Phase 1: Discover and order archives ---
	located, err := archive.Locate(opts.SourceDir)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to locate archives: %w", err)
	}
	var work []archive.ArchivePath
	for _, p := range archive.Sort(located) {
		if p.IsDir {
			logger.Debug("Skipping directory entry.", slog.String("path", p.Path))
			continue
		}
		work = append(work, p)
	}
	summary := Summary{Discovered: len(work)}
	if opts.MaxItems > 0 && len(work) > opts.MaxItems {
		logger.Info("Limiting run to max items.", slog.Int("max_items", opts.MaxItems), slog.Int("discovered", len(work)))
		work = work[:opts.MaxItems]
	}
	summary.Selected = len(work)
	if opts.Workers > 1 {
		if err := checkOutputNames(work); err != nil {
			return summary, err
		}
	}
	logger.Info("Discovery complete.", slog.Int("discovered", summary.Discovered), slog.Int("selected", summary.Selected))

	// --- Phase 2: Process ---
	r := &runner{
		opts:      opts,
		sink:      sink,
		logger:    logger,
		extractor: archive.NewExtractor(logger),
		summary:   summary,
		pending:   make(map[int]ArchiveResult),
		stopAt:    -1,
	}
	var runErr error
	if opts.Workers == 1 {
		runErr = r.sequential(ctx, work)
	} else {
		runErr = r.parallel(ctx, work)
	}
	// Rows completed out of order ahead of a gap left by a stop still count.
	if err := r.drain(); err != nil && runErr == nil {
		runErr = err
	}

	// --- Phase 3: Summarise ---
	summary = r.summary
	summary.Duration = time.Since(start)
	var combined error
	for _, f := range summary.Failures {
		combined = errors.Join(combined, f)
	}
	if runErr != nil && !errors.Is(runErr, errStopped) {
		combined = errors.Join(combined, runErr)
	}

	l := logger.With(
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed),
		slog.Int("records", summary.Records),
		slog.Int("skipped_records", summary.Skipped),
		slog.Int("rows", summary.Rows),
		slog.Duration("duration", summary.Duration),
	)
	if combined != nil {
		l.Warn("Report run finished with errors.", "error", combined)
	} else {
		l.Info("Report run finished successfully.")
	}
	return summary, combined
}

// errStopped ends the archive loop when StopOnError is set. The failure itself
// is already in the Summary.
var errStopped = errors.New("stopped after archive failure")

// checkOutputNames rejects work lists where two archives derive the same
// content file name, since concurrent workers would overwrite each other.
func checkOutputNames(work []archive.ArchivePath) error {
	seen := make(map[string]string, len(work))
	var errs error
	for _, p := range work {
		name := archive.ContentFileName(p.Path)
		if prev, ok := seen[name]; ok {
			errs = errors.Join(errs, fmt.Errorf("%w: %s and %s both extract to %s", ErrDuplicateOutput, prev, p.Name(), name))
			continue
		}
		seen[name] = p.Name()
	}
	return errs
}

type runner struct {
	opts      Options
	sink      EventSink
	logger    *slog.Logger
	extractor *archive.Extractor

	mu        sync.Mutex
	summary   Summary
	completed int
	pending   map[int]ArchiveResult
	next      int
	stopAt    int // index of the earliest StopOnError failure, -1 if none
}

func (r *runner) sequential(ctx context.Context, work []archive.ArchivePath) error {
	for i, p := range work {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Report run cancelled between archives.", slog.Int("remaining", len(work)-i))
			return err
		}
		res, failure := r.process(ctx, i, p)
		if failure != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.complete(ctx, res, failure); err != nil {
			return err
		}
		if failure != nil && r.opts.StopOnError {
			return errStopped
		}
	}
	return nil
}

func (r *runner) parallel(ctx context.Context, work []archive.ArchivePath) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	// Archives are dispatched in sort order, so everything before a
	// StopOnError failure has been handed to the pool by the time it is seen.
	for i, p := range work {
		i, p := i, p
		if gctx.Err() != nil || r.stoppedBefore(i) {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil || r.stoppedBefore(i) {
				return nil
			}
			res, failure := r.process(gctx, i, p)
			if failure != nil && gctx.Err() != nil {
				// Cancelled because of another archive or the caller.
				return nil
			}
			return r.complete(gctx, res, failure)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.stoppedBefore(len(work)) {
		return errStopped
	}
	return nil
}

// stoppedBefore reports whether a StopOnError failure sorts before index i.
func (r *runner) stoppedBefore(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopAt >= 0 && r.stopAt < i
}

// complete records the outcome of one archive and flushes any rows that are
// now next in sort order. A RowWriter error ends the run.
func (r *runner) complete(ctx context.Context, res ArchiveResult, failure *Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed++
	if failure != nil {
		r.summary.Failed++
		r.summary.Failures = append(r.summary.Failures, *failure)
		r.logger.Error("Archive failed, continuing with next.",
			slog.String("archive", failure.Archive),
			slog.String("stage", string(failure.Stage)),
			"error", failure.Err,
		)
		r.sink.ArchiveFailed(ctx, *failure)
		if r.opts.StopOnError && (r.stopAt < 0 || failure.Index < r.stopAt) {
			r.stopAt = failure.Index
		}
		res = ArchiveResult{Index: failure.Index, Archive: failure.Archive}
	} else {
		r.summary.Processed++
		r.summary.Records += res.Records
		r.summary.Skipped += res.Skipped
		r.sink.ArchiveFinished(ctx, res)
	}
	r.pending[res.Index] = res

	if iv := r.opts.ProgressInterval; iv > 0 && r.completed%iv == 0 {
		r.logger.Info("Progress.",
			slog.Int("completed", r.completed),
			slog.Int("total", r.summary.Selected),
			slog.Int("failed", r.summary.Failed),
		)
	}
	if r.opts.Progress != nil {
		r.opts.Progress(Progress{
			Completed: r.completed,
			Failed:    r.summary.Failed,
			Total:     r.summary.Selected,
			Archive:   res.Archive,
			Records:   r.summary.Records,
		})
	}
	return r.flushLocked()
}

func (r *runner) flushLocked() error {
	for {
		res, ok := r.pending[r.next]
		if !ok {
			return nil
		}
		delete(r.pending, r.next)
		r.next++
		if err := r.writeRows(res); err != nil {
			return err
		}
	}
}

// drain writes whatever is still pending, in index order.
func (r *runner) drain() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	for len(r.pending) > 0 {
		r.next++
		if err := r.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) writeRows(res ArchiveResult) error {
	if r.opts.Rows == nil {
		r.summary.Rows += len(res.Rows)
		return nil
	}
	for _, row := range res.Rows {
		if err := r.opts.Rows.Write(row); err != nil {
			return fmt.Errorf("failed to write report row for %s: %w", res.Archive, err)
		}
		r.summary.Rows++
	}
	return nil
}
