package marc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const defaultBufferSize = 64 * 1024

// Stats counts what a Decoder has seen so far.
type Stats struct {
	Decoded      int // records returned by Next
	Skipped      int // terminated segments that failed to parse
	Unterminated int // trailing bytes with no terminator (0 or 1)
	Bytes        int64
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for skipped-record notices.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBufferSize sets the read-ahead buffer size.
func WithBufferSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.bufSize = n
		}
	}
}

// Decoder splits a byte stream on RecordTerminator and parses each segment
// into a Record. Segments that fail to parse are skipped, so one malformed
// record never stops the stream. Only one segment is buffered at a time.
//
// Usage mirrors bufio.Scanner:
//
//	for dec.Next(ctx) {
//		rec := dec.Record()
//	}
//	if err := dec.Err(); err != nil { ... }
type Decoder struct {
	r       *bufio.Reader
	closer  io.Closer
	logger  *slog.Logger
	bufSize int

	seg   []byte
	rec   *Record
	err   error
	done  bool
	stats Stats
}

// NewDecoder reads records from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		bufSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.r = bufio.NewReaderSize(r, d.bufSize)
	return d
}

// Open opens path for sequential decoding. The caller must Close the Decoder.
func Open(path string, opts ...Option) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := NewDecoder(f, opts...)
	d.closer = f
	d.logger = d.logger.With(slog.String("content_file", path))
	return d, nil
}

// Next advances to the next well-formed record. It returns false at end of
// stream, on a read error, or when ctx is done; Err distinguishes these.
func (d *Decoder) Next(ctx context.Context) bool {
	d.rec = nil
	if d.done {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			d.finish(err)
			return false
		}

		segment, terminated, err := d.readSegment()
		if !terminated {
			if len(bytes.TrimSpace(segment)) > 0 {
				d.stats.Unterminated++
				d.logger.Debug("Discarding unterminated trailing segment.", slog.Int("bytes", len(segment)))
			}
			if errors.Is(err, io.EOF) {
				err = nil
			}
			d.finish(err)
			return false
		}
		if len(segment) == 0 {
			continue
		}

		rec, perr := Parse(segment)
		if perr != nil {
			d.stats.Skipped++
			d.logger.Debug("Skipping malformed record.", slog.Int("segment_bytes", len(segment)), slog.String("error", perr.Error()))
			continue
		}
		d.stats.Decoded++
		d.rec = rec
		return true
	}
}

// Record returns the record produced by the last successful Next.
func (d *Decoder) Record() *Record {
	return d.rec
}

// Err returns the first non-EOF error that stopped the decoder.
func (d *Decoder) Err() error {
	return d.err
}

// Stats returns counts accumulated so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Close releases the underlying file when the Decoder was created by Open.
func (d *Decoder) Close() error {
	d.done = true
	if d.closer == nil {
		return nil
	}
	c := d.closer
	d.closer = nil
	return c.Close()
}

func (d *Decoder) finish(err error) {
	d.done = true
	if err != nil && d.err == nil {
		d.err = err
	}
}

// readSegment returns the bytes up to the next terminator, excluding it. The
// returned slice aliases an internal buffer that is reset on every call.
func (d *Decoder) readSegment() ([]byte, bool, error) {
	d.seg = d.seg[:0]
	for {
		chunk, err := d.r.ReadSlice(RecordTerminator)
		d.seg = append(d.seg, chunk...)
		d.stats.Bytes += int64(len(chunk))
		switch {
		case err == nil:
			return d.seg[:len(d.seg)-1], true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return d.seg, false, err
		}
	}
}
