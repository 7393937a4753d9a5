package marc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brensch/marcreport/internal/marc"
	"github.com/brensch/marcreport/internal/testsupport"
)

func sampleRecord(id, title string) []byte {
	return testsupport.BuildRecord(
		testsupport.Control("001", id),
		testsupport.Control("008", "210101s2024    xx            eng d"),
		testsupport.Data("245", "a", title, "c", "Someone"),
	)
}

func decodeAll(t *testing.T, dec *marc.Decoder) []*marc.Record {
	t.Helper()
	var out []*marc.Record
	for dec.Next(context.Background()) {
		out = append(out, dec.Record())
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("decoder error: %v", err)
	}
	return out
}

func TestParseRecord(t *testing.T) {
	raw := testsupport.BuildRecord(
		testsupport.Control("001", "991234"),
		testsupport.Field{Tag: "245", Indicators: "10", Subfields: []string{"a", "Sample Title", "b", "a subtitle"}},
		testsupport.Data("650", "a", "First"),
		testsupport.Data("650", "a", "Second"),
	)
	rec, err := marc.Parse(raw[:len(raw)-1])
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(rec.Leader) != marc.LeaderLength {
		t.Fatalf("unexpected leader %q", rec.Leader)
	}
	if rec.Control("001") != "991234" {
		t.Fatalf("unexpected 001 %q", rec.Control("001"))
	}
	if rec.Title() != "Sample Title" {
		t.Fatalf("unexpected title %q", rec.Title())
	}
	title := rec.Fields("245")[0]
	if title.Indicator1 != '1' || title.Indicator2 != '0' {
		t.Fatalf("unexpected indicators %q %q", title.Indicator1, title.Indicator2)
	}
	if got := title.Values("b"); len(got) != 1 || got[0] != "a subtitle" {
		t.Fatalf("unexpected $b values %v", got)
	}
	subjects := rec.Fields("650")
	if len(subjects) != 2 || subjects[0].Values("a")[0] != "First" || subjects[1].Values("a")[0] != "Second" {
		t.Fatalf("repeated tags must keep every occurrence in order: %+v", subjects)
	}
}

func TestParseUTF8Values(t *testing.T) {
	raw := testsupport.BuildRecord(testsupport.Data("245", "a", "Ça ira – déjà vu"))
	rec, err := marc.Parse(raw[:len(raw)-1])
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if rec.Title() != "Ça ira – déjà vu" {
		t.Fatalf("unexpected title %q", rec.Title())
	}
}

func TestParseErrors(t *testing.T) {
	good := sampleRecord("1", "x")
	good = good[:len(good)-1]

	badBase := bytes.Clone(good)
	copy(badBase[12:17], "99999")

	badDigits := bytes.Clone(good)
	copy(badDigits[0:5], "12a45")

	badDir := bytes.Clone(good)
	badDir[marc.LeaderLength+2] = '!'

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("00012nam"), marc.ErrShortRecord},
		{"base out of range", badBase, marc.ErrInvalidLeader},
		{"non-digit length", badDigits, marc.ErrInvalidLeader},
		{"bad tag", badDir, marc.ErrInvalidDirectory},
		{"truncated data", good[:len(good)-10], marc.ErrFieldBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := marc.Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecoderSkipsMalformedSegments(t *testing.T) {
	stream := testsupport.Stream(
		sampleRecord("1", "One"),
		testsupport.Garbage("not a record"),
		sampleRecord("2", "Two"),
		testsupport.Garbage(strings.Repeat("9", 40)),
		sampleRecord("3", "Three"),
	)
	dec := marc.NewDecoder(bytes.NewReader(stream))
	recs := decodeAll(t, dec)

	if len(recs) != 3 {
		t.Fatalf("expected 3 records (5 segments, 2 malformed), got %d", len(recs))
	}
	for i, want := range []string{"One", "Two", "Three"} {
		if recs[i].Title() != want {
			t.Fatalf("record %d: got %q want %q", i, recs[i].Title(), want)
		}
	}
	stats := dec.Stats()
	if stats.Decoded != 3 || stats.Skipped != 2 || stats.Unterminated != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Bytes != int64(len(stream)) {
		t.Fatalf("expected %d bytes read, got %d", len(stream), stats.Bytes)
	}
}

func TestDecoderWithoutTerminatorYieldsNothing(t *testing.T) {
	raw := sampleRecord("1", "One")
	dec := marc.NewDecoder(bytes.NewReader(raw[:len(raw)-1]))
	if recs := decodeAll(t, dec); len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
	if dec.Stats().Unterminated != 1 {
		t.Fatalf("expected the trailing segment to be counted, got %+v", dec.Stats())
	}
	if dec.Next(context.Background()) {
		t.Fatal("decoder must stay exhausted")
	}
}

func TestDecoderIgnoresEmptySegmentsAndTrailingNewline(t *testing.T) {
	stream := testsupport.Stream(
		[]byte{marc.RecordTerminator},
		sampleRecord("1", "One"),
		[]byte{marc.RecordTerminator, marc.RecordTerminator},
		[]byte("\n"),
	)
	dec := marc.NewDecoder(bytes.NewReader(stream))
	if recs := decodeAll(t, dec); len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if s := dec.Stats(); s.Skipped != 0 || s.Unterminated != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestDecoderRecordsLargerThanBuffer(t *testing.T) {
	long := strings.Repeat("x", 5000)
	stream := testsupport.Stream(sampleRecord("1", long), sampleRecord("2", "short"))
	dec := marc.NewDecoder(bytes.NewReader(stream), marc.WithBufferSize(64))
	recs := decodeAll(t, dec)
	if len(recs) != 2 || recs[0].Title() != long || recs[1].Title() != "short" {
		t.Fatalf("unexpected records: %d", len(recs))
	}
}

func TestDecoderStopsOnCancel(t *testing.T) {
	stream := testsupport.Stream(sampleRecord("1", "One"), sampleRecord("2", "Two"))
	dec := marc.NewDecoder(bytes.NewReader(stream))
	ctx, cancel := context.WithCancel(context.Background())
	if !dec.Next(ctx) {
		t.Fatalf("expected first record, err=%v", dec.Err())
	}
	cancel()
	if dec.Next(ctx) {
		t.Fatal("expected Next to stop after cancel")
	}
	if !errors.Is(dec.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", dec.Err())
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestDecoderReportsReadErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	dec := marc.NewDecoder(io.MultiReader(bytes.NewReader(sampleRecord("1", "One")), failingReader{boom}))
	var n int
	for dec.Next(context.Background()) {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 record before the failure, got %d", n)
	}
	if !errors.Is(dec.Err(), boom) {
		t.Fatalf("expected read error, got %v", dec.Err())
	}
}

func TestOpenDecodesFileAndIsNotRestartable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marc-3.xml")
	stream := testsupport.Stream(sampleRecord("1", "Sample Title"), testsupport.Garbage("broken"))
	if err := os.WriteFile(path, stream, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dec, err := marc.Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer dec.Close()

	recs := decodeAll(t, dec)
	if len(recs) != 1 || marc.ExtractSubfield(recs[0], "245", "a", nil) != "Sample Title" {
		t.Fatalf("unexpected records %+v", recs)
	}
	if dec.Next(context.Background()) {
		t.Fatal("a consumed decoder must not yield again")
	}

	again, err := marc.Open(path)
	if err != nil {
		t.Fatalf("re-open: %v", err)
	}
	defer again.Close()
	if got := decodeAll(t, again); len(got) != 1 {
		t.Fatalf("fresh decoder should yield the record again, got %d", len(got))
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := marc.Open(filepath.Join(t.TempDir(), "absent.xml")); err == nil {
		t.Fatal("expected error")
	}
}
