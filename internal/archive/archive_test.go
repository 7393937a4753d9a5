package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/brensch/marcreport/internal/archive"
	"github.com/brensch/marcreport/internal/testsupport"
)

func names(paths []archive.ArchivePath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.Name()
	}
	return out
}

func fromNames(dir string, ns ...string) []archive.ArchivePath {
	out := make([]archive.ArchivePath, len(ns))
	for i, n := range ns {
		out[i] = archive.NewArchivePath(filepath.Join(dir, n))
	}
	return out
}

func TestNewArchivePathDerivesStemAndNumber(t *testing.T) {
	tests := []struct {
		name   string
		stem   string
		number string
	}{
		{"Full_set_bibs_new_147.tar.gz", "Full_set_bibs_new_147.tar", "147"},
		{"marc-3.tar.gz", "marc-3.tar", "3"},
		{"file007.tar", "file007", "7"},
		{"readme", "readme", "0"},
		{"part0.tar.gz", "part0.tar", "0"},
		{"2024_bibs_12.tar.gz", "2024_bibs_12.tar", "2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := archive.NewArchivePath(filepath.Join("/src", tt.name))
			if p.Stem != tt.stem {
				t.Fatalf("stem: got %q want %q", p.Stem, tt.stem)
			}
			if p.Number != tt.number {
				t.Fatalf("number: got %q want %q", p.Number, tt.number)
			}
		})
	}
}

func TestSortOrdersByEmbeddedIntegerNotLength(t *testing.T) {
	in := fromNames("/src", "file10.tar", "file2.tar", "file100.tar", "file1.tar")
	got := names(archive.Sort(in))
	want := []string{"file1.tar", "file2.tar", "file10.tar", "file100.tar"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if names(in)[0] != "file10.tar" {
		t.Fatal("Sort must not mutate its input")
	}
}

func TestSortTiesFallBackToStem(t *testing.T) {
	in := fromNames("/src", "b.tar.gz", "x-5.tar.gz", "a.tar.gz", "y-05.tar.gz", "w-5.tar.gz")
	got := names(archive.Sort(in))
	// No-digit names share key 0 and come first, lexically. The three 5s tie
	// numerically and order by stem.
	want := []string{"a.tar.gz", "b.tar.gz", "w-5.tar.gz", "x-5.tar.gz", "y-05.tar.gz"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSortHandlesHugeNumbers(t *testing.T) {
	in := fromNames("/src", "n-100000000000000000000000.tar.gz", "n-99999999999999999999999.tar.gz")
	got := names(archive.Sort(in))
	if got[0] != "n-99999999999999999999999.tar.gz" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestSortIsIdempotentAndTotal(t *testing.T) {
	in := append(fromNames("/a", "m-3.tar.gz", "m-1.tar.gz"), fromNames("/b", "m-3.tar.gz", "m-20.tar.gz")...)
	once := archive.Sort(in)
	twice := archive.Sort(once)
	if !slices.Equal(once, twice) {
		t.Fatalf("sort not idempotent: %v vs %v", once, twice)
	}
	for i := 1; i < len(once); i++ {
		if archive.Compare(once[i-1], once[i]) >= 0 {
			t.Fatalf("order not strict at %d: %v", i, once)
		}
	}
	if once[1].Path != "/a/m-3.tar.gz" || once[2].Path != "/b/m-3.tar.gz" {
		t.Fatalf("same stem should break ties on path: %v", once)
	}
}

func TestLocateListsFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	testsupport.Touch(t, filepath.Join(dir, "marc-2.tar.gz"))
	testsupport.Touch(t, filepath.Join(dir, "marc-10.tar.gz"))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := archive.Locate(dir)
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	dirs := 0
	for _, p := range got {
		if p.IsDir {
			dirs++
			if p.Name() != "sub" {
				t.Fatalf("unexpected directory %q", p.Name())
			}
		}
	}
	if dirs != 1 {
		t.Fatalf("expected one directory entry, got %d", dirs)
	}
}

func TestLocateMissingDirectory(t *testing.T) {
	if _, err := archive.Locate(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestContentFileName(t *testing.T) {
	tests := map[string]string{
		"/src/marc-3.tar.gz":             "marc-3.xml",
		"Full_set_bibs_new_147.tar.gz":   "Full_set_bibs_new_147.xml",
		"plain.gz":                       "plain.xml",
		"/src/with.tar.in.middle.tar.gz": "with.xml",
	}
	for in, want := range tests {
		if got := archive.ContentFileName(in); got != want {
			t.Errorf("ContentFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractWritesContentWithPermissions(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	content := []byte("record data")
	path := testsupport.WriteMarcArchive(t, src, "marc-3.tar.gz", content)

	got, err := archive.NewExtractor(nil).Extract(context.Background(), path, out)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got != filepath.Join(out, "marc-3.xml") {
		t.Fatalf("unexpected output path %q", got)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("unexpected content %q", data)
	}
	info, err := os.Stat(got)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Mode().Perm() != archive.ContentMode {
		t.Fatalf("mode: got %o want %o", info.Mode().Perm(), archive.ContentMode)
	}
}

func TestExtractNestedDirectories(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	path := filepath.Join(src, "bibs-4.tar.gz")
	testsupport.WriteTarGz(t, path,
		testsupport.TarEntry{Name: "extra/"},
		testsupport.TarEntry{Name: "extra/notes.txt", Body: []byte("x")},
		testsupport.TarEntry{Name: "bibs-4.xml", Body: []byte("y")},
	)
	got, err := archive.NewExtractor(nil).Extract(context.Background(), path, out)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if filepath.Base(got) != "bibs-4.xml" {
		t.Fatalf("unexpected output %q", got)
	}
	if _, err := os.Stat(filepath.Join(out, "extra", "notes.txt")); err != nil {
		t.Fatalf("expected nested file to be unpacked: %v", err)
	}
}

func TestExtractMissingContentFile(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	path := filepath.Join(src, "marc-9.tar.gz")
	testsupport.WriteTarGz(t, path, testsupport.TarEntry{Name: "other-name.xml", Body: []byte("z")})

	_, err := archive.NewExtractor(nil).Extract(context.Background(), path, out)
	if !errors.Is(err, archive.ErrContentMissing) {
		t.Fatalf("expected ErrContentMissing, got %v", err)
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	path := filepath.Join(src, "evil-1.tar.gz")
	testsupport.WriteTarGz(t, path, testsupport.TarEntry{Name: "../escape.xml", Body: []byte("z")})

	_, err := archive.NewExtractor(nil).Extract(context.Background(), path, out)
	if !errors.Is(err, archive.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(out), "escape.xml")); statErr == nil {
		t.Fatal("entry escaped the output directory")
	}
}

func TestExtractFailures(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	notGzip := filepath.Join(src, "bad-1.tar.gz")
	if err := os.WriteFile(notGzip, []byte("not gzip at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	good := testsupport.WriteMarcArchive(t, src, "good-2.tar.gz", []byte("x"))

	tests := []struct {
		name    string
		archive string
		out     string
	}{
		{"missing archive", filepath.Join(src, "absent.tar.gz"), out},
		{"not gzip", notGzip, out},
		{"missing output dir", good, filepath.Join(out, "nope")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := archive.NewExtractor(nil).Extract(context.Background(), tt.archive, tt.out); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	path := testsupport.WriteMarcArchive(t, src, "marc-1.tar.gz", []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := archive.NewExtractor(nil).Extract(ctx, path, out); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
