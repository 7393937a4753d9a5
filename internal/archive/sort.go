package archive

import (
	"path/filepath"
	"slices"
	"strings"
)

// stemOf strips the final extension, so "marc-12.tar.gz" becomes "marc-12.tar".
func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// embeddedNumber returns the first maximal run of ASCII digits in stem with
// leading zeros removed. A trailing ".tar" is ignored. No digits yields "0".
func embeddedNumber(stem string) string {
	s := strings.TrimSuffix(stem, ".tar")
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return "0"
	}
	end := start
	for end < len(s) && isDigit(rune(s[end])) {
		end++
	}
	n := strings.TrimLeft(s[start:end], "0")
	if n == "" {
		return "0"
	}
	return n
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// compareNumbers orders two trimmed decimal strings by value without parsing,
// so digit runs of any length compare correctly.
func compareNumbers(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Compare orders archives by embedded integer, then stem, then full path.
// The last key makes the order strict even when two directories hold
// archives with the same stem.
func Compare(a, b ArchivePath) int {
	if c := compareNumbers(a.Number, b.Number); c != 0 {
		return c
	}
	if c := strings.Compare(a.Stem, b.Stem); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

// Sort returns a copy of paths in numeric-aware order, so "file2" comes
// before "file10". The input slice is left untouched.
func Sort(paths []ArchivePath) []ArchivePath {
	sorted := slices.Clone(paths)
	slices.SortStableFunc(sorted, Compare)
	return sorted
}
