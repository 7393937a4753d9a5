package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArchivePath identifies one candidate archive in a source directory.
type ArchivePath struct {
	Path   string // full path as listed
	Stem   string // base name without its final extension
	Number string // first run of digits in the stem, leading zeros trimmed; "0" when absent
	IsDir  bool
}

// NewArchivePath derives the stem and embedded integer for path.
func NewArchivePath(path string) ArchivePath {
	stem := stemOf(path)
	return ArchivePath{
		Path:   path,
		Stem:   stem,
		Number: embeddedNumber(stem),
	}
}

// Name returns the base name of the archive.
func (a ArchivePath) Name() string {
	return filepath.Base(a.Path)
}

// Locate lists every direct entry of dir in the order the filesystem returns
// them. Any failure to read the directory or stat an entry is returned, since
// a partial listing would silently drop archives from the run.
func Locate(dir string) ([]ArchivePath, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read directory %s: %w", dir, err)
	}
	defer f.Close()

	// Readdir with n <= 0 keeps filesystem order; os.ReadDir would sort by name.
	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, fmt.Errorf("error reading entries of %s: %w", dir, err)
	}

	paths := make([]ArchivePath, 0, len(infos))
	for _, info := range infos {
		p := NewArchivePath(filepath.Join(dir, info.Name()))
		p.IsDir = info.IsDir()
		paths = append(paths, p)
	}
	return paths, nil
}
