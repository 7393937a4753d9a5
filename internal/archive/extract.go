package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ContentMode is applied to the extracted content file (rw-rw-r--).
const ContentMode fs.FileMode = 0o664

var (
	// ErrUnsafePath is returned for tar entries that would land outside the output directory.
	ErrUnsafePath = errors.New("archive entry escapes output directory")
	// ErrContentMissing is returned when the conventionally named content file was not unpacked.
	ErrContentMissing = errors.New("expected content file not found after unpacking")
)

// ContentFileName derives the content file name an archive is expected to
// hold: everything before ".tar" in the base name, plus ".xml".
func ContentFileName(archivePath string) string {
	base := filepath.Base(archivePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base, _, _ = strings.Cut(base, ".tar")
	return base + ".xml"
}

// Extractor unpacks gzip-compressed tar archives.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor returns an Extractor that logs to logger.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{logger: logger}
}

// Extract decompresses and unpacks archivePath into outputDir and returns the
// path of the content file named by ContentFileName, with its mode set to
// ContentMode. outputDir must already exist.
func (e *Extractor) Extract(ctx context.Context, archivePath, outputDir string) (string, error) {
	l := e.logger.With(slog.String("archive", filepath.Base(archivePath)))

	info, err := os.Stat(outputDir)
	if err != nil {
		return "", fmt.Errorf("output directory %s: %w", outputDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output path %s is not a directory", outputDir)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", archivePath, err)
	}
	defer gz.Close()

	unpacked, err := e.untar(ctx, l, tar.NewReader(gz), outputDir)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", archivePath, err)
	}

	outputFile := filepath.Join(outputDir, ContentFileName(archivePath))
	if _, err := os.Stat(outputFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s (unpacked: %s)", ErrContentMissing, outputFile, strings.Join(unpacked, ", "))
		}
		return "", fmt.Errorf("stat content file %s: %w", outputFile, err)
	}
	if err := os.Chmod(outputFile, ContentMode); err != nil {
		return "", fmt.Errorf("set permissions on %s: %w", outputFile, err)
	}
	l.Debug("Archive extracted.", slog.String("output_file", outputFile), slog.Int("entries", len(unpacked)))
	return outputFile, nil
}

// untar writes every directory and regular file entry under dir and returns
// the relative names of the regular files written.
func (e *Extractor) untar(ctx context.Context, l *slog.Logger, tr *tar.Reader, dir string) ([]string, error) {
	var written []string
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read tar header: %w", err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return written, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return written, err
			}
			written = append(written, hdr.Name)
		default:
			l.Debug("Skipping non-regular tar entry.", slog.String("entry", hdr.Name), slog.String("type", string(hdr.Typeflag)))
		}
	}
}

func writeEntry(r io.Reader, target string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", target, err)
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	_, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(target)
		return fmt.Errorf("write file %s: %w", target, err)
	}
	return nil
}

func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}
