// Package compress streams backup artifacts between their raw and
// compressed forms. Methods: gzip (.gz), bzip2 (.bz2), and zip (.zip,
// single entry named after the source file). The method is auto-detected
// from the destination suffix when compressing and from the source
// suffix when decompressing.
package compress

import (
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
)

// Method identifies a compression codec.
type Method string

const (
	Gzip  Method = "gzip"
	Bzip2 Method = "bzip2"
	Zip   Method = "zip"
)

const (
	gzipLevel  = 6
	bzip2Level = 9
)

// ErrUnknownMethod is returned when a method can neither be detected
// from the file suffix nor was given explicitly.
var ErrUnknownMethod = errors.New("compress: unknown compression method")

// Detect maps a file path to its compression method by suffix. ok is
// false for paths with no recognized compression suffix.
func Detect(path string) (Method, bool) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip, true
	case strings.HasSuffix(path, ".bz2"):
		return Bzip2, true
	case strings.HasSuffix(path, ".zip"):
		return Zip, true
	}
	return "", false
}

// Compress writes src to dst using method. An empty method is detected
// from dst's suffix, defaulting to gzip.
func Compress(src, dst string, method Method) error {
	if method == "" {
		if m, ok := Detect(dst); ok {
			method = m
		} else {
			method = Gzip
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("compress: failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("compress: failed to create destination: %w", err)
	}
	defer out.Close()

	switch method {
	case Gzip:
		gw, err := gzip.NewWriterLevel(out, gzipLevel)
		if err != nil {
			return fmt.Errorf("compress: gzip writer: %w", err)
		}
		if _, err := io.Copy(gw, in); err != nil {
			gw.Close()
			return fmt.Errorf("compress: gzip copy: %w", err)
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("compress: gzip close: %w", err)
		}
	case Bzip2:
		bw, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2Level})
		if err != nil {
			return fmt.Errorf("compress: bzip2 writer: %w", err)
		}
		if _, err := io.Copy(bw, in); err != nil {
			bw.Close()
			return fmt.Errorf("compress: bzip2 copy: %w", err)
		}
		if err := bw.Close(); err != nil {
			return fmt.Errorf("compress: bzip2 close: %w", err)
		}
	case Zip:
		zw := zip.NewWriter(out)
		entry, err := zw.Create(filepath.Base(src))
		if err != nil {
			return fmt.Errorf("compress: zip entry: %w", err)
		}
		if _, err := io.Copy(entry, in); err != nil {
			zw.Close()
			return fmt.Errorf("compress: zip copy: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress: zip close: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	return out.Sync()
}

// Decompress writes the decoded contents of src to dst. An empty method
// is detected from src's suffix, defaulting to gzip. For zip archives
// the first entry is extracted.
func Decompress(src, dst string, method Method) error {
	if method == "" {
		if m, ok := Detect(src); ok {
			method = m
		} else {
			method = Gzip
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("compress: failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("compress: failed to create destination: %w", err)
	}
	defer out.Close()

	switch method {
	case Gzip:
		gr, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("compress: gzip reader: %w", err)
		}
		defer gr.Close()
		if _, err := io.Copy(out, gr); err != nil {
			return fmt.Errorf("compress: gzip copy: %w", err)
		}
	case Bzip2:
		br, err := bzip2.NewReader(in, nil)
		if err != nil {
			return fmt.Errorf("compress: bzip2 reader: %w", err)
		}
		defer br.Close()
		if _, err := io.Copy(out, br); err != nil {
			return fmt.Errorf("compress: bzip2 copy: %w", err)
		}
	case Zip:
		st, err := in.Stat()
		if err != nil {
			return fmt.Errorf("compress: stat source: %w", err)
		}
		zr, err := zip.NewReader(in, st.Size())
		if err != nil {
			return fmt.Errorf("compress: zip reader: %w", err)
		}
		if len(zr.File) == 0 {
			return fmt.Errorf("compress: zip archive %s is empty", src)
		}
		entry, err := zr.File[0].Open()
		if err != nil {
			return fmt.Errorf("compress: zip entry open: %w", err)
		}
		defer entry.Close()
		if _, err := io.Copy(out, entry); err != nil {
			return fmt.Errorf("compress: zip copy: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	return out.Sync()
}

// Ratio returns original/compressed size, or ok=false when either file
// is missing or the compressed artifact is zero bytes.
func Ratio(originalPath, compressedPath string) (float64, bool) {
	orig, err := os.Stat(originalPath)
	if err != nil {
		return 0, false
	}
	comp, err := os.Stat(compressedPath)
	if err != nil || comp.Size() == 0 {
		return 0, false
	}
	return float64(orig.Size()) / float64(comp.Size()), true
}

// Extension returns the artifact filename suffix for a method, with ""
// meaning no compression.
func Extension(method Method) string {
	switch method {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case Zip:
		return ".zip"
	}
	return ""
}
