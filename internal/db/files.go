package db

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

// Files snapshots filesystem trees selected by glob patterns into
// gzipped tar archives. The instance's include-list holds the patterns;
// `**` segments match recursively. Archives preserve absolute paths so
// a restore without a target directory puts files back where they were.
type Files struct {
	inst   config.DatabaseInstance
	logger *zap.Logger
}

// NewFiles creates the files adapter. There is no server to connect to,
// so construction cannot fail.
func NewFiles(inst config.DatabaseInstance, logger *zap.Logger) *Files {
	return &Files{inst: inst, logger: logger.Named("db.files")}
}

// Databases returns the configured glob patterns; each pattern is one
// backup target.
func (f *Files) Databases(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.inst.Databases...), nil
}

// TestConnection reports whether at least one pattern's base directory
// exists and is accessible.
func (f *Files) TestConnection(ctx context.Context) bool {
	for _, pattern := range f.inst.Databases {
		base := patternBase(pattern)
		if base == "" {
			continue
		}
		if _, err := os.Stat(base); err == nil {
			return true
		}
	}
	f.logger.Warn("no accessible base paths", zap.Strings("patterns", f.inst.Databases))
	return false
}

// BackupDatabase expands the pattern and writes every matched regular
// file into a gzipped tar at outPath. Files that disappear or cannot be
// read mid-walk produce warnings, not failures; the archive fails only
// when the pattern matches nothing at all.
func (f *Files) BackupDatabase(ctx context.Context, pattern, outPath string) error {
	matches, err := expandPattern(pattern)
	if err != nil {
		return fmt.Errorf("db: bad file pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("db: no files match pattern %q", pattern)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("db: failed to create archive: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	added := 0
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			tw.Close()
			gw.Close()
			os.Remove(outPath)
			return err
		}
		if err := addToArchive(tw, path); err != nil {
			f.logger.Warn("skipping file",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		added++
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("db: failed to finish archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("db: failed to finish gzip stream: %w", err)
	}

	f.logger.Info("archived files",
		zap.String("pattern", pattern),
		zap.Int("files", added),
		zap.Int("matched", len(matches)),
	)
	return out.Sync()
}

// RestoreDatabase extracts the archive. target is the extraction root;
// empty means "/" (original absolute paths). Entries that fail to
// extract produce warnings and do not abort the restore.
func (f *Files) RestoreDatabase(ctx context.Context, target, inPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("db: failed to open archive: %w", err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("db: archive is not gzip: %w", err)
	}
	defer gr.Close()

	root := target
	if root == "" {
		root = "/"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("db: failed to create target directory: %w", err)
	}

	tr := tar.NewReader(gr)
	extracted := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("db: corrupt archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := extractFile(tr, hdr, root); err != nil {
			f.logger.Warn("failed to extract file",
				zap.String("name", hdr.Name),
				zap.Error(err),
			)
			continue
		}
		extracted++
	}

	f.logger.Info("extracted files",
		zap.String("target", root),
		zap.Int("files", extracted),
	)
	return nil
}

func (f *Files) BackupCommand(pattern, outPath string) string {
	return fmt.Sprintf("tar -czf %s <files matching: %s>", outPath, pattern)
}

func (f *Files) Close() error { return nil }

// patternBase strips the glob portion of a pattern, leaving the fixed
// directory prefix.
func patternBase(pattern string) string {
	parts := strings.Split(pattern, string(filepath.Separator))
	var base []string
	for _, part := range parts {
		if strings.ContainsAny(part, "*?[{") {
			break
		}
		base = append(base, part)
	}
	joined := strings.Join(base, string(filepath.Separator))
	if joined == "" && strings.HasPrefix(pattern, string(filepath.Separator)) {
		return string(filepath.Separator)
	}
	return joined
}

// expandPattern resolves a glob (including `**`) to the regular files it
// matches.
func expandPattern(pattern string) ([]string, error) {
	base := patternBase(pattern)
	if base == "" {
		base = "."
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(pattern, base), string(filepath.Separator))
	if rel == "" {
		rel = "**"
	}

	fsys := os.DirFS(base)
	matches, err := doublestar.Glob(fsys, rel)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, m := range matches {
		full := filepath.Join(base, m)
		st, err := os.Stat(full)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		files = append(files, full)
	}
	return files, nil
}

// addToArchive writes one file into the tar stream, keeping the absolute
// path (minus the leading separator, per tar convention) as the entry
// name.
func addToArchive(tw *tar.Writer, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(st, "")
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	hdr.Name = strings.TrimPrefix(abs, string(filepath.Separator))

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// extractFile writes one tar entry under root, rejecting entries whose
// cleaned path would escape it.
func extractFile(tr *tar.Reader, hdr *tar.Header, root string) error {
	cleaned := filepath.Clean(hdr.Name)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return fmt.Errorf("entry path %q escapes extraction root", hdr.Name)
	}
	dest := filepath.Join(root, cleaned)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode).Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
