package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Local stores artifacts under a base directory on the local filesystem.
type Local struct {
	base   string
	logger *zap.Logger
}

// NewLocal creates a Local backend rooted at base, creating the
// directory if needed.
func NewLocal(base string, logger *zap.Logger) (*Local, error) {
	if base == "" {
		return nil, fmt.Errorf("storage: local backend requires a path")
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("storage: failed to create %s: %w", base, err)
	}
	return &Local{base: base, logger: logger.Named("storage.local")}, nil
}

func (l *Local) Upload(ctx context.Context, localPath, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(l.base, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("storage: failed to create parent of %s: %w", name, err)
	}
	if err := copyFile(localPath, dst); err != nil {
		return fmt.Errorf("storage: upload %s: %w", name, err)
	}
	l.logger.Info("uploaded artifact", zap.String("name", name))
	return nil
}

func (l *Local) Download(ctx context.Context, name, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := filepath.Join(l.base, name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("storage: stat %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("storage: failed to create parent of %s: %w", localPath, err)
	}
	if err := copyFile(src, localPath); err != nil {
		return fmt.Errorf("storage: download %s: %w", name, err)
	}
	l.logger.Info("downloaded artifact", zap.String("name", name))
	return nil
}

func (l *Local) List(ctx context.Context, pattern string, by SortBy) ([]string, error) {
	type item struct {
		name string
		mod  time.Time
	}
	var items []item

	err := filepath.WalkDir(l.base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if pattern != "" {
			matched, err := filepath.Match(pattern, filepath.Base(rel))
			if err != nil {
				return fmt.Errorf("storage: bad list pattern %q: %w", pattern, err)
			}
			if !matched {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, item{name: rel, mod: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch by {
	case SortName:
		sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
	case SortTime:
		sort.Slice(items, func(i, j int) bool { return items[i].mod.Before(items[j].mod) })
	}

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}

func (l *Local) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(l.base, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

func (l *Local) DeleteMany(ctx context.Context, names []string) ([]string, error) {
	var failed []string
	var firstErr error
	for _, name := range names {
		if err := l.Delete(ctx, name); err != nil {
			failed = append(failed, name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(l.base, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Size(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st, err := os.Stat(filepath.Join(l.base, name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, err
	}
	return st.Size(), nil
}

func (l *Local) ModTime(ctx context.Context, name string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	st, err := os.Stat(filepath.Join(l.base, name))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return time.Time{}, err
	}
	return st.ModTime(), nil
}

func (l *Local) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(l.base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// copyFile copies src to dst preserving content; the destination is
// synced before return so a crash after Upload cannot lose the artifact.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
