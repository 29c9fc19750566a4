// Package storage abstracts where backup artifacts live. Backends are
// stateless and safe for concurrent use; every operation is idempotent
// with respect to repeated calls observing the same remote state.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

// ErrNotFound is returned by Download, Size, and ModTime when the named
// object does not exist in the backend.
var ErrNotFound = errors.New("storage: object not found")

// SortBy selects the ordering of List results.
type SortBy string

const (
	SortNone SortBy = ""
	SortName SortBy = "name"
	SortTime SortBy = "time"
)

// Backend is the capability set shared by all storage implementations.
// Object names are relative paths ("20260115_030000_mysql_app.sql.gz");
// backends map them to absolute paths or bucket keys internally.
type Backend interface {
	// Upload copies a local file into the backend under name.
	Upload(ctx context.Context, localPath, name string) error
	// Download copies the named object to a local path, creating parent
	// directories as needed.
	Download(ctx context.Context, name, localPath string) error
	// List returns object names matching the glob pattern (all objects
	// when pattern is empty), ordered per sort.
	List(ctx context.Context, pattern string, sort SortBy) ([]string, error)
	// Delete removes one object. Deleting an absent object is a no-op.
	Delete(ctx context.Context, name string) error
	// DeleteMany removes a set of objects, returning the names that
	// could not be deleted alongside the first error met.
	DeleteMany(ctx context.Context, names []string) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
	Size(ctx context.Context, name string) (int64, error)
	ModTime(ctx context.Context, name string) (time.Time, error)
	// TotalBytes sums the size of every object in the backend.
	TotalBytes(ctx context.Context) (int64, error)
}

// Presigner is implemented by object stores that can mint time-limited
// download URLs.
type Presigner interface {
	PresignedURL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// New builds a Backend from storage settings.
func New(s config.StorageSettings, logger *zap.Logger) (Backend, error) {
	switch s.Type {
	case "local", "":
		return NewLocal(s.Path, logger)
	case "s3":
		return NewS3(s, logger)
	}
	return nil, fmt.Errorf("storage: unsupported storage type %q", s.Type)
}
