// Package db provides the per-engine adapters the backup and restore
// strategies drive. An adapter knows how to enumerate user databases,
// probe connectivity, and produce or load a logical dump. Concrete
// kinds: mysql, postgresql, and files (filesystem snapshots).
//
// Adapters own a pooled *sql.DB (except the files adapter, which has no
// server). They are not safe for unsynchronized sharing across
// goroutines; each executor invocation opens its own adapter and closes
// it on every exit path.
package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
)

// ConnectTimeout bounds the connectivity probe and pool dials.
const ConnectTimeout = 30 * time.Second

// connMaxLifetime recycles pooled connections so long-lived daemons do
// not hold sessions past server-side idle timeouts.
const connMaxLifetime = time.Hour

// Adapter is the capability set every database kind implements.
type Adapter interface {
	// Databases lists the user databases on the server, with the kind's
	// system databases and the instance exclude-list filtered out. For
	// the files kind it returns the configured glob patterns.
	Databases(ctx context.Context) ([]string, error)
	// TestConnection reports whether the server (or, for files, at
	// least one pattern base directory) is reachable.
	TestConnection(ctx context.Context) bool
	// BackupDatabase writes a logical dump of the named database to
	// outPath.
	BackupDatabase(ctx context.Context, database, outPath string) error
	// RestoreDatabase loads the dump at inPath into the named database.
	RestoreDatabase(ctx context.Context, database, inPath string) error
	// BackupCommand returns the dump command line for logging. The
	// returned string never contains credentials.
	BackupCommand(database, outPath string) string
	// Close releases pooled connections. Safe to call more than once.
	Close() error
}

// New builds the adapter for an instance's kind.
func New(inst config.DatabaseInstance, logger *zap.Logger) (Adapter, error) {
	switch inst.Kind {
	case config.KindMySQL:
		return NewMySQL(inst, logger)
	case config.KindPostgreSQL:
		return NewPostgres(inst, logger)
	case config.KindFiles:
		return NewFiles(inst, logger), nil
	}
	return nil, fmt.Errorf("db: unsupported database kind %q", inst.Kind)
}

// WithAdapter runs fn with an adapter for the instance and guarantees
// Close on every exit path, including panics.
func WithAdapter(inst config.DatabaseInstance, logger *zap.Logger, fn func(Adapter) error) error {
	adapter, err := New(inst, logger)
	if err != nil {
		return err
	}
	defer adapter.Close()
	return fn(adapter)
}

// selectTargets computes the databases a backup run covers: the
// include-list intersected with what the server reports, minus the
// exclude set. An empty include-list means every user database.
func selectTargets(include []string, serverDatabases []string, exclude map[string]struct{}) []string {
	includeSet := make(map[string]struct{}, len(include))
	for _, name := range include {
		includeSet[name] = struct{}{}
	}

	var targets []string
	for _, name := range serverDatabases {
		if _, skip := exclude[name]; skip {
			continue
		}
		if len(includeSet) > 0 {
			if _, ok := includeSet[name]; !ok {
				continue
			}
		}
		targets = append(targets, name)
	}
	return targets
}

// SelectTargets is the exported form used by the backup strategy.
func SelectTargets(inst config.DatabaseInstance, serverDatabases []string) []string {
	return selectTargets(inst.Databases, serverDatabases, inst.ExcludeSet())
}
