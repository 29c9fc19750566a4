package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/compress"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/db"
	"github.com/vya-digital/backupd/internal/storage"
)

// Policy selects the aggregate result semantics of a multi-database run.
type Policy string

const (
	// PolicyBestEffort treats the run as successful when at least one
	// database produced an artifact; individual failures are recorded.
	PolicyBestEffort Policy = "best-effort"
	// PolicyAllOrNothing fails the run if any database fails.
	PolicyAllOrNothing Policy = "all-or-nothing"
)

// Strategy performs the work of one backup run end-to-end.
type Strategy interface {
	Name() string
	// Execute runs the backup into bc. A nil return means the run
	// satisfied the configured policy; bc.Results carries the
	// per-database breakdown either way.
	Execute(ctx context.Context, bc *Context) error
}

// AdapterFactory and BackendFactory are injection points for tests.
type AdapterFactory func(config.DatabaseInstance, *zap.Logger) (db.Adapter, error)

// BackendFactory builds the storage backend for a run.
type BackendFactory func(config.StorageSettings, *zap.Logger) (storage.Backend, error)

// FullStrategy dumps every target database in full: enumerate, dump,
// compress, upload, clean. It is the only concrete strategy.
type FullStrategy struct {
	Policy     Policy
	NewAdapter AdapterFactory
	NewBackend BackendFactory
	Logger     *zap.Logger
}

// NewFullStrategy builds a FullStrategy with the production factories.
func NewFullStrategy(policy Policy, logger *zap.Logger) *FullStrategy {
	if policy == "" {
		policy = PolicyBestEffort
	}
	return &FullStrategy{
		Policy:     policy,
		NewAdapter: db.New,
		NewBackend: storage.New,
		Logger:     logger,
	}
}

func (s *FullStrategy) Name() string { return "full" }

// timestampLayout matches the artifact naming contract
// YYYYMMDD_HHMMSS_<kind>_<name>.<ext>.
const timestampLayout = "20060102_150405"

func (s *FullStrategy) Execute(ctx context.Context, bc *Context) error {
	logger := s.Logger.Named("strategy.full")

	adapter, err := s.NewAdapter(bc.Database, s.Logger)
	if err != nil {
		return &FatalError{Step: "adapter", Err: err}
	}
	defer adapter.Close()

	backend, err := s.NewBackend(bc.Storage, s.Logger)
	if err != nil {
		return &FatalError{Step: "storage", Err: err}
	}

	serverDatabases, err := adapter.Databases(ctx)
	if err != nil {
		return &FatalError{Step: "enumerate", Err: err}
	}
	targets := db.SelectTargets(bc.Database, serverDatabases)
	sort.Strings(targets)
	if len(targets) == 0 {
		return &FatalError{Step: "enumerate", Err: fmt.Errorf("no target databases on %s", bc.Database.Host)}
	}

	logger.Info("backup targets selected",
		zap.String("instance", bc.Database.ID),
		zap.Int("count", len(targets)),
	)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := s.backupOne(ctx, bc, adapter, backend, target)
		bc.Results = append(bc.Results, result)
		if result.Err != nil {
			logger.Error("database backup failed",
				zap.String("database", target),
				zap.Error(result.Err),
			)
			if s.Policy == PolicyAllOrNothing {
				return fmt.Errorf("backup: database %s failed: %w", target, result.Err)
			}
			continue
		}
	}

	if bc.SucceededCount() == 0 {
		failed := bc.FailedDatabases()
		return fmt.Errorf("backup: all %d database(s) failed: %w", len(failed), failed[0].Err)
	}
	return nil
}

// backupOne runs the dump-compress-upload pipeline for a single target.
// Failures are returned in the result, not raised, so one bad database
// does not abort the fleet under the best-effort policy.
func (s *FullStrategy) backupOne(ctx context.Context, bc *Context, adapter db.Adapter, backend storage.Backend, target string) DatabaseResult {
	result := DatabaseResult{Database: target}

	dumpDir := bc.System.PathSQL
	if bc.Database.Kind == config.KindFiles {
		dumpDir = bc.System.PathFiles
	}
	if err := os.MkdirAll(dumpDir, 0o750); err != nil {
		result.Err = fmt.Errorf("prepare dump directory: %w", err)
		return result
	}

	rawName := fmt.Sprintf("%s_%s_%s%s",
		bc.StartTime.Format(timestampLayout),
		bc.Database.Kind,
		artifactName(bc.Database.Kind, target),
		rawExtension(bc.Database.Kind),
	)
	dumpPath := filepath.Join(dumpDir, rawName)

	if err := adapter.BackupDatabase(ctx, target, dumpPath); err != nil {
		result.Err = fmt.Errorf("dump: %w", err)
		return result
	}
	bc.TempFiles = append(bc.TempFiles, dumpPath)

	dumpInfo, err := os.Stat(dumpPath)
	if err != nil {
		result.Err = fmt.Errorf("dump: %w", err)
		return result
	}
	dumpSize := dumpInfo.Size()
	var compressedSize int64

	// The files adapter already writes a compressed archive; an extra
	// pass would only re-wrap it.
	uploadPath := dumpPath
	uploadName := rawName
	method := compress.Method(bc.Backup.Compression)
	if method != "" && bc.Database.Kind != config.KindFiles {
		if err := os.MkdirAll(bc.System.PathZip, 0o750); err != nil {
			result.Err = fmt.Errorf("compress: %w", err)
			return result
		}
		uploadName = rawName + compress.Extension(method)
		uploadPath = filepath.Join(bc.System.PathZip, uploadName)
		if err := compress.Compress(dumpPath, uploadPath, method); err != nil {
			result.Err = fmt.Errorf("compress: %w", err)
			return result
		}
		bc.TempFiles = append(bc.TempFiles, uploadPath)

		compInfo, err := os.Stat(uploadPath)
		if err != nil {
			result.Err = fmt.Errorf("compress: %w", err)
			return result
		}
		compressedSize = compInfo.Size()
	}

	if err := backend.Upload(ctx, uploadPath, uploadName); err != nil {
		result.Err = fmt.Errorf("upload: %w", err)
		return result
	}

	bc.BackupFile = uploadName
	bc.BackupSize = dumpSize
	bc.CompressedSize = compressedSize
	bc.StorageLocation = fmt.Sprintf("%s:%s", bc.Storage.Type, uploadName)
	result.Artifact = uploadName

	// Local temp copies are only needed until the upload lands.
	removeAll(bc, dumpPath, uploadPath)
	return result
}

// artifactNameSanitizer collapses anything a files glob pattern may
// contain into filename-safe characters so every artifact name stays
// parseable by the retention engine.
var artifactNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func artifactName(kind config.Kind, target string) string {
	if kind != config.KindFiles {
		return target
	}
	name := artifactNameSanitizer.ReplaceAllString(target, "-")
	return name
}

func rawExtension(kind config.Kind) string {
	if kind == config.KindFiles {
		return ".tar.gz"
	}
	return ".sql"
}

// removeAll deletes the given paths and drops them from the context's
// temp list.
func removeAll(bc *Context, paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
	var remaining []string
	for _, t := range bc.TempFiles {
		keep := true
		for _, p := range paths {
			if t == p {
				keep = false
				break
			}
		}
		if keep {
			remaining = append(remaining, t)
		}
	}
	bc.TempFiles = remaining
}
