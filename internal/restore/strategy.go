package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/backup"
	"github.com/vya-digital/backupd/internal/compress"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/db"
	"github.com/vya-digital/backupd/internal/storage"
)

// StepError names the pipeline step that failed so callers and
// notifications can report "download failed" rather than a bare cause.
type StepError struct {
	Step string // download, decompress, restore
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("restore: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Strategy performs the work of one restore run.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, rc *Context) error
}

// FullStrategy restores a complete artifact: download into a scoped
// temp directory, decompress when needed, and load through the adapter.
// The temp directory is removed on every exit path.
type FullStrategy struct {
	NewAdapter backup.AdapterFactory
	NewBackend backup.BackendFactory
	Logger     *zap.Logger
}

// NewFullStrategy builds a FullStrategy with the production factories.
func NewFullStrategy(logger *zap.Logger) *FullStrategy {
	return &FullStrategy{
		NewAdapter: db.New,
		NewBackend: storage.New,
		Logger:     logger,
	}
}

func (s *FullStrategy) Name() string { return "full" }

func (s *FullStrategy) Execute(ctx context.Context, rc *Context) error {
	logger := s.Logger.Named("strategy.restore")

	backend, err := s.NewBackend(rc.Storage, s.Logger)
	if err != nil {
		return &StepError{Step: "download", Err: err}
	}

	tempDir, err := os.MkdirTemp("", "backupd_restore_")
	if err != nil {
		return &StepError{Step: "download", Err: err}
	}
	defer os.RemoveAll(tempDir)

	downloadPath := filepath.Join(tempDir, filepath.Base(rc.BackupFile))
	if err := backend.Download(ctx, rc.BackupFile, downloadPath); err != nil {
		return &StepError{Step: "download", Err: err}
	}
	rc.DownloadedFile = downloadPath
	if st, err := os.Stat(downloadPath); err == nil {
		rc.DownloadSize = st.Size()
	}
	logger.Info("artifact downloaded",
		zap.String("artifact", rc.BackupFile),
		zap.Int64("bytes", rc.DownloadSize),
	)

	restorePath := downloadPath
	if rc.NeedsDecompression() {
		method := rc.CompressionType()
		decompressed := strings.TrimSuffix(downloadPath, filepath.Ext(downloadPath))
		if err := compress.Decompress(downloadPath, decompressed, compress.Method(method)); err != nil {
			return &StepError{Step: "decompress", Err: err}
		}
		rc.DecompressedFile = decompressed
		restorePath = decompressed
		logger.Info("artifact decompressed",
			zap.String("method", method),
			zap.String("path", decompressed),
		)
	}

	adapter, err := s.NewAdapter(rc.Database, s.Logger)
	if err != nil {
		return &StepError{Step: "restore", Err: err}
	}
	defer adapter.Close()

	target := rc.Target()
	if rc.Database.Kind != config.KindFiles && target == "" {
		return &StepError{Step: "restore", Err: fmt.Errorf("no target database configured")}
	}
	if err := adapter.RestoreDatabase(ctx, target, restorePath); err != nil {
		return &StepError{Step: "restore", Err: err}
	}

	if st, err := os.Stat(restorePath); err == nil {
		rc.RestoredSize = st.Size()
	}
	rc.Complete()
	logger.Info("restore completed",
		zap.String("target", target),
		zap.Int64("restored_bytes", rc.RestoredSize),
	)
	return nil
}
