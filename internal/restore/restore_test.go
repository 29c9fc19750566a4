package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/compress"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/db"
	"github.com/vya-digital/backupd/internal/monitoring"
	"github.com/vya-digital/backupd/internal/storage"
)

// fakeAdapter records the restore calls it receives.
type fakeAdapter struct {
	restored map[string]string // database -> dump path contents
	fail     bool
}

func (f *fakeAdapter) Databases(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeAdapter) TestConnection(ctx context.Context) bool         { return true }

func (f *fakeAdapter) BackupDatabase(ctx context.Context, database, outPath string) error {
	return nil
}

func (f *fakeAdapter) RestoreDatabase(ctx context.Context, database, inPath string) error {
	if f.fail {
		return errors.New("load failed")
	}
	content, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	if f.restored == nil {
		f.restored = map[string]string{}
	}
	f.restored[database] = string(content)
	return nil
}

func (f *fakeAdapter) BackupCommand(database, outPath string) string { return "" }
func (f *fakeAdapter) Close() error                                  { return nil }

// seedStorage compresses content into the local backend under name.
func seedStorage(t *testing.T, storePath, name, content string) {
	t.Helper()
	backend, err := storage.NewLocal(storePath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	raw := filepath.Join(t.TempDir(), "raw.sql")
	if err := os.WriteFile(raw, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	local := raw
	if m, ok := compress.Detect(name); ok {
		compressed := raw + compress.Extension(m)
		if err := compress.Compress(raw, compressed, m); err != nil {
			t.Fatal(err)
		}
		local = compressed
	}
	if err := backend.Upload(context.Background(), local, name); err != nil {
		t.Fatal(err)
	}
}

func restoreSetup(t *testing.T, artifact string) (*Context, *fakeAdapter, *FullStrategy) {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "store")
	seedStorage(t, storePath, artifact, "-- dump\nSELECT 1;\n")

	rc := NewContext(
		config.DatabaseInstance{
			ID: "1", Kind: config.KindPostgreSQL,
			Host: "db1", Port: 5432, Database: "testdb", Enabled: true,
		},
		config.StorageSettings{Type: "local", Path: storePath},
		artifact,
	)

	adapter := &fakeAdapter{}
	strategy := NewFullStrategy(zap.NewNop())
	strategy.NewAdapter = func(config.DatabaseInstance, *zap.Logger) (db.Adapter, error) {
		return adapter, nil
	}
	return rc, adapter, strategy
}

func TestContextCompressionDetection(t *testing.T) {
	cases := []struct {
		file  string
		needs bool
		kind  string
	}{
		{"/backups/testdb.sql.gz", true, "gzip"},
		{"/backups/testdb.sql.bz2", true, "bzip2"},
		{"/backups/testdb.sql", false, ""},
		{"/backups/20260101_000000_files_data.tar.gz", false, ""},
	}
	for _, tc := range cases {
		rc := &Context{BackupFile: tc.file}
		if got := rc.NeedsDecompression(); got != tc.needs {
			t.Errorf("NeedsDecompression(%s) = %v", tc.file, got)
		}
		if got := rc.CompressionType(); got != tc.kind {
			t.Errorf("CompressionType(%s) = %q, want %q", tc.file, got, tc.kind)
		}
	}
}

func TestRestoreCompressedArtifact(t *testing.T) {
	rc, adapter, strategy := restoreSetup(t, "testdb.sql.gz")
	exec := NewExecutor(ExecutorConfig{Strategy: strategy, MaxRetries: 1, Logger: zap.NewNop()})

	if err := exec.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if rc.Status != StatusCompleted {
		t.Errorf("status = %s", rc.Status)
	}
	if got := adapter.restored["testdb"]; got != "-- dump\nSELECT 1;\n" {
		t.Errorf("restored content = %q", got)
	}
	if rc.DecompressedFile == "" || filepath.Ext(rc.DecompressedFile) != ".sql" {
		t.Errorf("decompressed file = %q", rc.DecompressedFile)
	}
	if rc.RestoredSize == 0 {
		t.Error("restored size not stamped")
	}
	// Scoped temp dir is gone.
	if _, err := os.Stat(filepath.Dir(rc.DownloadedFile)); !os.IsNotExist(err) {
		t.Errorf("temp dir survived: %v", err)
	}
}

func TestRestoreTargetOverride(t *testing.T) {
	rc, adapter, strategy := restoreSetup(t, "testdb.sql.gz")
	rc.TargetDatabase = "staging_copy"
	exec := NewExecutor(ExecutorConfig{Strategy: strategy, MaxRetries: 1, Logger: zap.NewNop()})

	if err := exec.Execute(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
	if _, ok := adapter.restored["staging_copy"]; !ok {
		t.Errorf("restored into %v, want staging_copy", adapter.restored)
	}
}

func TestRestoreFailureNamesStep(t *testing.T) {
	t.Run("download", func(t *testing.T) {
		rc, _, strategy := restoreSetup(t, "testdb.sql.gz")
		rc.BackupFile = "missing.sql.gz"
		exec := NewExecutor(ExecutorConfig{Strategy: strategy, MaxRetries: 1, Logger: zap.NewNop()})

		err := exec.Execute(context.Background(), rc)
		var step *StepError
		if !errors.As(err, &step) || step.Step != "download" {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("restore", func(t *testing.T) {
		rc, adapter, strategy := restoreSetup(t, "testdb.sql.gz")
		adapter.fail = true
		exec := NewExecutor(ExecutorConfig{Strategy: strategy, MaxRetries: 1, Logger: zap.NewNop()})

		err := exec.Execute(context.Background(), rc)
		var step *StepError
		if !errors.As(err, &step) || step.Step != "restore" {
			t.Errorf("err = %v", err)
		}
		if rc.Status != StatusFailed {
			t.Errorf("status = %s", rc.Status)
		}
	})
}

func TestRestoreRecordsMetrics(t *testing.T) {
	rc, _, strategy := restoreSetup(t, "testdb.sql.gz")
	collector := monitoring.NewCollector()
	exec := NewExecutor(ExecutorConfig{
		Strategy: strategy, MaxRetries: 1,
		Metrics: collector, Logger: zap.NewNop(),
	})

	if err := exec.Execute(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
	recs := collector.RestoreMetrics()
	if len(recs) != 1 || !recs[0].Success || recs[0].Database != "testdb" {
		t.Errorf("metrics = %+v", recs)
	}
}

func TestRestoreInvalidContext(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Strategy: NewFullStrategy(zap.NewNop()), Logger: zap.NewNop()})
	rc := &Context{}
	if err := exec.Execute(context.Background(), rc); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("Execute = %v", err)
	}
}

func TestRestoreUncompressedArtifact(t *testing.T) {
	rc, adapter, strategy := restoreSetup(t, "testdb.sql")
	exec := NewExecutor(ExecutorConfig{Strategy: strategy, MaxRetries: 1, Logger: zap.NewNop()})

	if err := exec.Execute(context.Background(), rc); err != nil {
		t.Fatal(err)
	}
	if rc.DecompressedFile != "" {
		t.Errorf("uncompressed artifact was decompressed: %q", rc.DecompressedFile)
	}
	if _, ok := adapter.restored["testdb"]; !ok {
		t.Error("artifact not restored")
	}
}
