package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/db"
	"github.com/vya-digital/backupd/internal/monitoring"
	"github.com/vya-digital/backupd/internal/storage"
)

// fakeAdapter scripts per-call dump outcomes keyed by database name.
// failuresBefore[db] dumps fail until that many attempts have happened.
type fakeAdapter struct {
	databases      []string
	failuresBefore map[string]int
	calls          map[string]int
}

func (f *fakeAdapter) Databases(ctx context.Context) ([]string, error) {
	return f.databases, nil
}

func (f *fakeAdapter) TestConnection(ctx context.Context) bool { return true }

func (f *fakeAdapter) BackupDatabase(ctx context.Context, database, outPath string) error {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[database]++
	if f.calls[database] <= f.failuresBefore[database] {
		return fmt.Errorf("dump of %s failed", database)
	}
	return os.WriteFile(outPath, []byte("-- dump of "+database+"\n"), 0o600)
}

func (f *fakeAdapter) RestoreDatabase(ctx context.Context, database, inPath string) error {
	return nil
}

func (f *fakeAdapter) BackupCommand(database, outPath string) string {
	return "fake-dump " + database
}

func (f *fakeAdapter) Close() error { return nil }

func testContext(t *testing.T) *Context {
	t.Helper()
	base := t.TempDir()
	return NewContext(
		config.DatabaseInstance{
			ID: "1", Kind: config.KindMySQL,
			Host: "db1", Port: 3306, Username: "root", Enabled: true,
		},
		config.StorageSettings{Type: "local", Path: filepath.Join(base, "store")},
		config.BackupSettings{Compression: "gzip", RetentionDays: 7},
		config.BackupSystem{
			PathSQL:   filepath.Join(base, "sql"),
			PathZip:   filepath.Join(base, "zip"),
			PathFiles: filepath.Join(base, "files"),
		},
	)
}

func strategyWith(adapter *fakeAdapter, policy Policy) *FullStrategy {
	s := NewFullStrategy(policy, zap.NewNop())
	s.NewAdapter = func(config.DatabaseInstance, *zap.Logger) (db.Adapter, error) {
		return adapter, nil
	}
	return s
}

func TestExecuteSingleDatabaseSuccess(t *testing.T) {
	adapter := &fakeAdapter{databases: []string{"app"}}
	collector := monitoring.NewCollector()
	exec := NewExecutor(ExecutorConfig{
		Strategy:    strategyWith(adapter, PolicyBestEffort),
		MaxRetries:  1,
		CleanupTemp: true,
		Metrics:     collector,
		Logger:      zap.NewNop(),
	})

	bc := testContext(t)
	if err := exec.Execute(context.Background(), bc); err != nil {
		t.Fatalf("Execute = %v", err)
	}

	if bc.Status != StatusCompleted {
		t.Errorf("status = %s", bc.Status)
	}
	if bc.BackupFile == "" || bc.StorageLocation == "" {
		t.Errorf("artifact metadata missing: %+v", bc)
	}

	// The artifact name embeds the context start time.
	wantPrefix := bc.StartTime.Format("20060102_150405") + "_mysql_app.sql.gz"
	if bc.BackupFile != wantPrefix {
		t.Errorf("artifact = %q, want %q", bc.BackupFile, wantPrefix)
	}

	// Artifact landed in storage.
	backend, err := storage.NewLocal(bc.Storage.Path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ok, err := backend.Exists(context.Background(), bc.BackupFile)
	if err != nil || !ok {
		t.Errorf("artifact not in storage: %v %v", ok, err)
	}

	// Temp copies are gone.
	if len(bc.TempFiles) != 0 {
		t.Errorf("temp files left: %v", bc.TempFiles)
	}

	recs := collector.BackupMetrics()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("metrics = %+v", recs)
	}
}

func TestExecuteRetryThenSucceed(t *testing.T) {
	adapter := &fakeAdapter{
		databases:      []string{"app"},
		failuresBefore: map[string]int{"app": 1},
	}
	collector := monitoring.NewCollector()
	alerts := monitoring.NewAlertManager()
	exec := NewExecutor(ExecutorConfig{
		Strategy:   strategyWith(adapter, PolicyBestEffort),
		MaxRetries: 2,
		RetryDelay: 0,
		Metrics:    collector,
		Alerts:     alerts,
		Logger:     zap.NewNop(),
	})

	bc := testContext(t)
	if err := exec.Execute(context.Background(), bc); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if adapter.calls["app"] != 2 {
		t.Errorf("dump attempts = %d, want 2", adapter.calls["app"])
	}

	recs := collector.BackupMetrics()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("want exactly one success metric, got %+v", recs)
	}
	if len(alerts.History(0)) != 0 {
		t.Errorf("alerts fired: %v", alerts.History(0))
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	adapter := &fakeAdapter{
		databases:      []string{"app"},
		failuresBefore: map[string]int{"app": 10},
	}
	collector := monitoring.NewCollector()
	exec := NewExecutor(ExecutorConfig{
		Strategy:   strategyWith(adapter, PolicyBestEffort),
		MaxRetries: 2,
		RetryDelay: 0,
		Metrics:    collector,
		Logger:     zap.NewNop(),
	})

	bc := testContext(t)
	err := exec.Execute(context.Background(), bc)
	if err == nil {
		t.Fatal("Execute succeeded with always-failing adapter")
	}
	if bc.Status != StatusFailed || bc.ErrorMessage == "" {
		t.Errorf("context = %s %q", bc.Status, bc.ErrorMessage)
	}

	recs := collector.BackupMetrics()
	if len(recs) != 1 || recs[0].Success {
		t.Errorf("want one failure metric, got %+v", recs)
	}
}

func TestExecuteBestEffortPartialFailure(t *testing.T) {
	adapter := &fakeAdapter{
		databases:      []string{"good", "bad"},
		failuresBefore: map[string]int{"bad": 10},
	}
	exec := NewExecutor(ExecutorConfig{
		Strategy:   strategyWith(adapter, PolicyBestEffort),
		MaxRetries: 1,
		Logger:     zap.NewNop(),
	})

	bc := testContext(t)
	err := exec.Execute(context.Background(), bc)

	var partial *PartialError
	if !errors.As(err, &partial) {
		t.Fatalf("Execute = %v, want PartialError", err)
	}
	if len(partial.Failed) != 1 || partial.Failed[0].Database != "bad" {
		t.Errorf("failed set = %+v", partial.Failed)
	}
	// Best-effort: the run itself completed.
	if bc.Status != StatusCompleted {
		t.Errorf("status = %s", bc.Status)
	}
	if bc.SucceededCount() != 1 {
		t.Errorf("succeeded = %d", bc.SucceededCount())
	}
}

func TestExecuteAllOrNothing(t *testing.T) {
	adapter := &fakeAdapter{
		databases:      []string{"good", "bad"},
		failuresBefore: map[string]int{"bad": 10},
	}
	exec := NewExecutor(ExecutorConfig{
		Strategy:   strategyWith(adapter, PolicyAllOrNothing),
		MaxRetries: 1,
		Logger:     zap.NewNop(),
	})

	bc := testContext(t)
	err := exec.Execute(context.Background(), bc)
	if err == nil {
		t.Fatal("all-or-nothing run with a failing database succeeded")
	}
	if bc.Status != StatusFailed {
		t.Errorf("status = %s", bc.Status)
	}
}

func TestExecuteInvalidContext(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{
		Strategy: strategyWith(&fakeAdapter{}, PolicyBestEffort),
		Logger:   zap.NewNop(),
	})
	bc := &Context{}
	if err := exec.Execute(context.Background(), bc); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("Execute = %v, want ErrInvalidContext", err)
	}
	if bc.Status != StatusFailed {
		t.Errorf("status = %s", bc.Status)
	}
}

func TestExecuteCancelledBeforeRetry(t *testing.T) {
	adapter := &fakeAdapter{
		databases:      []string{"app"},
		failuresBefore: map[string]int{"app": 10},
	}
	exec := NewExecutor(ExecutorConfig{
		Strategy:   strategyWith(adapter, PolicyBestEffort),
		MaxRetries: 5,
		RetryDelay: 0,
		Logger:     zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	bc := testContext(t)

	// Cancel after the first dump attempt via the progress hook.
	exec.cfg.Progress = func(stage string, _ *Context) {
		if stage == "retry" {
			cancel()
		}
	}

	err := exec.Execute(ctx, bc)
	if err == nil {
		t.Fatal("cancelled run succeeded")
	}
	// Cancellation stops retries early: at most two dump attempts (the
	// one before cancel plus the attempt whose enumerate observed it).
	if adapter.calls["app"] > 2 {
		t.Errorf("dump attempts after cancel = %d", adapter.calls["app"])
	}
	if bc.Status != StatusFailed {
		t.Errorf("status = %s", bc.Status)
	}
}

func TestProgressCallbackPanicsAreSuppressed(t *testing.T) {
	adapter := &fakeAdapter{databases: []string{"app"}}
	exec := NewExecutor(ExecutorConfig{
		Strategy:   strategyWith(adapter, PolicyBestEffort),
		MaxRetries: 1,
		Progress: func(stage string, _ *Context) {
			panic("callback bug")
		},
		Logger: zap.NewNop(),
	})

	bc := testContext(t)
	if err := exec.Execute(context.Background(), bc); err != nil {
		t.Errorf("Execute with panicking callback = %v", err)
	}
}
