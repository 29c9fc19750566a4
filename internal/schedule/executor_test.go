package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/backup"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/monitoring"
)

// The job executor is wired against the real backup engine with a files
// instance, so a scheduled run exercises the whole pipeline without a
// database server.
func testProvider(t *testing.T) ConfigProvider {
	t.Helper()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "data.txt"), []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}
	base := t.TempDir()

	return func(databaseID string) (Configs, error) {
		if databaseID != "files-1" {
			return Configs{}, fmt.Errorf("unknown database id %q", databaseID)
		}
		return Configs{
			Database: config.DatabaseInstance{
				ID:        "files-1",
				Kind:      config.KindFiles,
				Databases: []string{filepath.Join(src, "*.txt")},
				Enabled:   true,
			},
			Storage: config.StorageSettings{Type: "local", Path: filepath.Join(base, "store")},
			Backup:  config.BackupSettings{RetentionDays: 7, Policy: "best-effort"},
			System: config.BackupSystem{
				PathSQL:   filepath.Join(base, "sql"),
				PathZip:   filepath.Join(base, "zip"),
				PathFiles: filepath.Join(base, "files"),
			},
		}, nil
	}
}

func scheduleFor(databaseID string) Config {
	return Config{
		Name:           "files-nightly",
		CronExpression: "0 1 * * *",
		DatabaseID:     databaseID,
		Enabled:        true,
		RetentionDays:  3,
	}
}

func TestExecuteJobRunsBackup(t *testing.T) {
	m, _ := newManager(t)
	collector := monitoring.NewCollector()

	var started, succeeded int
	executor := NewJobExecutor(m, testProvider(t), collector, nil, nil, Callbacks{
		OnStart:   func(Config) { started++ },
		OnSuccess: func(_ Config, bc *backup.Context) { succeeded++ },
	}, zap.NewNop())
	executor.MaxRetries = 1
	executor.RetryDelay = 0

	cfg := scheduleFor("files-1")
	if err := m.Add(cfg); err != nil {
		t.Fatal(err)
	}
	if err := executor.ExecuteJob(context.Background(), cfg); err != nil {
		t.Fatalf("ExecuteJob = %v", err)
	}

	if started != 1 || succeeded != 1 {
		t.Errorf("callbacks: started=%d succeeded=%d", started, succeeded)
	}

	last, ok := m.LastExecution("files-nightly")
	if !ok || last.Status != ExecutionCompleted {
		t.Errorf("execution = %+v ok=%v", last, ok)
	}
	if last.BackupFile == "" || last.BackupSize == 0 {
		t.Errorf("execution artifact = %+v", last)
	}

	scheds := collector.ScheduleMetrics()
	if len(scheds) != 1 || !scheds[0].Success {
		t.Errorf("schedule metrics = %+v", scheds)
	}
	if len(collector.BackupMetrics()) != 1 {
		t.Errorf("backup metrics = %+v", collector.BackupMetrics())
	}
}

func TestExecuteJobUnknownDatabase(t *testing.T) {
	m, _ := newManager(t)

	var failures []error
	executor := NewJobExecutor(m, testProvider(t), nil, nil, nil, Callbacks{
		OnFailure: func(_ Config, err error) { failures = append(failures, err) },
	}, zap.NewNop())

	cfg := scheduleFor("nope")
	err := executor.ExecuteJob(context.Background(), cfg)
	if err == nil {
		t.Fatal("ExecuteJob with unknown database succeeded")
	}
	if len(failures) != 1 {
		t.Errorf("failure callback fired %d times", len(failures))
	}

	last, ok := m.LastExecution(cfg.Name)
	if !ok || last.Status != ExecutionFailed || last.ErrorMessage == "" {
		t.Errorf("execution = %+v", last)
	}
}

func TestExecuteDueSequential(t *testing.T) {
	m, _ := newManager(t)
	provider := testProvider(t)

	var order []string
	executor := NewJobExecutor(m, provider, nil, nil, nil, Callbacks{
		OnStart: func(cfg Config) { order = append(order, cfg.Name) },
	}, zap.NewNop())
	executor.MaxRetries = 1
	executor.RetryDelay = 0

	for _, name := range []string{"a-job", "b-job"} {
		cfg := scheduleFor("files-1")
		cfg.Name = name
		cfg.CronExpression = "30 4 * * *"
		if err := m.Add(cfg); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Date(2026, 1, 15, 4, 30, 0, 0, time.Local)
	results := executor.ExecuteDue(context.Background(), now)
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	for name, err := range results {
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	// List() is name-sorted, so dispatch order is deterministic.
	if len(order) != 2 || order[0] != "a-job" || order[1] != "b-job" {
		t.Errorf("dispatch order = %v", order)
	}
}

func TestCallbackPanicsSuppressed(t *testing.T) {
	m, _ := newManager(t)
	executor := NewJobExecutor(m, testProvider(t), nil, nil, nil, Callbacks{
		OnStart:   func(Config) { panic("boom") },
		OnSuccess: func(Config, *backup.Context) { panic("boom") },
	}, zap.NewNop())
	executor.MaxRetries = 1
	executor.RetryDelay = 0

	if err := executor.ExecuteJob(context.Background(), scheduleFor("files-1")); err != nil {
		t.Errorf("ExecuteJob = %v", err)
	}
}

func TestExecuteDueHonorsCancellation(t *testing.T) {
	m, _ := newManager(t)
	executor := NewJobExecutor(m, testProvider(t), nil, nil, nil, Callbacks{}, zap.NewNop())

	cfg := scheduleFor("files-1")
	cfg.CronExpression = "0 12 * * *"
	if err := m.Add(cfg); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := executor.ExecuteDue(ctx, time.Date(2026, 1, 15, 12, 0, 0, 0, time.Local))
	if err := results[cfg.Name]; !errors.Is(err, context.Canceled) {
		t.Errorf("result = %v, want context.Canceled", err)
	}
}
