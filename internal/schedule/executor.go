package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/backup"
	"github.com/vya-digital/backupd/internal/config"
	"github.com/vya-digital/backupd/internal/monitoring"
)

// Configs bundles the resolved configuration for one database id.
type Configs struct {
	Database config.DatabaseInstance
	Storage  config.StorageSettings
	Backup   config.BackupSettings
	System   config.BackupSystem
}

// ConfigProvider resolves a schedule's database id to its configs.
// Injected so the executor does not depend on how configuration is
// loaded.
type ConfigProvider func(databaseID string) (Configs, error)

// Callbacks receive job lifecycle events. Panics inside a callback are
// suppressed.
type Callbacks struct {
	OnStart   func(cfg Config)
	OnSuccess func(cfg Config, bc *backup.Context)
	OnFailure func(cfg Config, err error)
}

const (
	jobMaxRetries = 3
	jobRetryDelay = 60 * time.Second
)

// JobExecutor runs due schedules through the backup engine. Jobs within
// one tick run sequentially: database servers are shared resources, and
// parallel dumps against the same host degrade total throughput.
type JobExecutor struct {
	manager   *Manager
	provider  ConfigProvider
	metrics   *monitoring.Collector
	alerts    *monitoring.AlertManager
	notifier  *monitoring.NotificationManager
	callbacks Callbacks
	logger    *zap.Logger

	// Retry tuning, overridable in tests.
	MaxRetries int
	RetryDelay time.Duration
}

// NewJobExecutor creates a JobExecutor. metrics, alerts, and notifier
// may be nil.
func NewJobExecutor(
	manager *Manager,
	provider ConfigProvider,
	metrics *monitoring.Collector,
	alerts *monitoring.AlertManager,
	notifier *monitoring.NotificationManager,
	callbacks Callbacks,
	logger *zap.Logger,
) *JobExecutor {
	return &JobExecutor{
		manager:    manager,
		provider:   provider,
		metrics:    metrics,
		alerts:     alerts,
		notifier:   notifier,
		callbacks:  callbacks,
		logger:     logger.Named("schedule.executor"),
		MaxRetries: jobMaxRetries,
		RetryDelay: jobRetryDelay,
	}
}

// ExecuteDue runs every schedule due at now, sequentially, and returns
// per-schedule results.
func (e *JobExecutor) ExecuteDue(ctx context.Context, now time.Time) map[string]error {
	due := e.manager.Due(now)
	results := make(map[string]error, len(due))
	if len(due) == 0 {
		return results
	}

	e.logger.Info("due schedules", zap.Int("count", len(due)))
	for _, cfg := range due {
		if err := ctx.Err(); err != nil {
			results[cfg.Name] = err
			continue
		}
		results[cfg.Name] = e.ExecuteJob(ctx, cfg)
	}
	return results
}

// ExecuteJob resolves the schedule's configs, applies its overrides,
// and delegates to the backup executor. The execution is recorded in
// the manager's history and as a schedule metric.
func (e *JobExecutor) ExecuteJob(ctx context.Context, cfg Config) error {
	e.logger.Info("executing scheduled job", zap.String("schedule", cfg.Name))
	e.fireStart(cfg)

	executionID := e.manager.RecordStart(cfg.Name)
	start := time.Now()

	finish := func(runErr error, bc *backup.Context) error {
		duration := time.Since(start).Seconds()
		if runErr == nil {
			var size int64
			var file string
			if bc != nil {
				size = bc.BackupSize
				file = bc.BackupFile
			}
			e.manager.RecordComplete(executionID, file, size)
			e.recordScheduleMetric(cfg.Name, duration, true, "")
			e.fireSuccess(cfg, bc)
		} else {
			e.manager.RecordFail(executionID, runErr.Error())
			e.recordScheduleMetric(cfg.Name, duration, false, runErr.Error())
			e.fireFailure(cfg, runErr)
		}
		return runErr
	}

	configs, err := e.provider(cfg.DatabaseID)
	if err != nil {
		return finish(fmt.Errorf("schedule: no configuration for database %q: %w", cfg.DatabaseID, err), nil)
	}

	// Schedule-level overrides win over the instance defaults.
	if cfg.Compression != "" {
		configs.Backup.Compression = cfg.Compression
	}
	if cfg.RetentionDays > 0 {
		configs.Backup.RetentionDays = cfg.RetentionDays
	}
	if cfg.StorageType != "" {
		configs.Storage.Type = cfg.StorageType
	}
	if cfg.StorageLoc != "" {
		configs.Storage.Path = cfg.StorageLoc
	}

	bc := backup.NewContext(configs.Database, configs.Storage, configs.Backup, configs.System)
	executor := backup.NewExecutor(backup.ExecutorConfig{
		Strategy:    backup.NewFullStrategy(backup.Policy(configs.Backup.Policy), e.logger),
		MaxRetries:  e.MaxRetries,
		RetryDelay:  e.RetryDelay,
		CleanupTemp: true,
		Metrics:     e.metrics,
		Alerts:      e.alerts,
		Notifier:    e.notifier,
		Logger:      e.logger,
	})

	return finish(executor.Execute(ctx, bc), bc)
}

func (e *JobExecutor) recordScheduleMetric(name string, duration float64, success bool, errMsg string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordSchedule(monitoring.ScheduleRecord{
		Schedule: name,
		Duration: duration,
		Success:  success,
		Error:    errMsg,
	})
}

func (e *JobExecutor) fireStart(cfg Config) {
	if e.callbacks.OnStart == nil {
		return
	}
	defer e.recoverCallback("on_start")
	e.callbacks.OnStart(cfg)
}

func (e *JobExecutor) fireSuccess(cfg Config, bc *backup.Context) {
	if e.callbacks.OnSuccess == nil {
		return
	}
	defer e.recoverCallback("on_success")
	e.callbacks.OnSuccess(cfg, bc)
}

func (e *JobExecutor) fireFailure(cfg Config, err error) {
	if e.callbacks.OnFailure == nil {
		return
	}
	defer e.recoverCallback("on_failure")
	e.callbacks.OnFailure(cfg, err)
}

func (e *JobExecutor) recoverCallback(name string) {
	if r := recover(); r != nil {
		e.logger.Warn("lifecycle callback panicked",
			zap.String("callback", name),
			zap.Any("panic", r),
		)
	}
}
