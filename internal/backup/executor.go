package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/monitoring"
)

// ProgressFunc receives lifecycle updates: "start", "retry", "success",
// "failure". Panics inside the callback are suppressed — progress
// reporting must never break a backup.
type ProgressFunc func(stage string, bc *Context)

// ExecutorConfig carries the dependencies and tuning for an Executor.
// Metrics, Alerts, and Notifier are optional; a nil field disables that
// side-effect.
type ExecutorConfig struct {
	Strategy   Strategy
	MaxRetries int
	RetryDelay time.Duration
	// CleanupTemp removes leftover local temp files after the run.
	CleanupTemp bool
	Progress    ProgressFunc
	Metrics     *monitoring.Collector
	Alerts      *monitoring.AlertManager
	Notifier    *monitoring.NotificationManager
	Logger      *zap.Logger
}

// Executor drives a Strategy through validation, retries, and the
// terminal side-effects (metric, alerts, notification, cleanup). The
// side-effects run on both success and failure and never raise out of
// Execute.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates an Executor. cfg.Strategy is required.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: cfg.Logger.Named("backup.executor")}
}

// Execute runs one backup to completion. The returned error is nil on
// full success, a *PartialError when some databases failed under the
// best-effort policy, and the underlying failure otherwise. Receipt of
// ctx cancellation at any suspension point aborts without retrying.
func (e *Executor) Execute(ctx context.Context, bc *Context) error {
	if !bc.Valid() {
		bc.Fail("invalid context")
		return ErrInvalidContext
	}

	bc.Start()
	e.notifyProgress("start", bc)
	e.logger.Info("backup started",
		zap.String("instance", bc.Database.ID),
		zap.String("kind", string(bc.Database.Kind)),
		zap.String("strategy", e.cfg.Strategy.Name()),
	)

	attempts := e.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			e.notifyProgress("retry", bc)
			e.logger.Info("retrying backup",
				zap.Int("attempt", attempt),
				zap.Int("attempts", attempts),
			)
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if lastErr != nil && errors.Is(lastErr, context.Canceled) {
				break
			}
			bc.ResetAttempt()
		}

		lastErr = e.cfg.Strategy.Execute(ctx, bc)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			// Cooperative cancellation: clean up, record, do not retry.
			break
		}
		e.logger.Warn("backup attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	var result error
	if lastErr == nil {
		if bc.Status != StatusCompleted {
			bc.Complete()
		}
		if failed := bc.FailedDatabases(); len(failed) > 0 {
			result = &PartialError{Failed: failed}
		}
		e.notifyProgress("success", bc)
		e.logger.Info("backup completed",
			zap.String("instance", bc.Database.ID),
			zap.Duration("duration", bc.Duration()),
			zap.Int("succeeded", bc.SucceededCount()),
			zap.Int("failed", len(bc.FailedDatabases())),
		)
	} else {
		bc.Fail(lastErr.Error())
		result = lastErr
		e.notifyProgress("failure", bc)
		e.logger.Error("backup failed",
			zap.String("instance", bc.Database.ID),
			zap.Error(lastErr),
		)
	}

	// Terminal side-effects. Each is isolated: an internal failure is
	// logged and suppressed so it can never mask the run's outcome.
	e.runSideEffect("metrics", func() { e.recordMetrics(bc) })
	e.runSideEffect("alerts", func() { e.evaluateAlerts(bc) })
	e.runSideEffect("notification", func() { e.sendNotification(bc, result) })
	if e.cfg.CleanupTemp {
		e.runSideEffect("cleanup", func() { e.cleanupTemp(bc) })
	}

	return result
}

func (e *Executor) recordMetrics(bc *Context) {
	if e.cfg.Metrics == nil {
		return
	}
	duration := bc.Duration().Seconds()
	if len(bc.Results) == 0 {
		e.cfg.Metrics.RecordBackup(monitoring.BackupRecord{
			Instance: bc.Database.ID,
			Database: bc.Database.Database,
			Duration: duration,
			Success:  false,
			Error:    bc.ErrorMessage,
		})
		return
	}
	for _, r := range bc.Results {
		rec := monitoring.BackupRecord{
			Instance: bc.Database.ID,
			Database: r.Database,
			Duration: duration,
			Success:  r.Err == nil,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		} else {
			rec.SizeBytes = bc.BackupSize
		}
		e.cfg.Metrics.RecordBackup(rec)
	}
}

func (e *Executor) evaluateAlerts(bc *Context) {
	if e.cfg.Alerts == nil || e.cfg.Metrics == nil {
		return
	}
	recent := e.cfg.Metrics.BackupMetrics()
	if len(recent) == 0 {
		return
	}
	// Only the records this run appended need evaluation.
	n := len(bc.Results)
	if n == 0 {
		n = 1
	}
	if n > len(recent) {
		n = len(recent)
	}
	fields := make([]monitoring.MetricFields, 0, n)
	for _, rec := range recent[len(recent)-n:] {
		fields = append(fields, rec.Fields())
	}
	triggers := e.cfg.Alerts.Evaluate(fields)
	if e.cfg.Notifier == nil {
		return
	}
	for _, trig := range triggers {
		if err := e.cfg.Notifier.SendAlert(trig); err != nil {
			e.logger.Warn("alert notification failed", zap.Error(err))
		}
	}
}

func (e *Executor) sendNotification(bc *Context, result error) {
	if e.cfg.Notifier == nil {
		return
	}
	meta := map[string]any{
		"instance": bc.Database.ID,
		"kind":     string(bc.Database.Kind),
		"duration": bc.Duration().String(),
	}

	if result == nil {
		meta["artifact"] = bc.BackupFile
		meta["storage_location"] = bc.StorageLocation
		err := e.cfg.Notifier.Send(monitoring.EventSuccess,
			fmt.Sprintf("Backup completed: %s", bc.Database.ID),
			fmt.Sprintf("Backup of instance %s finished in %s.", bc.Database.ID, bc.Duration().Round(time.Second)),
			meta,
		)
		if err != nil {
			e.logger.Warn("success notification failed", zap.Error(err))
		}
		return
	}

	body := fmt.Sprintf("Backup of instance %s failed: %s", bc.Database.ID, result.Error())
	var partial *PartialError
	if errors.As(result, &partial) {
		body = fmt.Sprintf("Backup of instance %s partially failed.", bc.Database.ID)
		for _, r := range partial.Failed {
			body += fmt.Sprintf("\n  %s: %v", r.Database, r.Err)
			meta["failed_"+r.Database] = r.Err.Error()
		}
	}
	if err := e.cfg.Notifier.Send(monitoring.EventFailure,
		fmt.Sprintf("Backup failed: %s", bc.Database.ID), body, meta,
	); err != nil {
		e.logger.Warn("failure notification failed", zap.Error(err))
	}
}

func (e *Executor) cleanupTemp(bc *Context) {
	for _, path := range bc.TempFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("failed to remove temp file",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	bc.TempFiles = nil
}

// runSideEffect isolates one terminal side-effect from the executor's
// control flow.
func (e *Executor) runSideEffect(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("side-effect panicked",
				zap.String("side_effect", name),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (e *Executor) notifyProgress(stage string, bc *Context) {
	if e.cfg.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("progress callback panicked", zap.Any("panic", r))
		}
	}()
	e.cfg.Progress(stage, bc)
}
