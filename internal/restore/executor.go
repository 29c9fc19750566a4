package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/monitoring"
)

// ErrInvalidContext is returned by Execute when the context is missing
// required configuration. Never retried.
var ErrInvalidContext = errors.New("restore: invalid context")

// ProgressFunc mirrors the backup executor's lifecycle callback.
type ProgressFunc func(stage string, rc *Context)

// ExecutorConfig carries the dependencies and tuning for an Executor.
type ExecutorConfig struct {
	Strategy   Strategy
	MaxRetries int
	RetryDelay time.Duration
	Progress   ProgressFunc
	Metrics    *monitoring.Collector
	Alerts     *monitoring.AlertManager
	Notifier   *monitoring.NotificationManager
	Logger     *zap.Logger
}

// Executor drives a restore Strategy through retries and terminal
// side-effects, mirroring the backup executor's contract.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates an Executor. cfg.Strategy is required.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: cfg.Logger.Named("restore.executor")}
}

// Execute runs one restore to completion. Cancellation observed at a
// suspension point aborts without retrying.
func (e *Executor) Execute(ctx context.Context, rc *Context) error {
	if !rc.Valid() {
		rc.Fail("invalid context")
		return ErrInvalidContext
	}

	rc.Start()
	e.notifyProgress("start", rc)
	e.logger.Info("restore started",
		zap.String("artifact", rc.BackupFile),
		zap.String("target", rc.Target()),
	)

	attempts := e.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			e.notifyProgress("retry", rc)
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
			rc.ResetAttempt()
		}

		lastErr = e.cfg.Strategy.Execute(ctx, rc)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
		e.logger.Warn("restore attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	if lastErr == nil {
		if rc.Status != StatusCompleted {
			rc.Complete()
		}
		e.notifyProgress("success", rc)
		e.logger.Info("restore completed",
			zap.String("artifact", rc.BackupFile),
			zap.Duration("duration", rc.Duration()),
		)
	} else {
		rc.Fail(lastErr.Error())
		e.notifyProgress("failure", rc)
		e.logger.Error("restore failed",
			zap.String("artifact", rc.BackupFile),
			zap.Error(lastErr),
		)
	}

	e.runSideEffect("metrics", func() { e.recordMetrics(rc, lastErr == nil) })
	e.runSideEffect("alerts", func() { e.evaluateAlerts() })
	e.runSideEffect("notification", func() { e.sendNotification(rc, lastErr) })

	return lastErr
}

func (e *Executor) recordMetrics(rc *Context, success bool) {
	if e.cfg.Metrics == nil {
		return
	}
	rec := monitoring.RestoreRecord{
		Instance:  rc.Database.ID,
		Database:  rc.Target(),
		Duration:  rc.Duration().Seconds(),
		SizeBytes: rc.RestoredSize,
		Success:   success,
	}
	if !success {
		rec.Error = rc.ErrorMessage
	}
	e.cfg.Metrics.RecordRestore(rec)
}

func (e *Executor) evaluateAlerts() {
	if e.cfg.Alerts == nil || e.cfg.Metrics == nil {
		return
	}
	recent := e.cfg.Metrics.RestoreMetrics()
	if len(recent) == 0 {
		return
	}
	fields := []monitoring.MetricFields{recent[len(recent)-1].Fields()}
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

func (e *Executor) sendNotification(rc *Context, result error) {
	if e.cfg.Notifier == nil {
		return
	}
	meta := map[string]any{
		"instance": rc.Database.ID,
		"artifact": rc.BackupFile,
		"target":   rc.Target(),
		"duration": rc.Duration().String(),
	}
	if result == nil {
		err := e.cfg.Notifier.Send(monitoring.EventSuccess,
			fmt.Sprintf("Restore completed: %s", rc.Target()),
			fmt.Sprintf("Artifact %s restored into %s in %s.",
				rc.BackupFile, rc.Target(), rc.Duration().Round(time.Second)),
			meta,
		)
		if err != nil {
			e.logger.Warn("success notification failed", zap.Error(err))
		}
		return
	}
	if err := e.cfg.Notifier.Send(monitoring.EventFailure,
		fmt.Sprintf("Restore failed: %s", rc.Target()),
		fmt.Sprintf("Restore of %s failed: %s", rc.BackupFile, result.Error()),
		meta,
	); err != nil {
		e.logger.Warn("failure notification failed", zap.Error(err))
	}
}

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

func (e *Executor) notifyProgress(stage string, rc *Context) {
	if e.cfg.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("progress callback panicked", zap.Any("panic", r))
		}
	}()
	e.cfg.Progress(stage, rc)
}
