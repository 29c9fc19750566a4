package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Daemon drives the JobExecutor from a wall-clock minute tick. It wraps
// gocron with singleton mode so a tick that is still dispatching jobs
// when the next minute fires is never overlapped.
//
// Missed ticks (the process slept, or a long job pushed a tick past its
// minute) are not skipped: the daemon tracks the last tick it handled
// and fires the due-set for every minute in the gap.
type Daemon struct {
	cron     gocron.Scheduler
	executor *JobExecutor
	logger   *zap.Logger

	mu       sync.Mutex
	lastTick time.Time
}

// NewDaemon creates a Daemon around the executor. Call Start to begin
// ticking.
func NewDaemon(executor *JobExecutor, logger *zap.Logger) (*Daemon, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("schedule: failed to create scheduler: %w", err)
	}
	return &Daemon{
		cron:     s,
		executor: executor,
		logger:   logger.Named("schedule.daemon"),
	}, nil
}

// Start registers the minute tick and starts the underlying scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	d.lastTick = time.Now().Truncate(time.Minute)
	d.mu.Unlock()

	_, err := d.cron.NewJob(
		gocron.CronJob("* * * * *", false),
		gocron.NewTask(func() { d.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule: failed to register tick job: %w", err)
	}

	d.cron.Start()
	d.logger.Info("scheduler daemon started")
	return nil
}

// Stop shuts the underlying scheduler down, waiting for a running tick
// to finish.
func (d *Daemon) Stop() error {
	if err := d.cron.Shutdown(); err != nil {
		return fmt.Errorf("schedule: shutdown error: %w", err)
	}
	d.logger.Info("scheduler daemon stopped")
	return nil
}

// tick fires the due-set for every minute between the last handled tick
// (exclusive) and now (inclusive).
func (d *Daemon) tick(ctx context.Context) {
	now := time.Now().Truncate(time.Minute)

	d.mu.Lock()
	last := d.lastTick
	d.lastTick = now
	d.mu.Unlock()

	for minute := last.Add(time.Minute); !minute.After(now); minute = minute.Add(time.Minute) {
		if ctx.Err() != nil {
			return
		}
		if minute.Before(now) {
			d.logger.Warn("firing missed tick", zap.Time("minute", minute))
		}
		results := d.executor.ExecuteDue(ctx, minute)
		for name, err := range results {
			if err != nil {
				d.logger.Error("scheduled job failed",
					zap.String("schedule", name),
					zap.Error(err),
				)
			}
		}
	}
}
