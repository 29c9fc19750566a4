// Package schedule implements cron-driven backup scheduling: persisted
// schedule definitions, due-set computation, the job executor that
// bridges schedules to the backup engine, and the long-running daemon.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field expression: minute, hour,
// day-of-month, month, day-of-week (0 = Sunday).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Config is one scheduled backup job. Persisted as <name>.json under
// the schedule directory.
type Config struct {
	Name           string `json:"name"`
	CronExpression string `json:"cron_expression"`
	DatabaseID     string `json:"database_id"`
	Enabled        bool   `json:"enabled"`
	RetentionDays  int    `json:"retention_days"`
	Compression    string `json:"compression,omitempty"`
	StorageType    string `json:"storage_type,omitempty"`
	StorageLoc     string `json:"storage_location,omitempty"`
}

// Validate rejects malformed schedules at construction time: empty
// name, unknown compression, non-positive retention, or a cron
// expression that does not parse.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("schedule: name cannot be empty")
	}
	if c.DatabaseID == "" {
		return fmt.Errorf("schedule: %s: database_id cannot be empty", c.Name)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("schedule: %s: retention_days must be at least 1", c.Name)
	}
	switch c.Compression {
	case "", "gzip", "bzip2":
	default:
		return fmt.Errorf("schedule: %s: invalid compression %q", c.Name, c.Compression)
	}
	if _, err := cronParser.Parse(c.CronExpression); err != nil {
		return fmt.Errorf("schedule: %s: invalid cron expression %q: %w", c.Name, c.CronExpression, err)
	}
	return nil
}

// NextRun returns the first fire time strictly after base, in local
// time.
func (c Config) NextRun(base time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(c.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: invalid cron expression %q: %w", c.CronExpression, err)
	}
	return sched.Next(base), nil
}

// IsDue reports whether the schedule fires in the minute containing
// now: the cron iterator is seeded one minute back and its next fire
// compared against now truncated to the minute.
func (c Config) IsDue(now time.Time) bool {
	sched, err := cronParser.Parse(c.CronExpression)
	if err != nil {
		return false
	}
	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Minute)).Equal(minute)
}

// Hourly returns a schedule firing at the given minute of every hour.
func Hourly(name, databaseID string, minute int) Config {
	return preset(name, databaseID, fmt.Sprintf("%d * * * *", minute))
}

// Daily returns a schedule firing once a day.
func Daily(name, databaseID string, hour, minute int) Config {
	return preset(name, databaseID, fmt.Sprintf("%d %d * * *", minute, hour))
}

// Weekly returns a schedule firing once a week (0 = Sunday).
func Weekly(name, databaseID string, dayOfWeek, hour, minute int) Config {
	return preset(name, databaseID, fmt.Sprintf("%d %d * * %d", minute, hour, dayOfWeek))
}

// Monthly returns a schedule firing once a month.
func Monthly(name, databaseID string, dayOfMonth, hour, minute int) Config {
	return preset(name, databaseID, fmt.Sprintf("%d %d %d * *", minute, hour, dayOfMonth))
}

func preset(name, databaseID, expr string) Config {
	return Config{
		Name:           name,
		CronExpression: expr,
		DatabaseID:     databaseID,
		Enabled:        true,
		RetentionDays:  7,
	}
}
