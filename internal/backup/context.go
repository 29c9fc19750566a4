// Package backup implements the backup pipeline: a Context records the
// state of one run, a Strategy does the work, and the Executor drives
// the strategy through retries, terminal side-effects, and cleanup.
package backup

import (
	"time"

	"github.com/vya-digital/backupd/internal/config"
)

// Status is the lifecycle state of a Context.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DatabaseResult records the outcome for one target database within a
// run.
type DatabaseResult struct {
	Database string
	Artifact string // storage object name, set on success
	Err      error  // nil on success
}

// Context is the mutable record owned by a single Executor invocation.
// It is not safe for concurrent use; exactly one goroutine drives it
// from Start to Complete or Fail.
type Context struct {
	Database config.DatabaseInstance
	Storage  config.StorageSettings
	Backup   config.BackupSettings
	System   config.BackupSystem

	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	ErrorMessage string

	// Artifact metadata for the most recent successful target. Results
	// carries the per-database breakdown for multi-database runs.
	BackupFile      string
	BackupSize      int64
	CompressedSize  int64
	StorageLocation string
	Results         []DatabaseResult

	// TempFiles tracks local paths the run produced and has not yet
	// deleted; the executor removes leftovers during cleanup.
	TempFiles []string
}

// NewContext creates a pending context for one backup run.
func NewContext(dbCfg config.DatabaseInstance, storageCfg config.StorageSettings, backupCfg config.BackupSettings, system config.BackupSystem) *Context {
	return &Context{
		Database: dbCfg,
		Storage:  storageCfg,
		Backup:   backupCfg,
		System:   system,
		Status:   StatusPending,
	}
}

// Valid reports whether the context names a database instance (non-empty
// id, known kind) and a storage type.
func (c *Context) Valid() bool {
	return c.Database.ID != "" && c.Database.Kind.Valid() && c.Storage.Type != ""
}

// Start transitions pending -> running and stamps the start time. The
// start time also becomes the timestamp embedded in artifact names.
func (c *Context) Start() {
	c.Status = StatusRunning
	c.StartTime = time.Now()
}

// Complete terminates the context successfully.
func (c *Context) Complete() {
	c.Status = StatusCompleted
	c.EndTime = time.Now()
}

// Fail terminates the context with an error message.
func (c *Context) Fail(message string) {
	c.Status = StatusFailed
	c.EndTime = time.Now()
	c.ErrorMessage = message
}

// Duration returns end-start, or now-start while the run is still in
// flight. Zero before Start.
func (c *Context) Duration() time.Duration {
	if c.StartTime.IsZero() {
		return 0
	}
	end := c.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.StartTime)
}

// ResetAttempt clears the per-attempt artifact fields before a retry
// while preserving identity (configs) and timing (StartTime).
func (c *Context) ResetAttempt() {
	c.BackupFile = ""
	c.BackupSize = 0
	c.CompressedSize = 0
	c.StorageLocation = ""
	c.Results = nil
	c.TempFiles = nil
}

// CompressionRatio returns raw/compressed size, or ok=false when the
// run produced no compressed artifact.
func (c *Context) CompressionRatio() (float64, bool) {
	if c.BackupSize <= 0 || c.CompressedSize <= 0 {
		return 0, false
	}
	return float64(c.BackupSize) / float64(c.CompressedSize), true
}

// FailedDatabases returns the per-database failures of the run.
func (c *Context) FailedDatabases() []DatabaseResult {
	var failed []DatabaseResult
	for _, r := range c.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// SucceededCount returns how many target databases produced an artifact.
func (c *Context) SucceededCount() int {
	n := 0
	for _, r := range c.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}
