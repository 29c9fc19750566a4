// Package restore implements the restore pipeline, mirroring the backup
// engine: fetch the artifact from storage, decompress it, and load it
// into the target database.
package restore

import (
	"strings"
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

// Context is the mutable record for one restore run, owned by a single
// executor invocation.
type Context struct {
	Database config.DatabaseInstance
	Storage  config.StorageSettings
	// BackupFile is the storage object name of the artifact to restore.
	BackupFile string
	// TargetDatabase overrides the restore target; empty means the
	// instance's configured default database.
	TargetDatabase string

	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	ErrorMessage string

	DownloadedFile   string
	DecompressedFile string
	DownloadSize     int64
	RestoredSize     int64
}

// NewContext creates a pending restore context.
func NewContext(dbCfg config.DatabaseInstance, storageCfg config.StorageSettings, backupFile string) *Context {
	return &Context{
		Database:   dbCfg,
		Storage:    storageCfg,
		BackupFile: backupFile,
		Status:     StatusPending,
	}
}

// Valid reports whether the context carries everything the executor
// requires.
func (c *Context) Valid() bool {
	return c.Database.Kind.Valid() && c.Storage.Type != "" && c.BackupFile != ""
}

// Start transitions pending -> running.
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

// Duration returns end-start, or now-start while running.
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

// ResetAttempt clears per-attempt file state before a retry.
func (c *Context) ResetAttempt() {
	c.DownloadedFile = ""
	c.DecompressedFile = ""
	c.DownloadSize = 0
	c.RestoredSize = 0
}

// NeedsDecompression reports whether the artifact must be decompressed
// before the adapter can load it.
func (c *Context) NeedsDecompression() bool {
	return strings.HasSuffix(c.BackupFile, ".gz") && !strings.HasSuffix(c.BackupFile, ".tar.gz") ||
		strings.HasSuffix(c.BackupFile, ".bz2")
}

// CompressionType names the artifact's compression: "gzip", "bzip2", or
// "" for uncompressed artifacts.
func (c *Context) CompressionType() string {
	switch {
	case strings.HasSuffix(c.BackupFile, ".tar.gz"):
		// Tar archives are extracted by the files adapter as-is.
		return ""
	case strings.HasSuffix(c.BackupFile, ".gz"):
		return "gzip"
	case strings.HasSuffix(c.BackupFile, ".bz2"):
		return "bzip2"
	}
	return ""
}

// Target returns the database the restore loads into.
func (c *Context) Target() string {
	if c.TargetDatabase != "" {
		return c.TargetDatabase
	}
	return c.Database.Database
}
