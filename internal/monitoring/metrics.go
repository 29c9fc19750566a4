// Package monitoring holds the run-telemetry subsystem: the in-memory
// metrics collector with its text exposition format, threshold-based
// alert rules, and the multi-channel notification fan-out.
package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType names one of the four record series.
type MetricType string

const (
	TypeBackup   MetricType = "backup"
	TypeRestore  MetricType = "restore"
	TypeSchedule MetricType = "schedule"
	TypeStorage  MetricType = "storage"
)

// MetricFields is the flattened view of a record used by alert rules:
// field name -> value (string, float64, or bool).
type MetricFields map[string]any

// BackupRecord is one backup observation.
type BackupRecord struct {
	Instance  string
	Database  string
	Duration  float64 // seconds
	SizeBytes int64
	Success   bool
	Error     string
	Timestamp time.Time
}

// Fields flattens the record for alert evaluation.
func (r BackupRecord) Fields() MetricFields {
	return MetricFields{
		"type":             string(TypeBackup),
		"instance_name":    r.Instance,
		"database_name":    r.Database,
		"duration_seconds": r.Duration,
		"size_bytes":       float64(r.SizeBytes),
		"success":          r.Success,
		"error_message":    r.Error,
	}
}

// RestoreRecord is one restore observation.
type RestoreRecord struct {
	Instance  string
	Database  string
	Duration  float64
	SizeBytes int64
	Success   bool
	Error     string
	Timestamp time.Time
}

func (r RestoreRecord) Fields() MetricFields {
	return MetricFields{
		"type":             string(TypeRestore),
		"instance_name":    r.Instance,
		"database_name":    r.Database,
		"duration_seconds": r.Duration,
		"size_bytes":       float64(r.SizeBytes),
		"success":          r.Success,
		"error_message":    r.Error,
	}
}

// ScheduleRecord is one scheduled-job observation.
type ScheduleRecord struct {
	Schedule  string
	Duration  float64
	Success   bool
	Error     string
	Timestamp time.Time
}

func (r ScheduleRecord) Fields() MetricFields {
	return MetricFields{
		"type":             string(TypeSchedule),
		"schedule_name":    r.Schedule,
		"duration_seconds": r.Duration,
		"success":          r.Success,
		"error_message":    r.Error,
	}
}

// StorageRecord is one storage-operation observation.
type StorageRecord struct {
	Backend   string
	Operation string
	Bytes     int64
	Success   bool
	Error     string
	Timestamp time.Time
}

func (r StorageRecord) Fields() MetricFields {
	return MetricFields{
		"type":          string(TypeStorage),
		"backend":       r.Backend,
		"operation":     r.Operation,
		"size_bytes":    float64(r.Bytes),
		"success":       r.Success,
		"error_message": r.Error,
	}
}

// Collector accumulates records in four ordered in-memory series.
// Appends are serialized; records appear in the order their owning
// operation terminated.
type Collector struct {
	mu        sync.Mutex
	backups   []BackupRecord
	restores  []RestoreRecord
	schedules []ScheduleRecord
	storage   []StorageRecord
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordBackup appends a backup record, stamping the current time when
// the record carries none.
func (c *Collector) RecordBackup(rec BackupRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backups = append(c.backups, rec)
}

// RecordRestore appends a restore record.
func (c *Collector) RecordRestore(rec RestoreRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restores = append(c.restores, rec)
}

// RecordSchedule appends a schedule record.
func (c *Collector) RecordSchedule(rec ScheduleRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules = append(c.schedules, rec)
}

// RecordStorage appends a storage record.
func (c *Collector) RecordStorage(rec StorageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage = append(c.storage, rec)
}

// BackupMetrics returns a copy of the backup series.
func (c *Collector) BackupMetrics() []BackupRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BackupRecord(nil), c.backups...)
}

// RestoreMetrics returns a copy of the restore series.
func (c *Collector) RestoreMetrics() []RestoreRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RestoreRecord(nil), c.restores...)
}

// ScheduleMetrics returns a copy of the schedule series.
func (c *Collector) ScheduleMetrics() []ScheduleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ScheduleRecord(nil), c.schedules...)
}

// StorageMetrics returns a copy of the storage series.
func (c *Collector) StorageMetrics() []StorageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StorageRecord(nil), c.storage...)
}

// ByType returns the flattened records of one series.
func (c *Collector) ByType(t MetricType) []MetricFields {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []MetricFields
	switch t {
	case TypeBackup:
		for _, r := range c.backups {
			out = append(out, r.Fields())
		}
	case TypeRestore:
		for _, r := range c.restores {
			out = append(out, r.Fields())
		}
	case TypeSchedule:
		for _, r := range c.schedules {
			out = append(out, r.Fields())
		}
	case TypeStorage:
		for _, r := range c.storage {
			out = append(out, r.Fields())
		}
	}
	return out
}

// InRange returns every record across all series whose timestamp falls
// in [start, end].
func (c *Collector) InRange(start, end time.Time) []MetricFields {
	c.mu.Lock()
	defer c.mu.Unlock()

	in := func(ts time.Time) bool {
		return !ts.Before(start) && !ts.After(end)
	}
	var out []MetricFields
	for _, r := range c.backups {
		if in(r.Timestamp) {
			out = append(out, r.Fields())
		}
	}
	for _, r := range c.restores {
		if in(r.Timestamp) {
			out = append(out, r.Fields())
		}
	}
	for _, r := range c.schedules {
		if in(r.Timestamp) {
			out = append(out, r.Fields())
		}
	}
	for _, r := range c.storage {
		if in(r.Timestamp) {
			out = append(out, r.Fields())
		}
	}
	return out
}

// Clear drops all recorded series.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backups = nil
	c.restores = nil
	c.schedules = nil
	c.storage = nil
}

// ToPrometheus renders the scrape exposition: # HELP / # TYPE comment
// lines followed by one sample per record for the gauge families, and
// success-labelled counters aggregated over each series.
func (c *Collector) ToPrometheus() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	writeGaugeFamily(&b, "vya_backup_duration_seconds", "Duration of backup operations in seconds", len(c.backups), func(i int) (labels string, value float64) {
		r := c.backups[i]
		return sampleLabels(r.Instance, r.Database), r.Duration
	})
	writeGaugeFamily(&b, "vya_backup_size_bytes", "Size of backup artifacts in bytes", len(c.backups), func(i int) (string, float64) {
		r := c.backups[i]
		return sampleLabels(r.Instance, r.Database), float64(r.SizeBytes)
	})
	writeCounterFamily(&b, "vya_backup_total", "Total number of backup operations", countBySuccess(len(c.backups), func(i int) bool { return c.backups[i].Success }))

	writeGaugeFamily(&b, "vya_restore_duration_seconds", "Duration of restore operations in seconds", len(c.restores), func(i int) (string, float64) {
		r := c.restores[i]
		return sampleLabels(r.Instance, r.Database), r.Duration
	})
	writeGaugeFamily(&b, "vya_restore_size_bytes", "Size of restored data in bytes", len(c.restores), func(i int) (string, float64) {
		r := c.restores[i]
		return sampleLabels(r.Instance, r.Database), float64(r.SizeBytes)
	})
	writeCounterFamily(&b, "vya_restore_total", "Total number of restore operations", countBySuccess(len(c.restores), func(i int) bool { return c.restores[i].Success }))

	return b.String()
}

func sampleLabels(instance, database string) string {
	return fmt.Sprintf(`instance=%q,database=%q`, instance, database)
}

func writeGaugeFamily(b *strings.Builder, name, help string, n int, sample func(int) (string, float64)) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	for i := 0; i < n; i++ {
		labels, value := sample(i)
		fmt.Fprintf(b, "%s{%s} %g\n", name, labels, value)
	}
}

func countBySuccess(n int, success func(int) bool) map[bool]int {
	counts := map[bool]int{}
	for i := 0; i < n; i++ {
		counts[success(i)]++
	}
	return counts
}

func writeCounterFamily(b *strings.Builder, name, help string, counts map[bool]int) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	keys := make([]bool, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return !keys[i] && keys[j] })
	for _, k := range keys {
		fmt.Fprintf(b, "%s{success=%q} %d\n", name, fmt.Sprintf("%t", k), counts[k])
	}
}
