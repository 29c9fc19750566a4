package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionStatus is the lifecycle state of one schedule execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one run of a schedule. History is kept in memory only,
// for the life of the scheduler process.
type Execution struct {
	ID           string
	ScheduleName string
	Status       ExecutionStatus
	StartTime    time.Time
	EndTime      time.Time
	BackupFile   string
	BackupSize   int64
	ErrorMessage string
}

// Duration returns end-start, or now-start while running.
func (e Execution) Duration() time.Duration {
	if e.StartTime.IsZero() {
		return 0
	}
	end := e.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(e.StartTime)
}

// Manager persists schedules (one JSON file per schedule under a config
// directory) and tracks in-memory execution history.
type Manager struct {
	mu         sync.Mutex
	dir        string
	schedules  map[string]Config
	executions map[string]*Execution
	logger     *zap.Logger
}

// NewManager creates a Manager over dir, creating the directory and
// loading any existing schedule files. Files that fail to load are
// logged and skipped.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("schedule: failed to create %s: %w", dir, err)
	}

	m := &Manager{
		dir:        dir,
		schedules:  map[string]Config{},
		executions: map[string]*Execution{},
		logger:     logger.Named("schedule"),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schedule: failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			m.logger.Error("failed to read schedule file", zap.String("path", path), zap.Error(err))
			continue
		}
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			m.logger.Error("failed to decode schedule file", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := cfg.Validate(); err != nil {
			m.logger.Error("invalid schedule on disk", zap.String("path", path), zap.Error(err))
			continue
		}
		m.schedules[cfg.Name] = cfg
		m.logger.Info("loaded schedule", zap.String("name", cfg.Name))
	}

	return m, nil
}

// Add stores a new schedule, rejecting duplicates by name.
func (m *Manager) Add(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[cfg.Name]; exists {
		return fmt.Errorf("schedule: %q already exists", cfg.Name)
	}
	if err := m.persist(cfg); err != nil {
		return err
	}
	m.schedules[cfg.Name] = cfg
	m.logger.Info("schedule added", zap.String("name", cfg.Name), zap.String("cron", cfg.CronExpression))
	return nil
}

// Update replaces an existing schedule.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[cfg.Name]; !exists {
		return fmt.Errorf("schedule: %q not found", cfg.Name)
	}
	if err := m.persist(cfg); err != nil {
		return err
	}
	m.schedules[cfg.Name] = cfg
	m.logger.Info("schedule updated", zap.String("name", cfg.Name))
	return nil
}

// SetEnabled flips a schedule's enabled flag and persists it.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, exists := m.schedules[name]
	if !exists {
		return fmt.Errorf("schedule: %q not found", name)
	}
	cfg.Enabled = enabled
	if err := m.persist(cfg); err != nil {
		return err
	}
	m.schedules[name] = cfg
	return nil
}

// Delete removes a schedule and its file.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[name]; !exists {
		return fmt.Errorf("schedule: %q not found", name)
	}
	delete(m.schedules, name)
	if err := os.Remove(m.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("schedule: failed to remove %s: %w", name, err)
	}
	m.logger.Info("schedule deleted", zap.String("name", name))
	return nil
}

// Get returns a schedule by name.
func (m *Manager) Get(name string) (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.schedules[name]
	return cfg, ok
}

// List returns all schedules sorted by name, optionally only the
// enabled ones.
func (m *Manager) List(enabledOnly bool) []Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Config, 0, len(m.schedules))
	for _, cfg := range m.schedules {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Due returns the enabled schedules whose cron expression fires in the
// minute containing now.
func (m *Manager) Due(now time.Time) []Config {
	var due []Config
	for _, cfg := range m.List(true) {
		if cfg.IsDue(now) {
			due = append(due, cfg)
		}
	}
	return due
}

// RecordStart creates a running execution record and returns its id.
func (m *Manager) RecordStart(scheduleName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ex := &Execution{
		ID:           uuid.NewString(),
		ScheduleName: scheduleName,
		Status:       ExecutionRunning,
		StartTime:    time.Now(),
	}
	m.executions[ex.ID] = ex
	m.logger.Info("execution started",
		zap.String("execution_id", ex.ID),
		zap.String("schedule", scheduleName),
	)
	return ex.ID
}

// RecordComplete marks an execution as completed.
func (m *Manager) RecordComplete(executionID, backupFile string, backupSize int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex, ok := m.executions[executionID]; ok {
		ex.Status = ExecutionCompleted
		ex.EndTime = time.Now()
		ex.BackupFile = backupFile
		ex.BackupSize = backupSize
	}
}

// RecordFail marks an execution as failed.
func (m *Manager) RecordFail(executionID, errorMessage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex, ok := m.executions[executionID]; ok {
		ex.Status = ExecutionFailed
		ex.EndTime = time.Now()
		ex.ErrorMessage = errorMessage
	}
}

// History returns a schedule's executions, newest first, optionally
// limited.
func (m *Manager) History(scheduleName string, limit int) []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Execution
	for _, ex := range m.executions {
		if ex.ScheduleName == scheduleName {
			out = append(out, *ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// LastExecution returns a schedule's most recent execution.
func (m *Manager) LastExecution(scheduleName string) (Execution, bool) {
	history := m.History(scheduleName, 1)
	if len(history) == 0 {
		return Execution{}, false
	}
	return history[0], true
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".json")
}

// persist writes the schedule file atomically (write-then-rename) so a
// crash mid-write never leaves torn JSON. Callers hold the mutex.
func (m *Manager) persist(cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("schedule: failed to serialize %s: %w", cfg.Name, err)
	}
	path := m.path(cfg.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("schedule: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("schedule: failed to replace %s: %w", path, err)
	}
	return nil
}
