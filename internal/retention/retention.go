// Package retention ages out stale backup artifacts. The artifact
// filename is the authoritative metadata: the engine parses names of the
// form YYYYMMDD_HHMMSS_<kind>_<name>.<ext> and deletes those older than
// the policy allows. Files whose names do not parse are not backups and
// pass through untouched.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// filenamePattern captures date, time, kind, database name, and
// extension from an artifact filename. A ".sql" in front of the
// extension belongs to neither: "..._mysql_app.sql.gz" yields database
// "app" and extension "gz".
var filenamePattern = regexp.MustCompile(
	`^(\d{8})_(\d{6})_(mysql|postgresql|files)_(.+?)(?:\.sql)?\.(sql|gz|zip|tar\.gz)$`,
)

// Artifact is the metadata parsed from one backup filename.
type Artifact struct {
	Path      string
	Filename  string
	Timestamp time.Time
	Kind      string
	Database  string
	Extension string
	SizeBytes int64
}

// IsCompressed reports whether the artifact is stored compressed.
func (a Artifact) IsCompressed() bool {
	switch a.Extension {
	case "gz", "zip", "tar.gz":
		return true
	}
	return false
}

// ParseFilename extracts artifact metadata from a filename. ok is false
// for names that are not backup artifacts — a legitimate outcome, not
// an error.
func ParseFilename(filename string) (Artifact, bool) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return Artifact{}, false
	}
	ts, err := time.ParseInLocation("20060102150405", m[1]+m[2], time.Local)
	if err != nil {
		return Artifact{}, false
	}
	return Artifact{
		Filename:  filename,
		Timestamp: ts,
		Kind:      m[3],
		Database:  m[4],
		Extension: m[5],
	}, true
}

// Stats summarizes one cleanup sweep.
type Stats struct {
	Total      int
	Kept       int
	Deleted    int
	FreedBytes int64
	Errors     []string
}

// Filter narrows a sweep to one kind and/or database name.
type Filter struct {
	Kind     string
	Database string
}

func (f Filter) match(a Artifact) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Database != "" && a.Database != f.Database {
		return false
	}
	return true
}

// Engine sweeps one directory with one policy.
type Engine struct {
	dir    string
	policy Policy
	logger *zap.Logger
}

// New creates an Engine over dir. policy must not be nil; use
// AgePolicy for the default days-based behavior.
func New(dir string, policy Policy, logger *zap.Logger) *Engine {
	return &Engine{dir: dir, policy: policy, logger: logger.Named("retention")}
}

// List returns the parseable artifacts in the directory matching the
// filter, newest first. Non-matching files are skipped silently.
func (e *Engine) List(filter Filter) ([]Artifact, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("retention: failed to read %s: %w", e.dir, err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		artifact, ok := ParseFilename(entry.Name())
		if !ok {
			continue
		}
		if !filter.match(artifact) {
			continue
		}
		artifact.Path = filepath.Join(e.dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			artifact.SizeBytes = info.Size()
		}
		artifacts = append(artifacts, artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Timestamp.After(artifacts[j].Timestamp)
	})
	return artifacts, nil
}

// Expired returns the artifacts the policy would discard at the given
// reference time.
func (e *Engine) Expired(filter Filter, now time.Time) ([]Artifact, error) {
	artifacts, err := e.List(filter)
	if err != nil {
		return nil, err
	}
	var expired []Artifact
	for _, a := range artifacts {
		if !e.policy.ShouldKeep(a.Timestamp, now) {
			expired = append(expired, a)
		}
	}
	return expired, nil
}

// Cleanup sweeps the directory. In dry-run mode nothing is removed and
// FreedBytes reports the hypothetical saving. A per-file deletion
// failure is recorded in Errors and does not abort the sweep.
func (e *Engine) Cleanup(filter Filter, now time.Time, dryRun bool) Stats {
	var stats Stats

	artifacts, err := e.List(filter)
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
		return stats
	}
	stats.Total = len(artifacts)

	for _, a := range artifacts {
		if e.policy.ShouldKeep(a.Timestamp, now) {
			stats.Kept++
			continue
		}

		if dryRun {
			e.logger.Info("would delete artifact",
				zap.String("file", a.Filename),
				zap.Int64("bytes", a.SizeBytes),
			)
			stats.Deleted++
			stats.FreedBytes += a.SizeBytes
			continue
		}

		if err := os.Remove(a.Path); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("delete %s: %v", a.Filename, err))
			stats.Kept++
			continue
		}
		e.logger.Info("deleted artifact",
			zap.String("file", a.Filename),
			zap.Int64("bytes", a.SizeBytes),
		)
		stats.Deleted++
		stats.FreedBytes += a.SizeBytes
	}

	e.logger.Info("retention sweep finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("total", stats.Total),
		zap.Int("kept", stats.Kept),
		zap.Int("deleted", stats.Deleted),
		zap.Int64("freed_bytes", stats.FreedBytes),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats
}

// Summary describes the current state of a backup directory.
type Summary struct {
	Total        int
	Expired      int
	TotalBytes   int64
	ExpiredBytes int64
	Oldest       time.Time
	Newest       time.Time
}

// Summarize reports totals, expired counts, and the age range of the
// artifacts in the directory.
func (e *Engine) Summarize(filter Filter, now time.Time) (Summary, error) {
	artifacts, err := e.List(filter)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	s.Total = len(artifacts)
	for _, a := range artifacts {
		s.TotalBytes += a.SizeBytes
		if !e.policy.ShouldKeep(a.Timestamp, now) {
			s.Expired++
			s.ExpiredBytes += a.SizeBytes
		}
		if s.Oldest.IsZero() || a.Timestamp.Before(s.Oldest) {
			s.Oldest = a.Timestamp
		}
		if a.Timestamp.After(s.Newest) {
			s.Newest = a.Timestamp
		}
	}
	return s, nil
}
