// Package logging builds the application's zap logger and provides the
// log sanitizer used to mask credentials before they reach any sink.
//
// Two sinks are configured: a console core (human-readable, level set by
// Settings.ConsoleLevel) and a file core (JSON, level set by
// Settings.FileLevel) writing to <dir>/backupd.log. The log directory
// defaults to /var/log/enterprise/ and falls back to
// $HOME/.local/log/enterprise/ when the default is not writable, so the
// tool works both as a system service and from an unprivileged shell.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDir is the preferred log directory for system installs.
const DefaultDir = "/var/log/enterprise"

// Settings controls logger construction. Zero values mean "info to
// console only".
type Settings struct {
	ConsoleLevel string // debug, info, warn, error
	FileLevel    string
	Dir          string // empty: DefaultDir with home fallback
	ToFile       bool
}

// New builds the root logger. Callers derive per-package loggers with
// logger.Named("vault"), logger.Named("scheduler"), etc.
func New(s Settings) (*zap.Logger, error) {
	consoleLevel := parseLevel(s.ConsoleLevel, zapcore.InfoLevel)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			consoleLevel,
		),
	}

	if s.ToFile {
		dir, err := resolveDir(s.Dir)
		if err != nil {
			return nil, fmt.Errorf("logging: no writable log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "backupd.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("logging: failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.Lock(f),
			parseLevel(s.FileLevel, zapcore.InfoLevel),
		))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// FilePath returns the active log file path, or "" when file logging is
// disabled. Used by the failure notification to attach the log.
func FilePath(s Settings) string {
	if !s.ToFile {
		return ""
	}
	dir, err := resolveDir(s.Dir)
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "backupd.log")
}

// resolveDir picks the log directory: explicit setting, then DefaultDir,
// then ~/.local/log/enterprise. A directory qualifies only if it exists
// (or can be created) and is writable.
func resolveDir(dir string) (string, error) {
	candidates := []string{}
	if dir != "" {
		candidates = append(candidates, dir)
	} else {
		candidates = append(candidates, DefaultDir)
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".local", "log", "enterprise"))
		}
	}

	var lastErr error
	for _, c := range candidates {
		if err := os.MkdirAll(c, 0o750); err != nil {
			lastErr = err
			continue
		}
		probe := filepath.Join(c, ".probe")
		f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			lastErr = err
			continue
		}
		f.Close()
		os.Remove(probe)
		return c, nil
	}
	return "", lastErr
}

func parseLevel(s string, def zapcore.Level) zapcore.Level {
	if s == "" {
		return def
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return def
	}
	return l
}
