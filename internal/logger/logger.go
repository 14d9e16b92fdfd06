// Copyright 2026 The SOFS14 Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is a slog-based structured logger for the engine.
//
// Unlike the teacher's own internal/logger (a package-level
// defaultLogger/defaultLoggerFactory pair addressed by package-level
// Tracef/Debugf/... functions), every entry point here hangs off an
// injected *Logger value: Engine holds one (the layers below it take no
// logger), so nothing in this module reaches for global logging state and a unit test can swap
// in a buffer-backed Logger without touching a package variable.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rafaelferreirapt/sofs14/cfg"
)

// Custom slog levels mirroring the teacher's TRACE/.../OFF severities,
// which sit outside the four levels log/slog defines natively.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(math.MaxInt)
)

// Options configures New. FilePath empty means log to Writer (or os.Stdout
// if Writer is also nil); a non-empty FilePath takes priority and rotates
// through lumberjack using the MaxFileSizeMB/BackupFileCount/Compress
// knobs.
type Options struct {
	Severity        cfg.LogSeverity
	Format          string // "text" or "json"; anything else falls back to json
	FilePath        string
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
	Writer          io.Writer // used when FilePath is empty; defaults to os.Stdout
}

// Logger wraps an *slog.Logger with the Tracef/Debugf/.../Errorf surface
// the rest of this module calls, plus a live severity knob and an optional
// file handle to close on shutdown.
type Logger struct {
	slog   *slog.Logger
	level  *slog.LevelVar
	closer io.Closer
	prefix string
}

// New builds a Logger from Options. The returned Logger owns FilePath (if
// set) and must be closed via Close when the engine shuts down.
func New(opts Options) (*Logger, error) {
	level := new(slog.LevelVar)
	level.Set(severityToLevel(opts.Severity))

	var w io.Writer
	var closer io.Closer
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename: opts.FilePath,
			MaxSize:  opts.MaxFileSizeMB,
			Compress: opts.Compress,
		}
		if opts.BackupFileCount > 0 {
			rotator.MaxBackups = opts.BackupFileCount
		}
		w = rotator
		closer = rotator
	} else if opts.Writer != nil {
		w = opts.Writer
	} else {
		w = os.Stdout
	}

	handler := newHandler(w, level, opts.Format)
	return &Logger{slog: slog.New(handler), level: level, closer: closer}, nil
}

// WithPrefix returns a child Logger that prepends prefix to every message,
// sharing this Logger's level and destination (not its own Close).
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{slog: l.slog, level: l.level, prefix: l.prefix + prefix}
}

// SetSeverity adjusts the live logging threshold without rebuilding the
// handler or its destination.
func (l *Logger) SetSeverity(severity cfg.LogSeverity) {
	l.level.Set(severityToLevel(severity))
}

// Slog exposes the underlying *slog.Logger for callers that want to pass
// it to slog-native code (e.g. http.Server.ErrorLog adapters).
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close releases the backing log file, if New opened one.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level slog.Level, format string, args ...any) {
	if !l.slog.Enabled(context.Background(), level) {
		return
	}
	msg := l.prefix + fmt.Sprintf(format, args...)
	l.slog.Log(context.Background(), level, msg)
}

func severityToLevel(severity cfg.LogSeverity) slog.Level {
	switch severity {
	case cfg.TraceLogSeverity:
		return LevelTrace
	case cfg.DebugLogSeverity:
		return LevelDebug
	case cfg.InfoLogSeverity, "":
		return LevelInfo
	case cfg.WarningLogSeverity:
		return LevelWarn
	case cfg.ErrorLogSeverity:
		return LevelError
	case cfg.OffLogSeverity:
		return LevelOff
	default:
		return LevelInfo
	}
}
