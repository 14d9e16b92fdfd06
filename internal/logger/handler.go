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

package logger

import (
	"io"
	"log/slog"
	"time"
)

// newHandler builds the text or JSON slog.Handler backing a Logger,
// renaming the level attribute to "severity" (spelled out as TRACE/DEBUG/
// INFO/WARNING/ERROR rather than slog's default "DEBUG+4"-style names) and,
// for JSON, nesting the timestamp as {"seconds":N,"nanos":N} rather than an
// RFC3339 string.
func newHandler(w io.Writer, level *slog.LevelVar, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr(format),
	}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func replaceAttr(format string) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.LevelKey:
			level, _ := a.Value.Any().(slog.Level)
			return slog.String("severity", severityName(level))
		case slog.MessageKey:
			return slog.String("message", a.Value.String())
		case slog.TimeKey:
			if format == "text" {
				t := a.Value.Time()
				return slog.String("time", t.Format("2006/01/02 15:04:05.000000"))
			}
			return timestampAttr(a.Value.Time())
		}
		return a
	}
}

func timestampAttr(t time.Time) slog.Attr {
	return slog.Attr{
		Key: "timestamp",
		Value: slog.GroupValue(
			slog.Int64("seconds", t.Unix()),
			slog.Int64("nanos", int64(t.Nanosecond())),
		),
	}
}

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}
