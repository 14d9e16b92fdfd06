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

// Package cfg is the typed configuration surface for the engine: a
// mapstructure/viper-decodable Config, validated before an Engine is built.
package cfg

import (
	"fmt"
	"slices"
	"strings"
)

// LogSeverity is the engine's logging verbosity, one of TRACE/DEBUG/INFO/
// WARNING/ERROR/OFF.
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var validSeverities = []string{
	string(TraceLogSeverity), string(DebugLogSeverity), string(InfoLogSeverity),
	string(WarningLogSeverity), string(ErrorLogSeverity), string(OffLogSeverity),
}

// UnmarshalText implements encoding.TextUnmarshaler so mapstructure's
// TextUnmarshallerHookFunc can decode a YAML/env string into LogSeverity.
func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if !slices.Contains(validSeverities, string(level)) {
		return fmt.Errorf("invalid log severity %q: must be one of %v", text, validSeverities)
	}
	*l = level
	return nil
}

// ResolvedPath is a filesystem path normalized at decode time (empty stays
// empty; anything else is cleaned via filepath.Clean).
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	resolved, err := resolvePath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(resolved)
	return nil
}
