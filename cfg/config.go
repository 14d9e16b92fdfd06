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

package cfg

import "path/filepath"

// Config is the full decoded configuration surface, loaded from an optional
// YAML file and environment variables, then overridden by flags via
// BindFlags.
type Config struct {
	Image    ImageConfig   `mapstructure:"image"`
	Cache    CacheConfig   `mapstructure:"cache"`
	Logging  LoggingConfig `mapstructure:"logging"`
	ReadOnly bool          `mapstructure:"read-only"`
}

// ImageConfig describes the backing container file and its volume label.
type ImageConfig struct {
	Path       ResolvedPath `mapstructure:"path"`
	VolumeName string       `mapstructure:"volume-name"`
}

// CacheConfig holds the cache sizing knobs. The engine builds its single
// BlockCache from BlockCacheCapacity; ClusterCacheCapacity is validated
// and carried into EngineConfig but not read by the engine.
type CacheConfig struct {
	BlockCacheCapacity   int `mapstructure:"block-cache-capacity"`
	ClusterCacheCapacity int `mapstructure:"cluster-cache-capacity"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Severity LogSeverity  `mapstructure:"severity"`
	Format   string       `mapstructure:"format"`
	FilePath ResolvedPath `mapstructure:"file-path"`
}

func resolvePath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Clean(p), nil
}

// DefaultConfig returns a Config populated with the engine's documented
// defaults (§10.1): 256 block-cache slots, 64 cluster-cache slots, INFO
// logging to stdout in text format.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			BlockCacheCapacity:   256,
			ClusterCacheCapacity: 64,
		},
		Logging: LoggingConfig{
			Severity: InfoLogSeverity,
			Format:   "text",
		},
	}
}
