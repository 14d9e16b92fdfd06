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

// Package config flattens the typed cfg.Config surface into the
// EngineConfig shape the engine package actually builds from.
package config

import (
	"fmt"

	"github.com/rafaelferreirapt/sofs14/cfg"
)

// EngineConfig is the flat set of knobs engine.New consumes. It is derived
// from cfg.Config rather than decoded directly, so the on-disk/env/flag
// layout (nested, per §10.1's cfg grounding) can evolve independently of
// the engine's constructor signature.
type EngineConfig struct {
	ImagePath            string
	BlockCacheCapacity   int
	ClusterCacheCapacity int
	VolumeName           string
	ReadOnly             bool
	LogLevel             string
	LogPath              string
	LogFormat            string
}

// Load reads configPath (optional) plus environment overrides into a
// cfg.Config, validates it, and flattens it into an EngineConfig.
func Load(configPath string) (EngineConfig, error) {
	config, err := cfg.Load(configPath)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: %w", err)
	}
	return FromConfig(config), nil
}

// FromConfig flattens an already-decoded cfg.Config into an EngineConfig.
func FromConfig(config cfg.Config) EngineConfig {
	return EngineConfig{
		ImagePath:            string(config.Image.Path),
		BlockCacheCapacity:   config.Cache.BlockCacheCapacity,
		ClusterCacheCapacity: config.Cache.ClusterCacheCapacity,
		VolumeName:           config.Image.VolumeName,
		ReadOnly:             config.ReadOnly,
		LogLevel:             string(config.Logging.Severity),
		LogPath:              string(config.Logging.FilePath),
		LogFormat:            config.Logging.Format,
	}
}

// Validate re-checks invariants that only make sense on the flattened shape
// (cfg.ValidateConfig already ran during Load; this also protects an
// EngineConfig built by hand, e.g. in tests or by embedders).
func (c *EngineConfig) Validate() error {
	if c.ImagePath == "" {
		return fmt.Errorf("config: image path is required")
	}
	if c.BlockCacheCapacity <= 0 {
		return fmt.Errorf("config: block cache capacity must be positive")
	}
	if c.ClusterCacheCapacity <= 0 {
		return fmt.Errorf("config: cluster cache capacity must be positive")
	}
	return nil
}
