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

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads an optional YAML configPath (ignored if empty or missing),
// overlays SOFS14_-prefixed environment variables, decodes the result into
// a Config seeded with DefaultConfig, and validates it.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SOFS14")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("cfg: reading %s: %w", configPath, err)
			}
		}
	}

	config := DefaultConfig()
	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     &config,
		TagName:    "mapstructure",
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return Config{}, fmt.Errorf("cfg: building decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("cfg: decoding config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}
