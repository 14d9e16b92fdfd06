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
)

const (
	ImagePathRequiredError           = "image.path is required"
	BlockCacheCapacityInvalidError   = "cache.block-cache-capacity must be positive"
	ClusterCacheCapacityInvalidError = "cache.cluster-cache-capacity must be positive"
)

func isValidImageConfig(c *ImageConfig) error {
	if c.Path == "" {
		return errors.New(ImagePathRequiredError)
	}
	return nil
}

func isValidCacheConfig(c *CacheConfig) error {
	if c.BlockCacheCapacity <= 0 {
		return errors.New(BlockCacheCapacityInvalidError)
	}
	if c.ClusterCacheCapacity <= 0 {
		return errors.New(ClusterCacheCapacityInvalidError)
	}
	return nil
}

func isValidLoggingConfig(c *LoggingConfig) error {
	var sev LogSeverity
	if err := sev.UnmarshalText([]byte(c.Severity)); err != nil {
		return fmt.Errorf("error parsing logging.severity: %w", err)
	}
	return nil
}

// ValidateConfig returns a non-nil error if config is unfit to build an
// Engine from.
func ValidateConfig(config *Config) error {
	if err := isValidImageConfig(&config.Image); err != nil {
		return fmt.Errorf("error parsing image config: %w", err)
	}
	if err := isValidCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("error parsing cache config: %w", err)
	}
	if err := isValidLoggingConfig(&config.Logging); err != nil {
		return err
	}
	return nil
}
