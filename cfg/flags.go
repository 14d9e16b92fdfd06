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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BuildFlagSet registers the handful of engine knobs that double as flags
// for an external mount entry point (out of scope here, per spec.md §1;
// this registration exists so the flag surface has a caller within the
// module's own tests).
func BuildFlagSet(flagSet *pflag.FlagSet) {
	flagSet.String("image-path", "", "path to the backing container file")
	flagSet.String("volume-name", "", "volume label to assign on mount")
	flagSet.Int("block-cache-capacity", 256, "block-cache slot count")
	flagSet.Int("cluster-cache-capacity", 64, "cluster-cache slot count")
	flagSet.String("log-severity", string(InfoLogSeverity), "TRACE/DEBUG/INFO/WARNING/ERROR/OFF")
	flagSet.String("log-format", "text", "text or json")
	flagSet.Bool("read-only", false, "mount the image read-only")
}

// BindFlags wires a parsed FlagSet's values into viper so Load picks them
// up with the usual flag > env > file > default precedence.
func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	bindings := map[string]string{
		"image-path":             "image.path",
		"volume-name":            "image.volume-name",
		"block-cache-capacity":   "cache.block-cache-capacity",
		"cluster-cache-capacity": "cache.cluster-cache-capacity",
		"log-severity":           "logging.severity",
		"log-format":             "logging.format",
		"read-only":              "read-only",
	}
	for flagName, key := range bindings {
		if err := v.BindPFlag(key, flagSet.Lookup(flagName)); err != nil {
			return err
		}
	}
	return nil
}
