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

package engine

import "go.uber.org/multierr"

// multierrAppend accumulates independent teardown failures (superblock
// write-back, cache close, device close) so Unmount reports every failure
// instead of only the first.
func multierrAppend(errs error, err error) error {
	return multierr.Append(errs, err)
}
