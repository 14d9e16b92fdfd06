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

// Package clock abstracts wall-clock access so inode timestamps (vD1/vD2,
// spec.md §3) can be controlled from tests without sleeping real time.
package clock

import "time"

// Clock is the minimal time source the engine depends on.
type Clock interface {
	Now() time.Time
}

// NowUnix32 truncates c.Now() to Unix seconds, the width stored in an
// inode's vD1/vD2 fields.
func NowUnix32(c Clock) uint32 {
	return uint32(c.Now().Unix())
}
