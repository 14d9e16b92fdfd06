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

// Package sofserr implements the engine-wide error taxonomy (spec.md §7):
// a closed set of Codes, split into system-like (mappable to POSIX errno)
// and structural/"Inconsistent*" (fatal, fsck-recommending) kinds, carried
// as a typed error that every layer returns unchanged to its caller.
package sofserr

import (
	"errors"
	"fmt"
)

// Code identifies one member of the §7 error taxonomy.
type Code string

const (
	CodeInvalidArgument Code = "InvalidArgument"
	CodeNameTooLong     Code = "NameTooLong"
	CodeInvalidPath     Code = "InvalidPath"
	CodeRelativePath    Code = "RelativePath"
	CodeLoop            Code = "Loop"

	CodeNotFound  Code = "NotFound"
	CodeExists    Code = "Exists"
	CodeNotDir    Code = "NotDir"
	CodeIsDir     Code = "IsDir"
	CodeNotEmpty  Code = "NotEmpty"

	CodeAccessDenied Code = "AccessDenied"
	CodeNotPermitted Code = "NotPermitted"

	CodeNoSpace  Code = "NoSpace"
	CodeFileTooBig Code = "FileTooBig"
	CodeMaxLinks Code = "MaxLinks"

	CodeIoError       Code = "IoError"
	CodeDeviceNotOpen Code = "DeviceNotOpen"
	CodeDeviceBusy    Code = "DeviceBusy"
	CodeBadSize       Code = "BadSize"
	CodeInvalidRange  Code = "InvalidRange"

	// Structural / corruption codes. All fatal for the current operation.
	CodeInconsistentSuperBlock          Code = "InconsistentSuperBlock"
	CodeInconsistentInodeTable          Code = "InconsistentInodeTable"
	CodeInconsistentFreeInode           Code = "InconsistentFreeInode"
	CodeInconsistentCleanInode          Code = "InconsistentCleanInode"
	CodeInconsistentDirtyInode          Code = "InconsistentDirtyInode"
	CodeInconsistentInUseInode          Code = "InconsistentInUseInode"
	CodeInconsistentDataZone            Code = "InconsistentDataZone"
	CodeInconsistentFreeCluster         Code = "InconsistentFreeCluster"
	CodeInconsistentDataCluster         Code = "InconsistentDataCluster"
	CodeInconsistentClusterInInodeTree  Code = "InconsistentClusterInInodeTree"
	CodeInconsistentDirectoryContents   Code = "InconsistentDirectoryContents"
	CodeInconsistentDirectoryEntry      Code = "InconsistentDirectoryEntry"
	CodeInconsistentWrongOwner          Code = "InconsistentWrongOwner"
	CodeInconsistentNotAllocated        Code = "InconsistentNotAllocated"
	CodeInconsistentInodeInUse          Code = "InconsistentInodeInUse"
	// CodeInconsistentCache flags a BlockCache internal two-list integrity
	// violation (spec.md §4.2's "Inconsistent" failure mode).
	CodeInconsistentCache Code = "InconsistentCache"
)

// Error is the concrete error type returned across every public boundary
// in the engine.
type Error struct {
	Code  Code
	Layer string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Layer, e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Layer, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a fresh *Error with no wrapped cause.
func New(code Code, layer, msg string) *Error {
	return &Error{Code: code, Layer: layer, Msg: msg}
}

// Wrap builds a fresh *Error carrying cause as its wrapped error.
func Wrap(code Code, layer string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Layer: layer, Msg: msg, Cause: cause}
}

// Is reports whether err is a *Error with the given code, looking through
// any wrapping via errors.As.
func Is(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsStructural reports whether code is one of the "Inconsistent*" fatal,
// fsck-recommending structural codes rather than a system-like one.
func (c Code) IsStructural() bool {
	switch c {
	case CodeInconsistentSuperBlock, CodeInconsistentInodeTable, CodeInconsistentFreeInode,
		CodeInconsistentCleanInode, CodeInconsistentDirtyInode, CodeInconsistentInUseInode,
		CodeInconsistentDataZone, CodeInconsistentFreeCluster, CodeInconsistentDataCluster,
		CodeInconsistentClusterInInodeTree, CodeInconsistentDirectoryContents,
		CodeInconsistentDirectoryEntry, CodeInconsistentWrongOwner, CodeInconsistentNotAllocated,
		CodeInconsistentInodeInUse, CodeInconsistentCache:
		return true
	default:
		return false
	}
}
