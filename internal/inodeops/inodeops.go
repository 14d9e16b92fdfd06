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

// Package inodeops implements spec.md §4.6: status-checked read/write of a
// single inode with aTime/mTime maintenance, and cleanInode, the entry
// point that tears down a free-dirty inode's content tree via §4.7.
package inodeops

import (
	"github.com/rafaelferreirapt/sofs14/clock"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "inodeops"

// Status is the expected free/in-use state an inode must be in for Read or
// Write to succeed.
type Status int

const (
	StatusInUse Status = iota
	StatusFreeDirty
)

// Cleaner tears down a free-dirty inode's content tree. Implemented by the
// L5 content-tree layer via HandleFileClusters(nInode, 0, CLEAN).
type Cleaner interface {
	CleanInode(nInode uint32) error
}

// Ops ties inode read/write/clean to a MetaStore and a clock for
// timestamping.
type Ops struct {
	ms      *metastore.MetaStore
	clock   clock.Clock
	cleaner Cleaner
}

// New builds an Ops. cleaner may be nil at construction time and wired
// later via SetCleaner, mirroring inodealloc.Allocator/clusteralloc.Allocator.
func New(ms *metastore.MetaStore, clk clock.Clock, cleaner Cleaner) *Ops {
	return &Ops{ms: ms, clock: clk, cleaner: cleaner}
}

// SetCleaner wires the content-tree Cleaner after construction.
func (o *Ops) SetCleaner(cleaner Cleaner) {
	o.cleaner = cleaner
}

func checkStatus(in *layout.Inode, want Status) error {
	switch want {
	case StatusInUse:
		if in.IsFree() {
			return sofserr.New(sofserr.CodeInconsistentInodeInUse, layerName, "inode is free, expected in-use")
		}
	case StatusFreeDirty:
		if !in.IsFree() {
			return sofserr.New(sofserr.CodeInconsistentDirtyInode, layerName, "inode is in use, expected free")
		}
	}
	return nil
}

// Read validates nInode's state against status, and — if in use — refreshes
// aTime to now before returning a copy of the inode.
func (o *Ops) Read(nInode uint32, status Status) (*layout.Inode, error) {
	in, err := o.ms.GetInode(nInode)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(in, status); err != nil {
		return nil, err
	}
	if status == StatusInUse {
		in.VD1 = clock.NowUnix32(o.clock)
		if err := o.ms.StoreInode(nInode, in); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// Write validates nInode's state against status, forces aTime/mTime to now
// if in use, and stores in.
func (o *Ops) Write(nInode uint32, in *layout.Inode, status Status) error {
	current, err := o.ms.GetInode(nInode)
	if err != nil {
		return err
	}
	if err := checkStatus(current, status); err != nil {
		return err
	}
	if status == StatusInUse {
		now := clock.NowUnix32(o.clock)
		in.VD1, in.VD2 = now, now
	}
	return o.ms.StoreInode(nInode, in)
}

// CleanInode requires nInode be free-dirty, then walks and tears down its
// entire content tree via Cleaner, leaving it free-clean.
func (o *Ops) CleanInode(nInode uint32) error {
	in, err := o.ms.GetInode(nInode)
	if err != nil {
		return err
	}
	if err := checkStatus(in, StatusFreeDirty); err != nil {
		return err
	}
	return o.cleaner.CleanInode(nInode)
}
