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

// Package inodealloc implements spec.md §4.4: the double-linked free-inode
// list threaded through the superblock's iHead/iTail and each free inode's
// vD1/vD2 (next/prev) fields, with Alloc/Free transitioning inodes between
// in-use, free-dirty and free-clean per spec.md's state machine (§9).
package inodealloc

import (
	"github.com/rafaelferreirapt/sofs14/clock"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "inodealloc"

// Cleaner tears down a free-dirty inode's stale content tree, releasing its
// data clusters and zeroing its references. It is implemented by the L5
// content-tree layer and injected here to avoid a downward layering cycle
// (inodealloc must never import contenttree directly).
type Cleaner interface {
	CleanInode(nInode uint32) error
}

// Allocator owns inode allocation/free against a MetaStore.
type Allocator struct {
	ms      *metastore.MetaStore
	clock   clock.Clock
	cleaner Cleaner
}

// New builds an Allocator. clk must be non-nil; cleaner may be nil at
// construction time and wired later via SetCleaner (see
// clusteralloc.Allocator.SetCleaner for why).
func New(ms *metastore.MetaStore, clk clock.Clock, cleaner Cleaner) *Allocator {
	return &Allocator{ms: ms, clock: clk, cleaner: cleaner}
}

// SetCleaner wires the content-tree Cleaner after construction.
func (a *Allocator) SetCleaner(cleaner Cleaner) {
	a.cleaner = cleaner
}

// isContentDirty reports whether in (a free inode) still carries stale
// content references from a previous life, per spec.md's free-dirty state.
func isContentDirty(in *layout.Inode) bool {
	if in.CluCount != 0 {
		return true
	}
	for _, d := range in.Direct {
		if d != layout.NullCluster {
			return true
		}
	}
	return in.I1 != layout.NullCluster || in.I2 != layout.NullCluster
}

// Alloc removes iHead from the free-inode list, cleaning it first if it is
// still dirty, and reinitializes it as a fresh inode of type typ owned by
// (uid, gid). Fails with CodeNoSpace if the free list is empty.
func (a *Allocator) Alloc(typ layout.InodeType, uid, gid uint32) (uint32, error) {
	sb, err := a.ms.GetSuperBlock()
	if err != nil {
		return 0, err
	}
	if sb.IFree == 0 {
		return 0, sofserr.New(sofserr.CodeNoSpace, layerName, "no free inodes")
	}

	nInode := sb.IHead
	in, err := a.ms.GetInode(nInode)
	if err != nil {
		return 0, err
	}
	if !in.IsFree() {
		return 0, sofserr.New(sofserr.CodeInconsistentFreeInode, layerName, "free-list head is not marked free")
	}

	if isContentDirty(in) {
		if err := a.cleaner.CleanInode(nInode); err != nil {
			return 0, err
		}
		in, err = a.ms.GetInode(nInode)
		if err != nil {
			return 0, err
		}
	}

	next := in.NextFree()

	now := clock.NowUnix32(a.clock)
	fresh := &layout.Inode{
		Mode:     typ.ModeBit(),
		RefCount: 0,
		Owner:    uid,
		Group:    gid,
		Size:     0,
		CluCount: 0,
		VD1:      now,
		VD2:      now,
		I1:       layout.NullCluster,
		I2:       layout.NullCluster,
	}
	for i := range fresh.Direct {
		fresh.Direct[i] = layout.NullCluster
	}
	if err := a.ms.StoreInode(nInode, fresh); err != nil {
		return 0, err
	}

	if next != layout.NullInode {
		succ, err := a.ms.GetInode(next)
		if err != nil {
			return 0, err
		}
		succ.SetPrevFree(layout.NullInode)
		if err := a.ms.StoreInode(next, succ); err != nil {
			return 0, err
		}
	}

	sb.IHead = next
	sb.IFree--
	if sb.IFree == 0 {
		sb.ITail = layout.NullInode
	}
	if err := a.ms.StoreSuperBlock(); err != nil {
		return 0, err
	}
	return nInode, nil
}

// Free appends nInode to the tail of the free-inode list in free-dirty
// state: content references are left intact for a later cleanInode pass.
// nInode must be nonzero (the root inode is never freed) and currently
// in use of a legal type.
func (a *Allocator) Free(nInode uint32) error {
	if nInode == 0 {
		return sofserr.New(sofserr.CodeInvalidArgument, layerName, "inode 0 is never freed")
	}
	sb, err := a.ms.GetSuperBlock()
	if err != nil {
		return err
	}
	if nInode >= sb.ITotal {
		return sofserr.New(sofserr.CodeInvalidArgument, layerName, "inode number out of range")
	}

	in, err := a.ms.GetInode(nInode)
	if err != nil {
		return err
	}
	if in.IsFree() {
		return sofserr.New(sofserr.CodeInconsistentInodeInUse, layerName, "free of an already-free inode")
	}
	switch in.Type() {
	case layout.TypeFile, layout.TypeDir, layout.TypeSymlink:
	default:
		return sofserr.New(sofserr.CodeInconsistentInUseInode, layerName, "inode has no legal type")
	}

	oldTail := sb.ITail
	in.Mode = (in.Mode &^ layout.ModeTypeMask) | layout.ModeFree
	in.SetPrevFree(oldTail)
	in.SetNextFree(layout.NullInode)
	if err := a.ms.StoreInode(nInode, in); err != nil {
		return err
	}

	if oldTail != layout.NullInode {
		tail, err := a.ms.GetInode(oldTail)
		if err != nil {
			return err
		}
		tail.SetNextFree(nInode)
		if err := a.ms.StoreInode(oldTail, tail); err != nil {
			return err
		}
	} else {
		sb.IHead = nInode
	}
	sb.ITail = nInode
	sb.IFree++
	return a.ms.StoreSuperBlock()
}
