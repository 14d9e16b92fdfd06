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

// Package directory implements spec.md §4.8: a directory's content is an
// array of (name, inode) entries laid out contiguously across its data
// clusters in file-offset order, with "." and ".." always occupying
// indices 0 and 1. GetDirEntryByName, AddAttDirEntry, RemDetachDirEntry,
// RenameDirEntry and CheckDirectoryEmptiness operate on that layout.
package directory

import (
	"github.com/rafaelferreirapt/sofs14/internal/consistency"
	"github.com/rafaelferreirapt/sofs14/internal/contenttree"
	"github.com/rafaelferreirapt/sofs14/internal/inodealloc"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "directory"

// AddOp and RemOp identify the two variants of AddAttDirEntry and of
// RemDetachDirEntry respectively.
type AddOp int

const (
	OpAdd AddOp = iota
	OpAttach
)

type RemOp int

const (
	OpRem RemOp = iota
	OpDetach
)

// Directory ties the directory-entry algorithms to a MetaStore, the
// content tree it grows/shrinks through, and the inode allocator it
// releases fully-unlinked children through.
type Directory struct {
	ms     *metastore.MetaStore
	tree   *contenttree.Tree
	ialloc *inodealloc.Allocator
}

// New builds a Directory.
func New(ms *metastore.MetaStore, tree *contenttree.Tree, ialloc *inodealloc.Allocator) *Directory {
	return &Directory{ms: ms, tree: tree, ialloc: ialloc}
}

// dirClusterSize is a directory cluster's logical size: DPC entries of
// DirEntrySize each, not BSLPC (a directory cluster's body holds an exact
// number of fixed-size entries, with any BSLPC-DPC*DirEntrySize remainder
// unused). Per spec §3 invariant 8, a directory's size is always
// cluCount * dirClusterSize.
const dirClusterSize = layout.DPC * layout.DirEntrySize

func numClusters(in *layout.Inode) uint32 {
	return uint32(in.Size / dirClusterSize)
}

func (d *Directory) readCluster(nInodeDir uint32, k uint32) (uint32, []*layout.DirEntry, error) {
	nClust, err := d.tree.HandleFileCluster(nInodeDir, k, contenttree.OpGet)
	if err != nil {
		return 0, nil, err
	}
	if nClust == layout.NullCluster {
		return 0, nil, sofserr.New(sofserr.CodeInconsistentDirectoryContents, layerName, "directory cluster index within size is unallocated")
	}
	raw, err := d.ms.ReadClusterRaw(nClust)
	if err != nil {
		return 0, nil, err
	}
	entries, err := layout.DecodeDirBody(raw)
	if err != nil {
		return 0, nil, err
	}
	return nClust, entries, nil
}

func (d *Directory) writeCluster(nClust uint32, entries []*layout.DirEntry) error {
	raw, err := d.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	layout.EncodeDirBody(raw, entries)
	return d.ms.WriteClusterRaw(nClust, raw)
}

func freshDirEntries() []*layout.DirEntry {
	out := make([]*layout.DirEntry, layout.DPC)
	for i := range out {
		out[i] = &layout.DirEntry{NInode: layout.NullInode}
	}
	return out
}

// GetDirEntryByName validates nInodeDir is an in-use directory the caller
// may search (X permission), then walks its clusters in index order
// looking for name. On a match it returns (nInodeEnt, idx, nil). On no
// match it returns (NullInode, slot, NotFound) where slot is the first
// clean-free index encountered, or numClusters*DPC (one past the end, with
// the cluster count taken from the directory's size) if none was.
func (d *Directory) GetDirEntryByName(nInodeDir uint32, name string, uid, gid uint32) (uint32, uint32, error) {
	dirIn, err := d.ms.GetInode(nInodeDir)
	if err != nil {
		return 0, 0, err
	}
	if dirIn.IsFree() || dirIn.Type() != layout.TypeDir {
		return 0, 0, sofserr.New(sofserr.CodeNotDir, layerName, "not a directory")
	}
	if !consistency.AccessGranted(dirIn, uid, gid, consistency.AccessExec) {
		return 0, 0, sofserr.New(sofserr.CodeAccessDenied, layerName, "missing X permission on directory")
	}

	n := numClusters(dirIn)
	freeSlot := uint32(0)
	foundFree := false
	for k := uint32(0); k < n; k++ {
		_, entries, err := d.readCluster(nInodeDir, k)
		if err != nil {
			return 0, 0, err
		}
		for j, e := range entries {
			idx := k*layout.DPC + uint32(j)
			if e.InUse() {
				if e.NameString() == name {
					return e.NInode, idx, nil
				}
				continue
			}
			if !foundFree && e.Clean() {
				freeSlot = idx
				foundFree = true
			}
		}
	}
	if !foundFree {
		freeSlot = n * layout.DPC
	}
	return layout.NullInode, freeSlot, sofserr.New(sofserr.CodeNotFound, layerName, "no entry with that name")
}

// AddAttDirEntry implements ADD/ATTACH: a by-name lookup must miss, the
// target slot is grown into if necessary, then the entry is written and
// the child/parent refCounts updated per op.
func (d *Directory) AddAttDirEntry(nInodeDir uint32, name string, nInodeEnt uint32, op AddOp, uid, gid uint32) error {
	if len(name) > layout.MaxNameLen {
		return sofserr.New(sofserr.CodeNameTooLong, layerName, "entry name exceeds MaxNameLen")
	}

	dirIn, err := d.ms.GetInode(nInodeDir)
	if err != nil {
		return err
	}
	if dirIn.IsFree() || dirIn.Type() != layout.TypeDir {
		return sofserr.New(sofserr.CodeNotDir, layerName, "not a directory")
	}
	if !consistency.AccessGranted(dirIn, uid, gid, consistency.AccessWrite|consistency.AccessExec) {
		return sofserr.New(sofserr.CodeAccessDenied, layerName, "missing W/X permission on directory")
	}

	_, idx, err := d.GetDirEntryByName(nInodeDir, name, uid, gid)
	if err == nil {
		return sofserr.New(sofserr.CodeExists, layerName, "an entry with that name already exists")
	}
	if !sofserr.Is(err, sofserr.CodeNotFound) {
		return err
	}

	dirIn, err = d.ms.GetInode(nInodeDir)
	if err != nil {
		return err
	}
	n := numClusters(dirIn)
	targetCluster := idx / layout.DPC
	if targetCluster >= n {
		if dirIn.Size+dirClusterSize > layout.MaxFileSize {
			return sofserr.New(sofserr.CodeFileTooBig, layerName, "directory would exceed MaxFileSize")
		}
		nClust, err := d.tree.HandleFileCluster(nInodeDir, targetCluster, contenttree.OpAlloc)
		if err != nil {
			return err
		}
		if err := d.writeCluster(nClust, freshDirEntries()); err != nil {
			return err
		}
		dirIn, err = d.ms.GetInode(nInodeDir)
		if err != nil {
			return err
		}
		dirIn.Size += dirClusterSize
		if err := d.ms.StoreInode(nInodeDir, dirIn); err != nil {
			return err
		}
	}

	nClust, entries, err := d.readCluster(nInodeDir, targetCluster)
	if err != nil {
		return err
	}
	slot := idx % layout.DPC
	entries[slot].NInode = nInodeEnt
	if err := layout.SetName(entries[slot], name); err != nil {
		return err
	}
	if err := d.writeCluster(nClust, entries); err != nil {
		return err
	}

	entIn, err := d.ms.GetInode(nInodeEnt)
	if err != nil {
		return err
	}

	switch {
	case op == OpAdd && entIn.Type() == layout.TypeDir && entIn.CluCount == 0:
		childClust, err := d.tree.HandleFileCluster(nInodeEnt, 0, contenttree.OpAlloc)
		if err != nil {
			return err
		}
		childEntries := freshDirEntries()
		childEntries[0].NInode = nInodeEnt
		if err := layout.SetName(childEntries[0], "."); err != nil {
			return err
		}
		childEntries[1].NInode = nInodeDir
		if err := layout.SetName(childEntries[1], ".."); err != nil {
			return err
		}
		if err := d.writeCluster(childClust, childEntries); err != nil {
			return err
		}
		entIn.RefCount = 2
		entIn.Size = dirClusterSize
		if err := d.ms.StoreInode(nInodeEnt, entIn); err != nil {
			return err
		}
		dirIn, err = d.ms.GetInode(nInodeDir)
		if err != nil {
			return err
		}
		if dirIn.RefCount >= layout.MaxLinks {
			return sofserr.New(sofserr.CodeMaxLinks, layerName, "parent refCount would overflow")
		}
		dirIn.RefCount++
		return d.ms.StoreInode(nInodeDir, dirIn)

	case op == OpAdd:
		if entIn.RefCount >= layout.MaxLinks {
			return sofserr.New(sofserr.CodeMaxLinks, layerName, "entry refCount would overflow")
		}
		entIn.RefCount++
		return d.ms.StoreInode(nInodeEnt, entIn)

	default: // OpAttach
		if entIn.RefCount >= layout.MaxLinks {
			return sofserr.New(sofserr.CodeMaxLinks, layerName, "entry refCount would overflow")
		}
		entIn.RefCount++
		if err := d.ms.StoreInode(nInodeEnt, entIn); err != nil {
			return err
		}
		dirIn, err = d.ms.GetInode(nInodeDir)
		if err != nil {
			return err
		}
		if dirIn.RefCount >= layout.MaxLinks {
			return sofserr.New(sofserr.CodeMaxLinks, layerName, "parent refCount would overflow")
		}
		dirIn.RefCount++
		if err := d.ms.StoreInode(nInodeDir, dirIn); err != nil {
			return err
		}
		childClust, childEntries, err := d.readCluster(nInodeEnt, 0)
		if err != nil {
			return err
		}
		childEntries[1].NInode = nInodeDir
		if err := layout.SetName(childEntries[1], ".."); err != nil {
			return err
		}
		return d.writeCluster(childClust, childEntries)
	}
}

// RemDetachDirEntry implements REM/DETACH: the named entry must exist;
// REM marks the slot dirty-free and, once the child's refCount reaches
// zero, frees its content tree and the inode itself; DETACH marks the
// slot clean-free and never releases the child.
func (d *Directory) RemDetachDirEntry(nInodeDir uint32, name string, op RemOp, uid, gid uint32) error {
	dirIn, err := d.ms.GetInode(nInodeDir)
	if err != nil {
		return err
	}
	if !consistency.AccessGranted(dirIn, uid, gid, consistency.AccessWrite|consistency.AccessExec) {
		return sofserr.New(sofserr.CodeAccessDenied, layerName, "missing W/X permission on directory")
	}

	nInodeEnt, idx, err := d.GetDirEntryByName(nInodeDir, name, uid, gid)
	if err != nil {
		return err
	}

	entIn, err := d.ms.GetInode(nInodeEnt)
	if err != nil {
		return err
	}
	wasDir := entIn.Type() == layout.TypeDir
	if wasDir {
		if err := d.CheckDirectoryEmptiness(nInodeEnt); err != nil {
			return err
		}
	}

	k := idx / layout.DPC
	nClust, entries, err := d.readCluster(nInodeDir, k)
	if err != nil {
		return err
	}
	slot := idx % layout.DPC
	if op == OpRem {
		layout.MarkDirtyFree(entries[slot])
	} else {
		layout.MarkCleanFree(entries[slot])
	}
	if err := d.writeCluster(nClust, entries); err != nil {
		return err
	}

	entIn, err = d.ms.GetInode(nInodeEnt)
	if err != nil {
		return err
	}
	entIn.RefCount--
	if err := d.ms.StoreInode(nInodeEnt, entIn); err != nil {
		return err
	}

	if wasDir {
		dirIn, err = d.ms.GetInode(nInodeDir)
		if err != nil {
			return err
		}
		dirIn.RefCount--
		if err := d.ms.StoreInode(nInodeDir, dirIn); err != nil {
			return err
		}
	}

	if op == OpRem && entIn.RefCount == 0 {
		if err := d.tree.HandleFileClusters(nInodeEnt, 0, contenttree.OpFree); err != nil {
			return err
		}
		if err := d.ialloc.Free(nInodeEnt); err != nil {
			return err
		}
	}
	return nil
}

// RenameDirEntry requires oldName to exist and newName to be free, then
// overwrites the entry's name in place.
func (d *Directory) RenameDirEntry(nInodeDir uint32, oldName, newName string, uid, gid uint32) error {
	if len(newName) > layout.MaxNameLen {
		return sofserr.New(sofserr.CodeNameTooLong, layerName, "new name exceeds MaxNameLen")
	}
	dirIn, err := d.ms.GetInode(nInodeDir)
	if err != nil {
		return err
	}
	if !consistency.AccessGranted(dirIn, uid, gid, consistency.AccessWrite|consistency.AccessExec) {
		return sofserr.New(sofserr.CodeAccessDenied, layerName, "missing W/X permission on directory")
	}

	_, idx, err := d.GetDirEntryByName(nInodeDir, oldName, uid, gid)
	if err != nil {
		return err
	}
	if _, _, err := d.GetDirEntryByName(nInodeDir, newName, uid, gid); err == nil {
		return sofserr.New(sofserr.CodeExists, layerName, "an entry with the new name already exists")
	} else if !sofserr.Is(err, sofserr.CodeNotFound) {
		return err
	}

	k := idx / layout.DPC
	nClust, entries, err := d.readCluster(nInodeDir, k)
	if err != nil {
		return err
	}
	if err := layout.SetName(entries[idx%layout.DPC], newName); err != nil {
		return err
	}
	return d.writeCluster(nClust, entries)
}

// CheckDirectoryEmptiness returns NotEmpty if any entry past index 1 (the
// "." and ".." slots) is in use.
func (d *Directory) CheckDirectoryEmptiness(nInodeDir uint32) error {
	in, err := d.ms.GetInode(nInodeDir)
	if err != nil {
		return err
	}
	n := numClusters(in)
	for k := uint32(0); k < n; k++ {
		_, entries, err := d.readCluster(nInodeDir, k)
		if err != nil {
			return err
		}
		for j, e := range entries {
			idx := k*layout.DPC + uint32(j)
			if idx <= 1 {
				continue
			}
			if e.InUse() {
				return sofserr.New(sofserr.CodeNotEmpty, layerName, "directory is not empty")
			}
		}
	}
	return nil
}
