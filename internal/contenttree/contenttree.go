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

// Package contenttree implements spec.md §4.7: the mapping from a file's
// logical cluster index to a physical data cluster through an inode's
// direct, single-indirect (i1) and double-indirect (i2) reference bands,
// and the HandleFileCluster/HandleFileClusters operations that allocate,
// free and dissociate clusters along that tree.
//
// It also implements the two narrow cleanup entry points the allocator
// layers need without importing this package back: inodealloc.Cleaner
// (CleanInode) and clusteralloc.Cleaner (CleanDataCluster).
package contenttree

import (
	"github.com/rafaelferreirapt/sofs14/internal/clusteralloc"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "contenttree"

// Op identifies one of the five HandleFileCluster operations.
type Op int

const (
	OpGet Op = iota
	OpAlloc
	OpFree
	OpFreeClean
	OpClean
)

// Tree ties the content-tree algorithms to a MetaStore and the cluster
// allocator it allocates/frees data and indirection clusters through.
type Tree struct {
	ms    *metastore.MetaStore
	clust *clusteralloc.Allocator
}

// New builds a Tree.
func New(ms *metastore.MetaStore, clust *clusteralloc.Allocator) *Tree {
	return &Tree{ms: ms, clust: clust}
}

// band classifies a logical cluster index into the direct, single- or
// double-indirect reference band, and the slot indices needed to reach it.
type band struct {
	kind     int // 0=direct, 1=single, 2=double
	directIx uint32
	singleIx uint32
	topIx    uint32
	secondIx uint32
}

const (
	bandDirect = 0
	bandSingle = 1
	bandDouble = 2
)

func classify(k uint32) band {
	switch {
	case k < layout.NDirect:
		return band{kind: bandDirect, directIx: k}
	case k < layout.NDirect+layout.RPC:
		return band{kind: bandSingle, singleIx: k - layout.NDirect}
	default:
		k2 := k - layout.NDirect - layout.RPC
		return band{kind: bandDouble, topIx: k2 / layout.RPC, secondIx: k2 % layout.RPC}
	}
}

func allNullRefs(refs []uint32) bool {
	for _, r := range refs {
		if r != layout.NullCluster {
			return false
		}
	}
	return true
}

func freshRefCluster() []uint32 {
	refs := make([]uint32, layout.RPC)
	for i := range refs {
		refs[i] = layout.NullCluster
	}
	return refs
}

// get returns the logical data-cluster number reachable at index k of
// nInode's content tree, or NullCluster if the slot is unallocated.
func (t *Tree) get(in *layout.Inode, k uint32) (uint32, error) {
	b := classify(k)
	switch b.kind {
	case bandDirect:
		return in.Direct[b.directIx], nil
	case bandSingle:
		if in.I1 == layout.NullCluster {
			return layout.NullCluster, nil
		}
		refs, err := t.ms.GetSngIndClust(in.I1)
		if err != nil {
			return 0, err
		}
		return refs[b.singleIx], nil
	default:
		if in.I2 == layout.NullCluster {
			return layout.NullCluster, nil
		}
		top, err := t.ms.GetSngIndClust(in.I2)
		if err != nil {
			return 0, err
		}
		child := top[b.topIx]
		if child == layout.NullCluster {
			return layout.NullCluster, nil
		}
		second, err := t.ms.GetDirRefClust(child)
		if err != nil {
			return 0, err
		}
		return second[b.secondIx], nil
	}
}

// HandleFileCluster dispatches one of the five §4.7 operations at logical
// index k of nInode's content tree.
func (t *Tree) HandleFileCluster(nInode uint32, k uint32, op Op) (uint32, error) {
	if k >= layout.MaxFileClusters {
		return 0, sofserr.New(sofserr.CodeInvalidRange, layerName, "cluster index beyond MaxFileClusters")
	}
	in, err := t.ms.GetInode(nInode)
	if err != nil {
		return 0, err
	}

	switch op {
	case OpGet:
		return t.get(in, k)
	case OpAlloc:
		return t.alloc(nInode, in, k)
	case OpFree:
		return t.free(nInode, in, k)
	case OpFreeClean:
		cur, err := t.free(nInode, in, k)
		if err != nil {
			return 0, err
		}
		in, err = t.ms.GetInode(nInode)
		if err != nil {
			return 0, err
		}
		if err := t.dissociateAndCollapse(nInode, in, k); err != nil {
			return 0, err
		}
		return cur, nil
	case OpClean:
		cur, err := t.get(in, k)
		if err != nil {
			return 0, err
		}
		if cur != layout.NullCluster {
			if err := t.CleanLogicalCluster(nInode, cur); err != nil {
				return 0, err
			}
		}
		if err := t.dissociateAndCollapse(nInode, in, k); err != nil {
			return 0, err
		}
		return cur, nil
	default:
		return 0, sofserr.New(sofserr.CodeInvalidArgument, layerName, "unknown content-tree op")
	}
}

// alloc implements the ALLOC operation: ensures any needed indirection
// clusters exist, allocates the data cluster, stores the new reference,
// splices it into the file's cluster list and charges cluCount.
func (t *Tree) alloc(nInode uint32, in *layout.Inode, k uint32) (uint32, error) {
	cur, err := t.get(in, k)
	if err != nil {
		return 0, err
	}
	if cur != layout.NullCluster {
		return 0, sofserr.New(sofserr.CodeExists, layerName, "content-tree slot already allocated")
	}

	b := classify(k)
	switch b.kind {
	case bandDirect:
		nClust, err := t.clust.Alloc(nInode)
		if err != nil {
			return 0, err
		}
		in.Direct[b.directIx] = nClust
		in.CluCount++
		if err := t.ms.StoreInode(nInode, in); err != nil {
			return 0, err
		}
		if err := t.AttachLogicalCluster(nInode, k, nClust); err != nil {
			return 0, err
		}
		return nClust, nil

	case bandSingle:
		if in.I1 == layout.NullCluster {
			i1, err := t.clust.Alloc(nInode)
			if err != nil {
				return 0, err
			}
			if err := t.ms.StoreSngIndClust(i1, freshRefCluster()); err != nil {
				return 0, err
			}
			in.I1 = i1
			in.CluCount++
			if err := t.ms.StoreInode(nInode, in); err != nil {
				return 0, err
			}
		}
		refs, err := t.ms.GetSngIndClust(in.I1)
		if err != nil {
			return 0, err
		}
		nClust, err := t.clust.Alloc(nInode)
		if err != nil {
			return 0, err
		}
		refs[b.singleIx] = nClust
		if err := t.ms.StoreSngIndClust(in.I1, refs); err != nil {
			return 0, err
		}
		in.CluCount++
		if err := t.ms.StoreInode(nInode, in); err != nil {
			return 0, err
		}
		if err := t.AttachLogicalCluster(nInode, k, nClust); err != nil {
			return 0, err
		}
		return nClust, nil

	default: // bandDouble
		if in.I2 == layout.NullCluster {
			i2, err := t.clust.Alloc(nInode)
			if err != nil {
				return 0, err
			}
			if err := t.ms.StoreSngIndClust(i2, freshRefCluster()); err != nil {
				return 0, err
			}
			in.I2 = i2
			in.CluCount++
			if err := t.ms.StoreInode(nInode, in); err != nil {
				return 0, err
			}
		}
		top, err := t.ms.GetSngIndClust(in.I2)
		if err != nil {
			return 0, err
		}
		child := top[b.topIx]
		if child == layout.NullCluster {
			second, err := t.clust.Alloc(nInode)
			if err != nil {
				return 0, err
			}
			if err := t.ms.StoreDirRefClust(second, freshRefCluster()); err != nil {
				return 0, err
			}
			top[b.topIx] = second
			if err := t.ms.StoreSngIndClust(in.I2, top); err != nil {
				return 0, err
			}
			in.CluCount++
			if err := t.ms.StoreInode(nInode, in); err != nil {
				return 0, err
			}
			child = second
		}
		second, err := t.ms.GetDirRefClust(child)
		if err != nil {
			return 0, err
		}
		nClust, err := t.clust.Alloc(nInode)
		if err != nil {
			return 0, err
		}
		second[b.secondIx] = nClust
		if err := t.ms.StoreDirRefClust(child, second); err != nil {
			return 0, err
		}
		in.CluCount++
		if err := t.ms.StoreInode(nInode, in); err != nil {
			return 0, err
		}
		if err := t.AttachLogicalCluster(nInode, k, nClust); err != nil {
			return 0, err
		}
		return nClust, nil
	}
}

// free implements the FREE operation: releases the data cluster via the
// cluster allocator and decrements cluCount, leaving the reference slot in
// place.
func (t *Tree) free(nInode uint32, in *layout.Inode, k uint32) (uint32, error) {
	cur, err := t.get(in, k)
	if err != nil {
		return 0, err
	}
	if cur == layout.NullCluster {
		return 0, sofserr.New(sofserr.CodeInconsistentNotAllocated, layerName, "free of an unallocated content-tree slot")
	}
	if err := t.clust.Free(cur); err != nil {
		return 0, err
	}
	in.CluCount--
	if err := t.ms.StoreInode(nInode, in); err != nil {
		return 0, err
	}
	return cur, nil
}

// dissociateAndCollapse clears the reference slot at k and, for the
// indirect bands, frees and clears any indirection cluster that becomes
// entirely NULL as a result.
func (t *Tree) dissociateAndCollapse(nInode uint32, in *layout.Inode, k uint32) error {
	b := classify(k)
	switch b.kind {
	case bandDirect:
		in.Direct[b.directIx] = layout.NullCluster
		return t.ms.StoreInode(nInode, in)

	case bandSingle:
		if in.I1 == layout.NullCluster {
			return nil
		}
		refs, err := t.ms.GetSngIndClust(in.I1)
		if err != nil {
			return err
		}
		refs[b.singleIx] = layout.NullCluster
		if err := t.ms.StoreSngIndClust(in.I1, refs); err != nil {
			return err
		}
		if allNullRefs(refs) {
			if err := t.clust.Free(in.I1); err != nil {
				return err
			}
			in.I1 = layout.NullCluster
			in.CluCount--
		}
		return t.ms.StoreInode(nInode, in)

	default: // bandDouble
		if in.I2 == layout.NullCluster {
			return nil
		}
		top, err := t.ms.GetSngIndClust(in.I2)
		if err != nil {
			return err
		}
		child := top[b.topIx]
		if child == layout.NullCluster {
			return nil
		}
		second, err := t.ms.GetDirRefClust(child)
		if err != nil {
			return err
		}
		second[b.secondIx] = layout.NullCluster
		if err := t.ms.StoreDirRefClust(child, second); err != nil {
			return err
		}
		if allNullRefs(second) {
			if err := t.clust.Free(child); err != nil {
				return err
			}
			in.CluCount--
			top[b.topIx] = layout.NullCluster
			if err := t.ms.StoreSngIndClust(in.I2, top); err != nil {
				return err
			}
			if allNullRefs(top) {
				if err := t.clust.Free(in.I2); err != nil {
					return err
				}
				in.I2 = layout.NullCluster
				in.CluCount--
			}
		}
		return t.ms.StoreInode(nInode, in)
	}
}

// AttachLogicalCluster splices nClust, already placed at logical index k,
// into the file's intra-content doubly linked list by writing three
// cluster headers: nClust's own prev/next, and the left/right neighbors'
// matching pointer back to it.
func (t *Tree) AttachLogicalCluster(nInode uint32, k uint32, nClust uint32) error {
	in, err := t.ms.GetInode(nInode)
	if err != nil {
		return err
	}

	left := layout.NullCluster
	if k > 0 {
		l, err := t.get(in, k-1)
		if err != nil {
			return err
		}
		left = l
	}
	right := layout.NullCluster
	if k+1 < layout.MaxFileClusters {
		r, err := t.get(in, k+1)
		if err != nil {
			return err
		}
		right = r
	}

	raw, err := t.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	h := layout.DecodeHeader(raw)
	h.Prev, h.Next = left, right
	layout.EncodeHeader(raw, h)
	if err := t.ms.WriteClusterRaw(nClust, raw); err != nil {
		return err
	}

	if left != layout.NullCluster {
		rawL, err := t.ms.ReadClusterRaw(left)
		if err != nil {
			return err
		}
		hl := layout.DecodeHeader(rawL)
		hl.Next = nClust
		layout.EncodeHeader(rawL, hl)
		if err := t.ms.WriteClusterRaw(left, rawL); err != nil {
			return err
		}
	}
	if right != layout.NullCluster {
		rawR, err := t.ms.ReadClusterRaw(right)
		if err != nil {
			return err
		}
		hr := layout.DecodeHeader(rawR)
		hr.Prev = nClust
		layout.EncodeHeader(rawR, hr)
		if err := t.ms.WriteClusterRaw(right, rawR); err != nil {
			return err
		}
	}
	return nil
}

// CleanLogicalCluster verifies nClust is still owned by nInode, then sets
// its stat to NULL_INODE and zeroes its body, moving it to clean-free.
func (t *Tree) CleanLogicalCluster(nInode uint32, nClust uint32) error {
	raw, err := t.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	h := layout.DecodeHeader(raw)
	if h.Stat != nInode {
		return sofserr.New(sofserr.CodeInconsistentWrongOwner, layerName, "data cluster not owned by expected inode")
	}
	h.Stat = layout.NullInode
	layout.EncodeHeader(raw, h)
	for i := 12; i < len(raw); i++ {
		raw[i] = 0
	}
	return t.ms.WriteClusterRaw(nClust, raw)
}

// HandleFileClusters walks k from MaxFileClusters-1 down to startK
// (highest index first, so the double-indirect region collapses before
// the lower bands), applying op to every reachable (non-NULL) slot. Used
// by truncate and by CleanInode.
func (t *Tree) HandleFileClusters(nInode uint32, startK uint32, op Op) error {
	for k := int64(layout.MaxFileClusters) - 1; k >= int64(startK); k-- {
		kk := uint32(k)
		in, err := t.ms.GetInode(nInode)
		if err != nil {
			return err
		}
		cur, err := t.get(in, kk)
		if err != nil {
			return err
		}
		if cur == layout.NullCluster {
			continue
		}
		if _, err := t.HandleFileCluster(nInode, kk, op); err != nil {
			return err
		}
	}
	return nil
}

// CleanInode implements inodealloc.Cleaner: requires a free-dirty inode,
// walks its entire content tree with CLEAN, dissociating every data
// cluster and collapsing indirection clusters, leaving the inode with no
// content references.
func (t *Tree) CleanInode(nInode uint32) error {
	in, err := t.ms.GetInode(nInode)
	if err != nil {
		return err
	}
	if !in.IsFree() {
		return sofserr.New(sofserr.CodeInconsistentDirtyInode, layerName, "cleanInode requires a free-dirty inode")
	}
	return t.HandleFileClusters(nInode, 0, OpClean)
}

// CleanDataCluster implements clusteralloc.Cleaner: a cluster popped from
// the retrieval cache whose stat is still some stale owner inode is
// cleaned in place via CleanLogicalCluster against that recorded owner.
func (t *Tree) CleanDataCluster(nClust uint32) error {
	raw, err := t.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	h := layout.DecodeHeader(raw)
	if h.Stat == layout.NullInode {
		return nil
	}
	return t.CleanLogicalCluster(h.Stat, nClust)
}
