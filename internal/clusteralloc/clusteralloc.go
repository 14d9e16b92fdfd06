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

// Package clusteralloc implements spec.md §4.5: the three-tier free-data-
// cluster pool (a retrieval cache drained on alloc, an insertion cache
// filled on free, and a double-linked spill list in the data zone tying
// the two together once either cache is exhausted) plus the Replenish and
// Deplete algorithms that move clusters between them.
package clusteralloc

import (
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/metrics"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "clusteralloc"

// Cleaner tears down a dirty (previously freed, never-cleaned) data
// cluster's remaining content-tree references before it is handed back out
// by Alloc. Implemented by the L5 content-tree layer and injected here to
// avoid a downward layering cycle, mirroring inodealloc.Cleaner.
type Cleaner interface {
	CleanDataCluster(nClust uint32) error
}

// Allocator owns data-cluster allocation/free against a MetaStore.
type Allocator struct {
	ms      *metastore.MetaStore
	cleaner Cleaner
	metrics *metrics.Collector
}

// New builds an Allocator. cleaner may be nil at construction time (the
// content-tree layer that implements it is itself constructed with a
// reference to this Allocator) and must be set via SetCleaner before the
// first Alloc of a dirty cluster; m may be nil.
func New(ms *metastore.MetaStore, cleaner Cleaner, m *metrics.Collector) *Allocator {
	return &Allocator{ms: ms, cleaner: cleaner, metrics: m}
}

// SetCleaner wires the content-tree Cleaner after construction, breaking
// the clusteralloc/contenttree initialization cycle.
func (a *Allocator) SetCleaner(cleaner Cleaner) {
	a.cleaner = cleaner
}

// Alloc pops the next free cluster for nInode, replenishing the retrieval
// cache from the spill list (and, transitively, the insertion cache) if it
// is empty. If the returned cluster is still dirty from a previous life,
// its content tree is torn down via Cleaner before it is handed out.
func (a *Allocator) Alloc(nInode uint32) (uint32, error) {
	sb, err := a.ms.GetSuperBlock()
	if err != nil {
		return 0, err
	}
	if sb.DZoneFree == 0 {
		return 0, sofserr.New(sofserr.CodeNoSpace, layerName, "no free data clusters")
	}
	in, err := a.ms.GetInode(nInode)
	if err != nil {
		return 0, err
	}
	if in.IsFree() {
		return 0, sofserr.New(sofserr.CodeInconsistentInodeInUse, layerName, "alloc requested for a free inode")
	}

	if sb.DZoneRetr.Idx == layout.DZoneCacheSize {
		if err := a.replenish(sb); err != nil {
			return 0, err
		}
	}

	idx := sb.DZoneRetr.Idx
	nClust := sb.DZoneRetr.Cache[idx]
	sb.DZoneRetr.Idx = idx + 1
	sb.DZoneFree--

	raw, err := a.ms.ReadClusterRaw(nClust)
	if err != nil {
		return 0, err
	}
	h := layout.DecodeHeader(raw)
	if h.Stat != layout.NullInode {
		if err := a.cleaner.CleanDataCluster(nClust); err != nil {
			return 0, err
		}
		raw, err = a.ms.ReadClusterRaw(nClust)
		if err != nil {
			return 0, err
		}
		h = layout.DecodeHeader(raw)
	}
	h.Prev, h.Next = layout.NullCluster, layout.NullCluster
	h.Stat = nInode
	layout.EncodeHeader(raw, h)
	if err := a.ms.WriteClusterRaw(nClust, raw); err != nil {
		return 0, err
	}
	if err := a.ms.StoreSuperBlock(); err != nil {
		return 0, err
	}
	a.metrics.IncClusterAlloc()
	return nClust, nil
}

// Free resets nClust's prev/next links and pushes it into the insertion
// cache (depleting it into the spill list first if it is full), leaving
// stat untouched so the cluster remains resurrectable in free-dirty state.
func (a *Allocator) Free(nClust uint32) error {
	if nClust == 0 {
		return sofserr.New(sofserr.CodeInvalidArgument, layerName, "cluster 0 (root) is never freed")
	}
	sb, err := a.ms.GetSuperBlock()
	if err != nil {
		return err
	}
	if nClust >= sb.DZoneTotal {
		return sofserr.New(sofserr.CodeInvalidRange, layerName, "cluster index out of data-zone bounds")
	}
	if a.inFreePool(sb, nClust) {
		return sofserr.New(sofserr.CodeInconsistentFreeCluster, layerName, "cluster is already free")
	}

	raw, err := a.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	h := layout.DecodeHeader(raw)
	h.Prev, h.Next = layout.NullCluster, layout.NullCluster
	layout.EncodeHeader(raw, h)
	if err := a.ms.WriteClusterRaw(nClust, raw); err != nil {
		return err
	}

	if sb.DZoneIns.Idx == layout.DZoneCacheSize {
		if err := a.deplete(sb); err != nil {
			return err
		}
	}
	idx := sb.DZoneIns.Idx
	sb.DZoneIns.Cache[idx] = nClust
	sb.DZoneIns.Idx = idx + 1
	sb.DZoneFree++
	if err := a.ms.StoreSuperBlock(); err != nil {
		return err
	}
	a.metrics.IncClusterFree()
	return nil
}

// inFreePool reports whether nClust is already resident in either
// in-superblock cache, a cheap duplicate-free guard for Free. It does not
// walk the on-disk spill list, so a double Free of a cluster that spilled
// out of both caches is not caught here; catching that would mean walking
// the whole free list on every Free, which the "don't walk the whole FS"
// rule rules out.
func (a *Allocator) inFreePool(sb *layout.SuperBlock, nClust uint32) bool {
	for i := sb.DZoneRetr.Idx; i < layout.DZoneCacheSize; i++ {
		if sb.DZoneRetr.Cache[i] == nClust {
			return true
		}
	}
	for i := uint32(0); i < sb.DZoneIns.Idx; i++ {
		if sb.DZoneIns.Cache[i] == nClust {
			return true
		}
	}
	return false
}

// replenish refills the retrieval cache from the spill list, depleting the
// insertion cache into the spill mid-walk if the spill runs dry first.
func (a *Allocator) replenish(sb *layout.SuperBlock) error {
	const K = layout.DZoneCacheSize
	nctt := sb.DZoneFree
	if nctt > K {
		nctt = K
	}

	cur := sb.DHead
	filled := uint32(0)
	for filled < nctt {
		if cur == layout.NullCluster {
			sb.DHead = layout.NullCluster
			sb.DTail = layout.NullCluster
			if err := a.deplete(sb); err != nil {
				return err
			}
			cur = sb.DHead
			if cur == layout.NullCluster {
				break
			}
			continue
		}
		raw, err := a.ms.ReadClusterRaw(cur)
		if err != nil {
			return err
		}
		h := layout.DecodeHeader(raw)
		next := h.Next

		slot := K - nctt + filled
		sb.DZoneRetr.Cache[slot] = cur
		h.Prev, h.Next = layout.NullCluster, layout.NullCluster
		layout.EncodeHeader(raw, h)
		if err := a.ms.WriteClusterRaw(cur, raw); err != nil {
			return err
		}

		filled++
		cur = next
	}
	sb.DZoneRetr.Idx = K - nctt

	if cur == layout.NullCluster {
		sb.DHead = layout.NullCluster
		sb.DTail = layout.NullCluster
		return nil
	}
	raw, err := a.ms.ReadClusterRaw(cur)
	if err != nil {
		return err
	}
	h := layout.DecodeHeader(raw)
	h.Prev = layout.NullCluster
	layout.EncodeHeader(raw, h)
	if err := a.ms.WriteClusterRaw(cur, raw); err != nil {
		return err
	}
	sb.DHead = cur
	return nil
}

// deplete moves the entire insertion cache onto the tail of the spill
// list and clears the cache.
func (a *Allocator) deplete(sb *layout.SuperBlock) error {
	n := sb.DZoneIns.Idx
	if n == 0 {
		return nil
	}

	oldTail := sb.DTail
	if oldTail != layout.NullCluster {
		raw, err := a.ms.ReadClusterRaw(oldTail)
		if err != nil {
			return err
		}
		h := layout.DecodeHeader(raw)
		h.Next = sb.DZoneIns.Cache[0]
		layout.EncodeHeader(raw, h)
		if err := a.ms.WriteClusterRaw(oldTail, raw); err != nil {
			return err
		}
	}

	for i := uint32(0); i < n; i++ {
		cl := sb.DZoneIns.Cache[i]
		raw, err := a.ms.ReadClusterRaw(cl)
		if err != nil {
			return err
		}
		h := layout.DecodeHeader(raw)
		if i == 0 {
			h.Prev = oldTail
		} else {
			h.Prev = sb.DZoneIns.Cache[i-1]
		}
		if i == n-1 {
			h.Next = layout.NullCluster
		} else {
			h.Next = sb.DZoneIns.Cache[i+1]
		}
		layout.EncodeHeader(raw, h)
		if err := a.ms.WriteClusterRaw(cl, raw); err != nil {
			return err
		}
	}

	sb.DTail = sb.DZoneIns.Cache[n-1]
	if sb.DHead == layout.NullCluster {
		sb.DHead = sb.DZoneIns.Cache[0]
	}
	for i := range sb.DZoneIns.Cache {
		sb.DZoneIns.Cache[i] = layout.NullCluster
	}
	sb.DZoneIns.Idx = 0
	return nil
}
