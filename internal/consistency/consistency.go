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

// Package consistency implements spec.md §4.10: AccessGranted's UID/GID/
// root permission check, and the structural consistency predicates called
// at every public engine entry point — superblock, inode-table, data-zone,
// free-inode, in-use-inode and allocated-data-cluster well-formedness.
// These predicates are structural: they validate only the nodes an
// operation actually touches, never a full filesystem walk.
package consistency

import (
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/metrics"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "consistency"

// AccessMode is a bitmask of the permissions an operation requests.
type AccessMode uint8

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
	AccessExec
)

// AccessGranted implements spec.md §4.10's permission check: root (uid 0)
// is granted R/W unconditionally and X iff any of the three X bits is set;
// otherwise the owner/group/other triple is selected by the usual
// owner > group > other precedence and every bit in want must be present.
func AccessGranted(in *layout.Inode, uid, gid uint32, want AccessMode) bool {
	r, w, x := decodeModeTriple(in.Mode)
	if uid == 0 {
		if want&AccessExec != 0 {
			return x.owner || x.group || x.other
		}
		return true
	}

	var have AccessMode
	switch {
	case uid == in.Owner:
		have = tripleMode(r.owner, w.owner, x.owner)
	case gid == in.Group:
		have = tripleMode(r.group, w.group, x.group)
	default:
		have = tripleMode(r.other, w.other, x.other)
	}
	return have&want == want
}

type triple struct{ owner, group, other bool }

// decodeModeTriple splits the inode's permission bits, per spec.md §3's
// rwxrwxrwx layout in the low 9 bits of Mode.
func decodeModeTriple(mode uint16) (r, w, x triple) {
	r = triple{mode&layout.PermRUsr != 0, mode&layout.PermRGrp != 0, mode&layout.PermROth != 0}
	w = triple{mode&layout.PermWUsr != 0, mode&layout.PermWGrp != 0, mode&layout.PermWOth != 0}
	x = triple{mode&layout.PermXUsr != 0, mode&layout.PermXGrp != 0, mode&layout.PermXOth != 0}
	return
}

func tripleMode(r, w, x bool) AccessMode {
	var m AccessMode
	if r {
		m |= AccessRead
	}
	if w {
		m |= AccessWrite
	}
	if x {
		m |= AccessExec
	}
	return m
}

// Checker runs the structural consistency predicates against a MetaStore,
// recording every failure against metrics by predicate name.
type Checker struct {
	ms      *metastore.MetaStore
	metrics *metrics.Collector
}

// New builds a Checker. m may be nil.
func New(ms *metastore.MetaStore, m *metrics.Collector) *Checker {
	return &Checker{ms: ms, metrics: m}
}

func (c *Checker) fail(code sofserr.Code, predicate, msg string) error {
	c.metrics.IncConsistencyFailure(predicate)
	return sofserr.New(code, layerName, msg)
}

// SuperBlockWellFormed validates the superblock's magic/version and that
// its zone geometry partitions the device without overlap.
func (c *Checker) SuperBlockWellFormed() error {
	sb, err := c.ms.GetSuperBlock()
	if err != nil {
		return c.fail(sofserr.CodeInconsistentSuperBlock, "superblock", err.Error())
	}
	if sb.Magic != layout.Magic || sb.Version != layout.Version {
		return c.fail(sofserr.CodeInconsistentSuperBlock, "superblock", "bad magic/version")
	}
	if sb.ITableStart+sb.ITableSize > sb.DZoneStart {
		return c.fail(sofserr.CodeInconsistentSuperBlock, "superblock", "inode table overlaps data zone")
	}
	if sb.IFree > sb.ITotal {
		return c.fail(sofserr.CodeInconsistentSuperBlock, "superblock", "iFree exceeds iTotal")
	}
	if sb.DZoneFree > sb.DZoneTotal {
		return c.fail(sofserr.CodeInconsistentSuperBlock, "superblock", "dZoneFree exceeds dZoneTotal")
	}
	return nil
}

// InodeTableWellFormed validates that nInode addresses a slot within the
// inode table described by the resident superblock.
func (c *Checker) InodeTableWellFormed(nInode uint32) error {
	sb, err := c.ms.GetSuperBlock()
	if err != nil {
		return c.fail(sofserr.CodeInconsistentInodeTable, "inodeTable", err.Error())
	}
	if nInode >= sb.ITotal {
		return c.fail(sofserr.CodeInconsistentInodeTable, "inodeTable", "inode number out of range")
	}
	return nil
}

// DataZoneWellFormed validates that nClust addresses a slot within the
// data zone described by the resident superblock.
func (c *Checker) DataZoneWellFormed(nClust uint32) error {
	sb, err := c.ms.GetSuperBlock()
	if err != nil {
		return c.fail(sofserr.CodeInconsistentDataZone, "dataZone", err.Error())
	}
	if nClust >= sb.DZoneTotal {
		return c.fail(sofserr.CodeInconsistentDataZone, "dataZone", "cluster number out of range")
	}
	return nil
}

// FreeInodeWellFormed validates that a free inode carries the FREE bit and
// no stray type bit (§4.11: FREE forbids every type bit, dirty or clean).
func (c *Checker) FreeInodeWellFormed(in *layout.Inode) error {
	if !in.IsFree() {
		return c.fail(sofserr.CodeInconsistentFreeInode, "freeInode", "FREE bit not set")
	}
	if in.Mode&layout.ModeTypeMask != 0 {
		return c.fail(sofserr.CodeInconsistentFreeInode, "freeInode", "free inode carries a type bit")
	}
	return nil
}

// InUseInodeWellFormed validates that an in-use inode has exactly one
// legal type bit and that cluCount is consistent with its direct band and
// i1/i2 presence — the nodes directly reachable from the inode record
// itself. It deliberately does not descend into indirection clusters: per
// spec.md §4.10 these predicates validate only the nodes an operation
// touches, not a full content-tree walk, so the deeper per-cluster
// ownership check (AllocatedDataClusterCheck) is applied by callers only
// to the specific cluster an operation is about to use.
func (c *Checker) InUseInodeWellFormed(nInode uint32, in *layout.Inode) error {
	if in.IsFree() {
		return c.fail(sofserr.CodeInconsistentInUseInode, "inUseInode", "FREE bit set on an in-use inode")
	}
	switch in.Type() {
	case layout.TypeFile, layout.TypeDir, layout.TypeSymlink:
	default:
		return c.fail(sofserr.CodeInconsistentInUseInode, "inUseInode", "no legal type bit set")
	}

	var directCount uint32
	for _, d := range in.Direct {
		if d != layout.NullCluster {
			directCount++
		}
	}
	minExpected := directCount
	if in.I1 != layout.NullCluster {
		minExpected++
	}
	if in.I2 != layout.NullCluster {
		minExpected++
	}
	if in.CluCount < minExpected {
		return c.fail(sofserr.CodeInconsistentClusterInInodeTree, "inUseInode", "cluCount lower than directly-reachable cluster count")
	}
	return nil
}

// AllocatedDataClusterCheck validates that nClust's stored owner is
// exactly nInode, per the ALLOCATED state invariant of §4.11.
func (c *Checker) AllocatedDataClusterCheck(nInode, nClust uint32) error {
	raw, err := c.ms.ReadClusterRaw(nClust)
	if err != nil {
		return c.fail(sofserr.CodeInconsistentDataCluster, "allocatedDataCluster", err.Error())
	}
	if layout.DecodeHeader(raw).Stat != nInode {
		return c.fail(sofserr.CodeInconsistentDataCluster, "allocatedDataCluster", "cluster not owned by expected inode")
	}
	return nil
}
