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

// Package metastore holds the four typed resident slots described in
// spec.md §4.3: the superblock, one inode-table block, one single-indirect
// ("i2"-referenced) cluster, and one direct-reference ("i1"-referenced)
// cluster. Each slot carries a sticky error flag mirroring the source's
// sbError/intError/sircError/drcError semantics: once an operation on a
// slot fails, the slot is poisoned until it is explicitly reloaded.
package metastore

import (
	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "metastore"

// MetaStore is the single owner of the four resident slots. It is not
// safe for concurrent use — spec.md §5 assumes a single serializing mutex
// at the syscall boundary above the whole engine.
type MetaStore struct {
	bc *blockcache.Cache

	sb    *layout.SuperBlock
	sbErr bool

	inodeBlock    []byte
	inodeBlockIdx uint32
	inodeLoaded   bool
	intErr        bool

	sircClust    []uint32 // RPC refs
	sircClustNum uint32
	sircLoaded   bool
	sircErr      bool

	drcClust    []uint32 // RPC refs
	drcClustNum uint32
	drcLoaded   bool
	drcErr      bool
}

// New wraps bc, with no slot yet loaded.
func New(bc *blockcache.Cache) *MetaStore {
	return &MetaStore{bc: bc}
}

// ConvertInodeRef exposes layout.ConvertInodeRef for callers that only
// hold a *MetaStore.
func ConvertInodeRef(nInode uint32) (block, offset uint32) {
	return layout.ConvertInodeRef(nInode)
}

// ConvertBytePos exposes layout.ConvertBytePos for callers that only hold
// a *MetaStore.
func ConvertBytePos(pos int64) (clusterIdx uint32, inClusterOffset int64) {
	return layout.ConvertBytePos(pos)
}

// PhysicalBlock returns the first physical block of logical data cluster c,
// validating c against the superblock's data-zone bounds.
func (m *MetaStore) PhysicalBlock(c uint32) (uint32, error) {
	sb, err := m.GetSuperBlock()
	if err != nil {
		return 0, err
	}
	if c >= sb.DZoneTotal {
		return 0, sofserr.New(sofserr.CodeInvalidRange, layerName, "cluster index out of data-zone bounds")
	}
	return sb.DZoneStart + c*layout.BlocksPerCluster, nil
}

////////////////////////////////////////////////////////////////////////
// Superblock slot
////////////////////////////////////////////////////////////////////////

// LoadSuperBlock reads block 0 into the resident slot, clearing any sticky
// error.
func (m *MetaStore) LoadSuperBlock() error {
	raw, err := m.bc.Read(0)
	if err != nil {
		m.sbErr = true
		return err
	}
	sb, err := layout.DecodeSuperBlock(raw)
	if err != nil {
		m.sbErr = true
		return sofserr.Wrap(sofserr.CodeInconsistentSuperBlock, layerName, err)
	}
	m.sb = sb
	m.sbErr = false
	return nil
}

// GetSuperBlock returns the resident superblock, loading it first if
// necessary.
func (m *MetaStore) GetSuperBlock() (*layout.SuperBlock, error) {
	if m.sbErr {
		return nil, sofserr.New(sofserr.CodeInconsistentSuperBlock, layerName, "superblock slot is poisoned; reload required")
	}
	if m.sb == nil {
		if err := m.LoadSuperBlock(); err != nil {
			return nil, err
		}
	}
	return m.sb, nil
}

// StoreSuperBlock writes the resident superblock back to block 0.
func (m *MetaStore) StoreSuperBlock() error {
	if m.sbErr || m.sb == nil {
		return sofserr.New(sofserr.CodeInconsistentSuperBlock, layerName, "no valid superblock to store")
	}
	if err := m.bc.Write(0, layout.EncodeSuperBlock(m.sb)); err != nil {
		m.sbErr = true
		return err
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Inode-table block slot
////////////////////////////////////////////////////////////////////////

// LoadInodeBlock reads the inode-table block holding inode number nInode.
func (m *MetaStore) LoadInodeBlock(nInode uint32) error {
	sb, err := m.GetSuperBlock()
	if err != nil {
		return err
	}
	blockIdx, _ := layout.ConvertInodeRef(nInode)
	if nInode >= sb.ITotal {
		m.intErr = true
		return sofserr.New(sofserr.CodeInvalidRange, layerName, "inode number out of range")
	}
	raw, err := m.bc.Read(sb.ITableStart + blockIdx)
	if err != nil {
		m.intErr = true
		return err
	}
	m.inodeBlock = raw
	m.inodeBlockIdx = blockIdx
	m.inodeLoaded = true
	m.intErr = false
	return nil
}

// GetInode returns inode nInode, loading its containing block first if
// that block is not already resident.
func (m *MetaStore) GetInode(nInode uint32) (*layout.Inode, error) {
	if m.intErr {
		return nil, sofserr.New(sofserr.CodeInconsistentInodeTable, layerName, "inode-table slot is poisoned; reload required")
	}
	blockIdx, offset := layout.ConvertInodeRef(nInode)
	if !m.inodeLoaded || m.inodeBlockIdx != blockIdx {
		if err := m.LoadInodeBlock(nInode); err != nil {
			return nil, err
		}
	}
	raw := m.inodeBlock[offset*layout.InodeSize : (offset+1)*layout.InodeSize]
	in, err := layout.DecodeInode(raw)
	if err != nil {
		m.intErr = true
		return nil, sofserr.Wrap(sofserr.CodeInconsistentInodeTable, layerName, err)
	}
	return in, nil
}

// StoreInode writes in back into its slot of the resident inode-table
// block, loading that block first if necessary.
func (m *MetaStore) StoreInode(nInode uint32, in *layout.Inode) error {
	if m.intErr {
		return sofserr.New(sofserr.CodeInconsistentInodeTable, layerName, "inode-table slot is poisoned; reload required")
	}
	blockIdx, offset := layout.ConvertInodeRef(nInode)
	if !m.inodeLoaded || m.inodeBlockIdx != blockIdx {
		if err := m.LoadInodeBlock(nInode); err != nil {
			return err
		}
	}
	copy(m.inodeBlock[offset*layout.InodeSize:(offset+1)*layout.InodeSize], layout.EncodeInode(in))

	sb, err := m.GetSuperBlock()
	if err != nil {
		return err
	}
	if err := m.bc.Write(sb.ITableStart+blockIdx, m.inodeBlock); err != nil {
		m.intErr = true
		return err
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Single-indirect ("i2"-referenced) cluster slot
////////////////////////////////////////////////////////////////////////

// LoadSngIndClust reads the RPC-word reference array held by cluster
// nClust, validating it is a data-zone cluster.
func (m *MetaStore) LoadSngIndClust(nClust uint32) error {
	refs, err := m.loadRefCluster(nClust)
	if err != nil {
		m.sircErr = true
		return err
	}
	m.sircClust = refs
	m.sircClustNum = nClust
	m.sircLoaded = true
	m.sircErr = false
	return nil
}

// GetSngIndClust returns the RPC references held by cluster nClust,
// loading it first if a different cluster is resident.
func (m *MetaStore) GetSngIndClust(nClust uint32) ([]uint32, error) {
	if m.sircErr {
		return nil, sofserr.New(sofserr.CodeInconsistentDataCluster, layerName, "single-indirect slot is poisoned; reload required")
	}
	if !m.sircLoaded || m.sircClustNum != nClust {
		if err := m.LoadSngIndClust(nClust); err != nil {
			return nil, err
		}
	}
	return m.sircClust, nil
}

// StoreSngIndClust writes refs back to the resident single-indirect
// cluster (which must already be loaded to nClust).
func (m *MetaStore) StoreSngIndClust(nClust uint32, refs []uint32) error {
	if !m.sircLoaded || m.sircClustNum != nClust {
		m.sircClust = refs
		m.sircClustNum = nClust
		m.sircLoaded = true
	} else {
		m.sircClust = refs
	}
	if err := m.storeRefCluster(nClust, refs); err != nil {
		m.sircErr = true
		return err
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Direct-reference ("i1"-referenced) cluster slot
////////////////////////////////////////////////////////////////////////

// LoadDirRefClust reads the RPC-word reference array held by cluster
// nClust.
func (m *MetaStore) LoadDirRefClust(nClust uint32) error {
	refs, err := m.loadRefCluster(nClust)
	if err != nil {
		m.drcErr = true
		return err
	}
	m.drcClust = refs
	m.drcClustNum = nClust
	m.drcLoaded = true
	m.drcErr = false
	return nil
}

// GetDirRefClust returns the RPC references held by cluster nClust,
// loading it first if a different cluster is resident.
func (m *MetaStore) GetDirRefClust(nClust uint32) ([]uint32, error) {
	if m.drcErr {
		return nil, sofserr.New(sofserr.CodeInconsistentDataCluster, layerName, "direct-reference slot is poisoned; reload required")
	}
	if !m.drcLoaded || m.drcClustNum != nClust {
		if err := m.LoadDirRefClust(nClust); err != nil {
			return nil, err
		}
	}
	return m.drcClust, nil
}

// StoreDirRefClust writes refs back to the resident direct-reference
// cluster.
func (m *MetaStore) StoreDirRefClust(nClust uint32, refs []uint32) error {
	if !m.drcLoaded || m.drcClustNum != nClust {
		m.drcClust = refs
		m.drcClustNum = nClust
		m.drcLoaded = true
	} else {
		m.drcClust = refs
	}
	if err := m.storeRefCluster(nClust, refs); err != nil {
		m.drcErr = true
		return err
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Raw cluster access
////////////////////////////////////////////////////////////////////////

// ReadClusterRaw returns the full ClusterSize bytes of logical data
// cluster nClust, for callers (clusteralloc, contenttree, directory) that
// need to inspect or rewrite the three-word header alongside a
// layer-specific body view.
func (m *MetaStore) ReadClusterRaw(nClust uint32) ([]byte, error) {
	phys, err := m.PhysicalBlock(nClust)
	if err != nil {
		return nil, err
	}
	return m.bc.ReadCluster(phys)
}

// WriteClusterRaw writes raw back to logical data cluster nClust.
func (m *MetaStore) WriteClusterRaw(nClust uint32, raw []byte) error {
	phys, err := m.PhysicalBlock(nClust)
	if err != nil {
		return err
	}
	return m.bc.WriteCluster(phys, raw)
}

////////////////////////////////////////////////////////////////////////
// Shared reference-cluster codec
////////////////////////////////////////////////////////////////////////

func (m *MetaStore) loadRefCluster(nClust uint32) ([]uint32, error) {
	phys, err := m.PhysicalBlock(nClust)
	if err != nil {
		return nil, err
	}
	raw, err := m.bc.ReadCluster(phys)
	if err != nil {
		return nil, err
	}
	return layout.DecodeRefBody(raw), nil
}

func (m *MetaStore) storeRefCluster(nClust uint32, refs []uint32) error {
	if len(refs) != layout.RPC {
		return sofserr.New(sofserr.CodeInvalidArgument, layerName, "reference cluster body must hold exactly RPC entries")
	}
	phys, err := m.PhysicalBlock(nClust)
	if err != nil {
		return err
	}
	raw, err := m.bc.ReadCluster(phys)
	if err != nil {
		return err
	}
	layout.EncodeRefBody(raw, refs)
	return m.bc.WriteCluster(phys, raw)
}
