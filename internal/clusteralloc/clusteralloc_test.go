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

package clusteralloc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/clusteralloc"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
)

const (
	testITableStart = 1
	testITableSize  = 1
	testITotal      = 8
	testDZoneStart  = 2
)

// fakeDataCleaner records CleanDataCluster invocations and simply clears
// the target cluster's stat to NULL_INODE, mirroring what the real L5
// CleanDataCluster eventually leaves behind.
type fakeDataCleaner struct {
	ms     *metastore.MetaStore
	called []uint32
}

func (f *fakeDataCleaner) CleanDataCluster(nClust uint32) error {
	f.called = append(f.called, nClust)
	raw, err := f.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	h := layout.DecodeHeader(raw)
	h.Stat = layout.NullInode
	layout.EncodeHeader(raw, h)
	return f.ms.WriteClusterRaw(nClust, raw)
}

type ClusterAllocSuite struct {
	suite.Suite
	dev     *rawdevice.Device
	ms      *metastore.MetaStore
	cleaner *fakeDataCleaner
	alloc   *clusteralloc.Allocator
}

func TestClusterAllocSuite(t *testing.T) { suite.Run(t, new(ClusterAllocSuite)) }

func (s *ClusterAllocSuite) newImage(totalBlocks uint32) {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "image.img")
	require.NoError(s.T(), os.WriteFile(path, make([]byte, layout.BlockSize*int(totalBlocks)), 0o600))
	dev, err := rawdevice.Open(path, false)
	require.NoError(s.T(), err)
	s.dev = dev

	bc := blockcache.New(dev, 256, nil)
	s.ms = metastore.New(bc)
	s.cleaner = &fakeDataCleaner{ms: s.ms}
	s.alloc = clusteralloc.New(s.ms, s.cleaner, nil)
}

func (s *ClusterAllocSuite) writeClusterHeader(nClust uint32, h layout.ClusterHeader) {
	raw, err := s.ms.ReadClusterRaw(nClust)
	require.NoError(s.T(), err)
	layout.EncodeHeader(raw, h)
	require.NoError(s.T(), s.ms.WriteClusterRaw(nClust, raw))
}

func (s *ClusterAllocSuite) storeInUseInode(n uint32) {
	in := &layout.Inode{Mode: layout.ModeFile, RefCount: 1}
	for i := range in.Direct {
		in.Direct[i] = layout.NullCluster
	}
	in.I1, in.I2 = layout.NullCluster, layout.NullCluster
	require.NoError(s.T(), s.ms.StoreInode(n, in))
}

func (s *ClusterAllocSuite) TearDownTest() {
	if s.dev != nil {
		s.dev.Close()
	}
}

// TestAllocReplenishesFromSpill seeds a 9-cluster spill list (clusters
// 1..9) with empty retrieval/insertion caches and checks that Alloc
// replenishes and returns clusters in spill order, cleaning dirty ones.
func (s *ClusterAllocSuite) TestAllocReplenishesFromSpill() {
	s.newImage(60)
	s.storeInUseInode(1)

	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart, sb.ITableSize, sb.ITotal = testITableStart, testITableSize, testITotal
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, 10
	sb.DZoneRetr.Idx = layout.DZoneCacheSize // empty
	sb.DZoneIns.Idx = 0                      // empty
	sb.DHead, sb.DTail = 1, 9
	sb.DZoneFree = 9
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	for c := uint32(1); c <= 9; c++ {
		h := layout.ClusterHeader{Stat: layout.NullInode}
		if c > 1 {
			h.Prev = c - 1
		} else {
			h.Prev = layout.NullCluster
		}
		if c < 9 {
			h.Next = c + 1
		} else {
			h.Next = layout.NullCluster
		}
		s.writeClusterHeader(c, h)
	}
	// Mark cluster 5 dirty (stale owner) to exercise the clean-on-alloc
	// path, keeping its spill-list links intact.
	s.writeClusterHeader(5, layout.ClusterHeader{Stat: 3, Prev: 4, Next: 6})

	got := make([]uint32, 0, 9)
	for i := 0; i < 9; i++ {
		n, err := s.alloc.Alloc(1)
		require.NoError(s.T(), err)
		got = append(got, n)
	}
	s.Require().Equal([]uint32{1, 2, 3, 4, 5, 6, 7, 8, 9}, got, "spill must drain in order 1..9")
	s.Require().Contains(s.cleaner.called, uint32(5))

	sbFinal, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	s.Require().EqualValues(0, sbFinal.DZoneFree)
	s.Require().Equal(layout.NullCluster, sbFinal.DHead)
	s.Require().Equal(layout.NullCluster, sbFinal.DTail)

	for _, n := range got {
		raw, err := s.ms.ReadClusterRaw(n)
		require.NoError(s.T(), err)
		h := layout.DecodeHeader(raw)
		s.Require().EqualValues(1, h.Stat, "allocated cluster must carry the owning inode")
		s.Require().Equal(layout.NullCluster, h.Prev)
		s.Require().Equal(layout.NullCluster, h.Next)
	}
}

func (s *ClusterAllocSuite) TestAllocFailsNoSpace() {
	s.newImage(20)
	s.storeInUseInode(1)
	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart, sb.ITableSize, sb.ITotal = testITableStart, testITableSize, testITotal
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, 4
	sb.DZoneRetr.Idx = layout.DZoneCacheSize
	sb.DZoneIns.Idx = 0
	sb.DHead, sb.DTail = layout.NullCluster, layout.NullCluster
	sb.DZoneFree = 0
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	_, err = s.alloc.Alloc(1)
	s.Require().Error(err)
}

func (s *ClusterAllocSuite) TestFreeThenAllocRoundTrip() {
	s.newImage(60)
	s.storeInUseInode(1)

	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart, sb.ITableSize, sb.ITotal = testITableStart, testITableSize, testITotal
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, 10
	sb.DZoneRetr.Idx = layout.DZoneCacheSize
	sb.DZoneIns.Idx = 0
	sb.DHead, sb.DTail = layout.NullCluster, layout.NullCluster
	sb.DZoneFree = 0
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	// Cluster 3 is "allocated" to inode 1.
	s.writeClusterHeader(3, layout.ClusterHeader{Stat: 1, Prev: layout.NullCluster, Next: layout.NullCluster})

	require.NoError(s.T(), s.alloc.Free(3))
	sbAfterFree, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	s.Require().EqualValues(1, sbAfterFree.DZoneFree)
	s.Require().EqualValues(1, sbAfterFree.DZoneIns.Idx)
	s.Require().Equal(uint32(3), sbAfterFree.DZoneIns.Cache[0])

	// Retrieval is still empty (Idx==K), so Alloc must replenish straight
	// from the insertion cache via Deplete.
	n, err := s.alloc.Alloc(1)
	require.NoError(s.T(), err)
	s.Require().Equal(uint32(3), n)
}

func (s *ClusterAllocSuite) TestFreeRejectsRootCluster() {
	s.newImage(20)
	s.storeInUseInode(1)
	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, 4
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	err = s.alloc.Free(0)
	s.Require().Error(err)
}

func (s *ClusterAllocSuite) TestFreeRejectsDuplicate() {
	s.newImage(30)
	s.storeInUseInode(1)
	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, 6
	sb.DZoneRetr.Idx = layout.DZoneCacheSize
	sb.DZoneIns.Idx = 0
	sb.DZoneFree = 0
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	s.writeClusterHeader(2, layout.ClusterHeader{Stat: 1})
	require.NoError(s.T(), s.alloc.Free(2))

	err = s.alloc.Free(2)
	s.Require().Error(err, "freeing an already-free cluster must fail")
}
