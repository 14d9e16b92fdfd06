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

package inodealloc_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/rafaelferreirapt/sofs14/clock"
	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/inodealloc"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
)

const (
	testITableStart = 1
	testITableSize  = 2
	testITotal      = 16
	testTotalBlocks = 8
)

// fakeCleaner records which inodes were asked to be cleaned and zeroes
// their content references, mimicking what the real L5 CleanInode does to
// the fields inodealloc inspects.
type fakeCleaner struct {
	ms     *metastore.MetaStore
	called []uint32
}

func (f *fakeCleaner) CleanInode(nInode uint32) error {
	f.called = append(f.called, nInode)
	in, err := f.ms.GetInode(nInode)
	if err != nil {
		return err
	}
	in.CluCount = 0
	for i := range in.Direct {
		in.Direct[i] = layout.NullCluster
	}
	in.I1 = layout.NullCluster
	in.I2 = layout.NullCluster
	return f.ms.StoreInode(nInode, in)
}

type InodeAllocSuite struct {
	suite.Suite
	dev     *rawdevice.Device
	ms      *metastore.MetaStore
	cleaner *fakeCleaner
	alloc   *inodealloc.Allocator
}

func TestInodeAllocSuite(t *testing.T) { suite.Run(t, new(InodeAllocSuite)) }

// seedFreeList formats a fresh inode table: inode 0 reserved in-use (root),
// inodes 1..ITotal-1 linked free-clean from head=1 to tail=ITotal-1.
func (s *InodeAllocSuite) seedFreeList() {
	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart = testITableStart
	sb.ITableSize = testITableSize
	sb.ITotal = testITotal
	sb.IFree = testITotal - 1
	sb.IHead = 1
	sb.ITail = testITotal - 1
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	root := &layout.Inode{Mode: layout.ModeDir, RefCount: 2}
	for i := range root.Direct {
		root.Direct[i] = layout.NullCluster
	}
	root.I1, root.I2 = layout.NullCluster, layout.NullCluster
	require.NoError(s.T(), s.ms.StoreInode(0, root))

	for n := uint32(1); n < testITotal; n++ {
		in := &layout.Inode{Mode: layout.ModeFree}
		for i := range in.Direct {
			in.Direct[i] = layout.NullCluster
		}
		in.I1, in.I2 = layout.NullCluster, layout.NullCluster
		switch {
		case n == 1:
			in.SetPrevFree(layout.NullInode)
			in.SetNextFree(n + 1)
		case n == testITotal-1:
			in.SetPrevFree(n - 1)
			in.SetNextFree(layout.NullInode)
		default:
			in.SetPrevFree(n - 1)
			in.SetNextFree(n + 1)
		}
		require.NoError(s.T(), s.ms.StoreInode(n, in))
	}
}

func (s *InodeAllocSuite) SetupTest() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "image.img")
	require.NoError(s.T(), os.WriteFile(path, make([]byte, layout.BlockSize*testTotalBlocks), 0o600))
	dev, err := rawdevice.Open(path, false)
	require.NoError(s.T(), err)
	s.dev = dev

	bc := blockcache.New(dev, 16, nil)
	s.ms = metastore.New(bc)
	s.seedFreeList()

	s.cleaner = &fakeCleaner{ms: s.ms}
	s.alloc = inodealloc.New(s.ms, clock.NewFakeClock(time.Unix(1000, 0)), s.cleaner)
}

func (s *InodeAllocSuite) TearDownTest() {
	s.dev.Close()
}

func (s *InodeAllocSuite) TestAllocPopsHeadAndReinitializes() {
	n, err := s.alloc.Alloc(layout.TypeFile, 42, 43)
	require.NoError(s.T(), err)
	s.Require().Equal(uint32(1), n)

	in, err := s.ms.GetInode(n)
	require.NoError(s.T(), err)
	s.Require().False(in.IsFree())
	s.Require().Equal(layout.TypeFile, in.Type())
	s.Require().EqualValues(0, in.RefCount)
	s.Require().EqualValues(42, in.Owner)
	s.Require().EqualValues(43, in.Group)
	s.Require().EqualValues(1000, in.ATime())

	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	s.Require().EqualValues(testITotal-2, sb.IFree)
	s.Require().EqualValues(2, sb.IHead)

	succ, err := s.ms.GetInode(2)
	require.NoError(s.T(), err)
	s.Require().Equal(layout.NullInode, succ.PrevFree())
}

func (s *InodeAllocSuite) TestAllocDrainsWholeListThenNoSpace() {
	for i := 0; i < testITotal-1; i++ {
		_, err := s.alloc.Alloc(layout.TypeFile, 1, 1)
		require.NoError(s.T(), err)
	}
	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	s.Require().EqualValues(0, sb.IFree)
	s.Require().Equal(layout.NullInode, sb.ITail)

	_, err = s.alloc.Alloc(layout.TypeFile, 1, 1)
	s.Require().Error(err)
}

func (s *InodeAllocSuite) TestFreeAppendsToTailDirty() {
	n, err := s.alloc.Alloc(layout.TypeFile, 1, 1)
	require.NoError(s.T(), err)

	in, err := s.ms.GetInode(n)
	require.NoError(s.T(), err)
	in.Direct[0] = 5
	in.CluCount = 1
	require.NoError(s.T(), s.ms.StoreInode(n, in))

	require.NoError(s.T(), s.alloc.Free(n))

	freed, err := s.ms.GetInode(n)
	require.NoError(s.T(), err)
	s.Require().True(freed.IsFree())
	s.Require().EqualValues(5, freed.Direct[0], "free() must leave content refs intact (dirty-free)")

	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	s.Require().Equal(n, sb.ITail)
}

func (s *InodeAllocSuite) TestAllocCleansDirtyInodeBeforeReuse() {
	n, err := s.alloc.Alloc(layout.TypeFile, 1, 1)
	require.NoError(s.T(), err)
	in, err := s.ms.GetInode(n)
	require.NoError(s.T(), err)
	in.Direct[0] = 9
	in.CluCount = 1
	require.NoError(s.T(), s.ms.StoreInode(n, in))
	require.NoError(s.T(), s.alloc.Free(n))

	// Drain the rest of the list so n (now dirty-free, at the tail) is
	// the next head once everything else is gone... instead, directly
	// exercise reuse by allocating until the list wraps back to n is
	// impractical here; simpler: free list order still has n behind
	// others, so alloc the remaining entries first.
	for {
		sb, err := s.ms.GetSuperBlock()
		require.NoError(s.T(), err)
		if sb.IHead == n {
			break
		}
		_, err = s.alloc.Alloc(layout.TypeFile, 1, 1)
		require.NoError(s.T(), err)
	}

	got, err := s.alloc.Alloc(layout.TypeDir, 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal(n, got)
	s.Require().Contains(s.cleaner.called, n)

	fresh, err := s.ms.GetInode(n)
	require.NoError(s.T(), err)
	s.Require().Equal(layout.NullCluster, fresh.Direct[0])
}

func (s *InodeAllocSuite) TestFreeRejectsInodeZero() {
	err := s.alloc.Free(0)
	s.Require().Error(err)
}

func (s *InodeAllocSuite) TestFreeRejectsAlreadyFree() {
	err := s.alloc.Free(1)
	s.Require().Error(err)
}
