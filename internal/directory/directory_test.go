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

package directory_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/rafaelferreirapt/sofs14/clock"
	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/clusteralloc"
	"github.com/rafaelferreirapt/sofs14/internal/contenttree"
	"github.com/rafaelferreirapt/sofs14/internal/directory"
	"github.com/rafaelferreirapt/sofs14/internal/inodealloc"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const (
	testITableStart = 1
	testITableSize  = 8
	testITotal      = 64
	testDZoneStart  = 9
	testDZoneTotal  = 40
)

type DirectorySuite struct {
	suite.Suite
	dev   *rawdevice.Device
	ms    *metastore.MetaStore
	clust *clusteralloc.Allocator
	ialloc *inodealloc.Allocator
	tree  *contenttree.Tree
	dir   *directory.Directory
}

func TestDirectorySuite(t *testing.T) { suite.Run(t, new(DirectorySuite)) }

func (s *DirectorySuite) SetupTest() {
	tmp := s.T().TempDir()
	path := filepath.Join(tmp, "image.img")
	totalBlocks := testDZoneStart + testDZoneTotal*layout.BlocksPerCluster
	require.NoError(s.T(), os.WriteFile(path, make([]byte, layout.BlockSize*int(totalBlocks)), 0o600))
	dev, err := rawdevice.Open(path, false)
	require.NoError(s.T(), err)
	s.dev = dev

	bc := blockcache.New(dev, 512, nil)
	s.ms = metastore.New(bc)

	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart, sb.ITableSize, sb.ITotal = testITableStart, testITableSize, testITotal
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, testDZoneTotal
	sb.DZoneRetr.Idx = layout.DZoneCacheSize
	sb.DZoneIns.Idx = 0
	sb.DZoneFree = testDZoneTotal - 1
	sb.DHead, sb.DTail = 1, testDZoneTotal-1
	sb.IFree = 0
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	for c := uint32(1); c < testDZoneTotal; c++ {
		h := layout.ClusterHeader{Stat: layout.NullInode}
		if c > 1 {
			h.Prev = c - 1
		} else {
			h.Prev = layout.NullCluster
		}
		if c < testDZoneTotal-1 {
			h.Next = c + 1
		} else {
			h.Next = layout.NullCluster
		}
		raw, err := s.ms.ReadClusterRaw(c)
		require.NoError(s.T(), err)
		layout.EncodeHeader(raw, h)
		require.NoError(s.T(), s.ms.WriteClusterRaw(c, raw))
	}

	s.clust = clusteralloc.New(s.ms, nil, nil)
	s.tree = contenttree.New(s.ms, s.clust)
	s.clust.SetCleaner(s.tree)
	s.ialloc = inodealloc.New(s.ms, clock.NewFakeClock(time.Unix(1000, 0)), s.tree)
	s.dir = directory.New(s.ms, s.tree, s.ialloc)

	// Inode 0: root directory, self-referencing "." and "..", rwx for all.
	root := &layout.Inode{
		Mode:     layout.ModeDir | 0o777,
		RefCount: 2,
		CluCount: 1,
	}
	for i := range root.Direct {
		root.Direct[i] = layout.NullCluster
	}
	root.I1, root.I2 = layout.NullCluster, layout.NullCluster
	require.NoError(s.T(), s.ms.StoreInode(0, root))
	rootClust, err := s.tree.HandleFileCluster(0, 0, contenttree.OpAlloc)
	require.NoError(s.T(), err)
	entries := make([]*layout.DirEntry, layout.DPC)
	for i := range entries {
		entries[i] = &layout.DirEntry{NInode: layout.NullInode}
	}
	entries[0].NInode, _ = 0, layout.SetName(entries[0], ".")
	entries[1].NInode, _ = 0, layout.SetName(entries[1], "..")
	raw, err := s.ms.ReadClusterRaw(rootClust)
	require.NoError(s.T(), err)
	layout.EncodeDirBody(raw, entries)
	require.NoError(s.T(), s.ms.WriteClusterRaw(rootClust, raw))
	root.Size = layout.DPC * layout.DirEntrySize
	require.NoError(s.T(), s.ms.StoreInode(0, root))

	// Seed a free-inode list for inodes 1..testITotal-1, free-clean.
	for n := uint32(1); n < testITotal; n++ {
		free := &layout.Inode{Mode: layout.ModeFree}
		if n > 1 {
			free.SetPrevFree(n - 1)
		} else {
			free.SetPrevFree(layout.NullInode)
		}
		if n < testITotal-1 {
			free.SetNextFree(n + 1)
		} else {
			free.SetNextFree(layout.NullInode)
		}
		require.NoError(s.T(), s.ms.StoreInode(n, free))
	}
	sb, err = s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.IHead, sb.ITail, sb.IFree = 1, testITotal-1, testITotal-1
	require.NoError(s.T(), s.ms.StoreSuperBlock())
}

func (s *DirectorySuite) TearDownTest() { s.dev.Close() }

func (s *DirectorySuite) newFile() uint32 {
	n, err := s.ialloc.Alloc(layout.TypeFile, 1, 1)
	require.NoError(s.T(), err)
	return n
}

func (s *DirectorySuite) TestGetDirEntryByNameFindsDotDot() {
	n, idx, err := s.dir.GetDirEntryByName(0, "..", 1, 1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(0, n)
	s.Require().EqualValues(1, idx)
}

func (s *DirectorySuite) TestGetDirEntryByNameNotFoundYieldsFreeSlot() {
	_, idx, err := s.dir.GetDirEntryByName(0, "nope", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotFound))
	s.Require().EqualValues(2, idx, "first clean-free slot after . and ..")
}

func (s *DirectorySuite) TestAddFileEntry() {
	fileIno := s.newFile()
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "a.txt", fileIno, directory.OpAdd, 1, 1))

	got, idx, err := s.dir.GetDirEntryByName(0, "a.txt", 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal(fileIno, got)
	s.Require().EqualValues(2, idx)

	in, err := s.ms.GetInode(fileIno)
	require.NoError(s.T(), err)
	s.Require().EqualValues(1, in.RefCount)
}

func (s *DirectorySuite) TestAddDuplicateNameFails() {
	fileIno := s.newFile()
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "a.txt", fileIno, directory.OpAdd, 1, 1))
	other := s.newFile()
	err := s.dir.AddAttDirEntry(0, "a.txt", other, directory.OpAdd, 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeExists))
}

func (s *DirectorySuite) TestAddSubdirectoryInitializesDotDot() {
	childIno, err := s.ialloc.Alloc(layout.TypeDir, 1, 1)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "sub", childIno, directory.OpAdd, 1, 1))

	child, err := s.ms.GetInode(childIno)
	require.NoError(s.T(), err)
	s.Require().EqualValues(2, child.RefCount)
	s.Require().EqualValues(layout.DPC*layout.DirEntrySize, child.Size)

	self, idx, err := s.dir.GetDirEntryByName(childIno, ".", 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal(childIno, self)
	s.Require().EqualValues(0, idx)

	parent, idx, err := s.dir.GetDirEntryByName(childIno, "..", 1, 1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(0, parent)
	s.Require().EqualValues(1, idx)

	root, err := s.ms.GetInode(0)
	require.NoError(s.T(), err)
	s.Require().EqualValues(3, root.RefCount, "parent refCount bumped for the child's .. back-edge")
}

func (s *DirectorySuite) TestRemDetachRemovesWhenRefCountZero() {
	fileIno := s.newFile()
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "a.txt", fileIno, directory.OpAdd, 1, 1))
	require.NoError(s.T(), s.dir.RemDetachDirEntry(0, "a.txt", directory.OpRem, 1, 1))

	_, _, err := s.dir.GetDirEntryByName(0, "a.txt", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotFound))

	freed, err := s.ms.GetInode(fileIno)
	require.NoError(s.T(), err)
	s.Require().True(freed.IsFree())
}

func (s *DirectorySuite) TestDetachKeepsChildAlive() {
	fileIno := s.newFile()
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "a.txt", fileIno, directory.OpAdd, 1, 1))
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "b.txt", fileIno, directory.OpAdd, 1, 1))
	require.NoError(s.T(), s.dir.RemDetachDirEntry(0, "a.txt", directory.OpDetach, 1, 1))

	in, err := s.ms.GetInode(fileIno)
	require.NoError(s.T(), err)
	s.Require().False(in.IsFree(), "a second link keeps the inode alive after detach")
	s.Require().EqualValues(1, in.RefCount)
}

func (s *DirectorySuite) TestRemNonEmptyDirectoryFails() {
	childIno, err := s.ialloc.Alloc(layout.TypeDir, 1, 1)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "sub", childIno, directory.OpAdd, 1, 1))
	grandchild := s.newFile()
	require.NoError(s.T(), s.dir.AddAttDirEntry(childIno, "f", grandchild, directory.OpAdd, 1, 1))

	err = s.dir.RemDetachDirEntry(0, "sub", directory.OpRem, 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotEmpty))
}

func (s *DirectorySuite) TestRenameDirEntry() {
	fileIno := s.newFile()
	require.NoError(s.T(), s.dir.AddAttDirEntry(0, "old.txt", fileIno, directory.OpAdd, 1, 1))
	require.NoError(s.T(), s.dir.RenameDirEntry(0, "old.txt", "new.txt", 1, 1))

	_, _, err := s.dir.GetDirEntryByName(0, "old.txt", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotFound))
	got, _, err := s.dir.GetDirEntryByName(0, "new.txt", 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal(fileIno, got)
}

func (s *DirectorySuite) TestCheckDirectoryEmptinessOnFreshRoot() {
	require.NoError(s.T(), s.dir.CheckDirectoryEmptiness(0))
}

func (s *DirectorySuite) TestGrowthAcrossClusterBoundary() {
	for i := 0; i < int(layout.DPC)-2+3; i++ {
		fileIno := s.newFile()
		name := filepath.Base("f") + string(rune('a'+i%26)) + string(rune('0'+(i/26)%10))
		require.NoError(s.T(), s.dir.AddAttDirEntry(0, name, fileIno, directory.OpAdd, 1, 1))
	}
	root, err := s.ms.GetInode(0)
	require.NoError(s.T(), err)
	s.Require().EqualValues(2, root.Size/(layout.DPC*layout.DirEntrySize), "must have grown into a second directory cluster")
}
