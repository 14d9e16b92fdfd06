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

package engine_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/rafaelferreirapt/sofs14/cfg"
	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/clusteralloc"
	"github.com/rafaelferreirapt/sofs14/internal/config"
	"github.com/rafaelferreirapt/sofs14/internal/consistency"
	"github.com/rafaelferreirapt/sofs14/internal/contenttree"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/logger"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"

	"github.com/rafaelferreirapt/sofs14/engine"
)

const (
	testITableStart = 1
	testITableSize  = 8
	testITotal      = 64
	testDZoneStart  = 9
	testDZoneTotal  = 40
)

type EngineSuite struct {
	suite.Suite
	imagePath string
	eng       *engine.Engine
}

func TestEngineSuite(t *testing.T) { suite.Run(t, new(EngineSuite)) }

// formatImage hand-seeds a fresh image exactly like directory_test.go/
// pathresolver_test.go do, then closes the device so engine.New can open
// it fresh.
func (s *EngineSuite) formatImage(path string) {
	totalBlocks := testDZoneStart + testDZoneTotal*layout.BlocksPerCluster
	require.NoError(s.T(), os.WriteFile(path, make([]byte, layout.BlockSize*int(totalBlocks)), 0o600))

	dev, err := rawdevice.Open(path, false)
	require.NoError(s.T(), err)
	defer dev.Close()

	bc := blockcache.New(dev, 512, nil)
	ms := metastore.New(bc)

	sb, err := ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart, sb.ITableSize, sb.ITotal = testITableStart, testITableSize, testITotal
	sb.DZoneStart, sb.DZoneTotal = testDZoneStart, testDZoneTotal
	sb.DZoneRetr.Idx = layout.DZoneCacheSize
	sb.DZoneIns.Idx = 0
	sb.DZoneFree = testDZoneTotal - 1
	sb.DHead, sb.DTail = 1, testDZoneTotal-1
	sb.IFree = 0
	require.NoError(s.T(), ms.StoreSuperBlock())

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
		raw, err := ms.ReadClusterRaw(c)
		require.NoError(s.T(), err)
		layout.EncodeHeader(raw, h)
		require.NoError(s.T(), ms.WriteClusterRaw(c, raw))
	}

	root := &layout.Inode{Mode: layout.ModeDir | 0o777, RefCount: 2, CluCount: 1}
	for i := range root.Direct {
		root.Direct[i] = layout.NullCluster
	}
	root.I1, root.I2 = layout.NullCluster, layout.NullCluster
	require.NoError(s.T(), ms.StoreInode(0, root))

	// Allocate the root's first content cluster directly through the
	// content-tree package, mirroring pathresolver_test.go's SetupTest
	// rather than duplicating its indirection logic here.
	clust := clusteralloc.New(ms, nil, nil)
	tree := contenttree.New(ms, clust)
	clust.SetCleaner(tree)
	rootData, err := tree.HandleFileCluster(0, 0, contenttree.OpAlloc)
	require.NoError(s.T(), err)

	entries := make([]*layout.DirEntry, layout.DPC)
	for i := range entries {
		entries[i] = &layout.DirEntry{NInode: layout.NullInode}
	}
	entries[0].NInode = 0
	require.NoError(s.T(), layout.SetName(entries[0], "."))
	entries[1].NInode = 0
	require.NoError(s.T(), layout.SetName(entries[1], ".."))
	raw, err := ms.ReadClusterRaw(rootData)
	require.NoError(s.T(), err)
	layout.EncodeDirBody(raw, entries)
	require.NoError(s.T(), ms.WriteClusterRaw(rootData, raw))
	root.Size = layout.DPC * layout.DirEntrySize
	require.NoError(s.T(), ms.StoreInode(0, root))

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
		require.NoError(s.T(), ms.StoreInode(n, free))
	}
	sb, err = ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.IHead, sb.ITail, sb.IFree = 1, testITotal-1, testITotal-1
	require.NoError(s.T(), ms.StoreSuperBlock())
	require.NoError(s.T(), bc.Close())
}

func (s *EngineSuite) SetupTest() {
	tmp := s.T().TempDir()
	s.imagePath = filepath.Join(tmp, "image.img")
	s.formatImage(s.imagePath)

	log, err := logger.New(logger.Options{Severity: cfg.ErrorLogSeverity, Format: "text", Writer: io.Discard})
	require.NoError(s.T(), err)

	engCfg := config.EngineConfig{
		ImagePath:            s.imagePath,
		BlockCacheCapacity:   512,
		ClusterCacheCapacity: 64,
		VolumeName:           "testvol",
	}
	eng, err := engine.New(engCfg, log)
	require.NoError(s.T(), err)
	s.eng = eng
	require.NoError(s.T(), s.eng.Mount())
}

func (s *EngineSuite) TearDownTest() {
	if s.eng != nil {
		_ = s.eng.Unmount()
	}
}

func (s *EngineSuite) TestMountStampsStatFS() {
	stat, err := s.eng.StatFS()
	require.NoError(s.T(), err)
	s.Require().EqualValues(testDZoneTotal, stat.TotalClusters)
	s.Require().EqualValues(testITotal, stat.TotalInodes)
}

func (s *EngineSuite) TestMkdirAndLookup() {
	attr, err := s.eng.Mkdir("/sub", 1, 1, 0o755)
	require.NoError(s.T(), err)
	s.Require().EqualValues(layout.ModeDir|0o755, attr.Mode)

	st, err := s.eng.Stat("/sub", 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal(attr.Inode, st.Inode)
}

func (s *EngineSuite) TestMknodWriteReadRoundTrip() {
	attr, err := s.eng.Mknod("/hello.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)

	fh, _, err := s.eng.Open("/hello.txt", 1, 1, consistency.AccessWrite)
	require.NoError(s.T(), err)
	n, err := s.eng.Write(fh, 0, []byte("hello world"))
	require.NoError(s.T(), err)
	s.Require().Equal(11, n)
	require.NoError(s.T(), s.eng.Close(fh))

	fh, _, err = s.eng.Open("/hello.txt", 1, 1, consistency.AccessRead)
	require.NoError(s.T(), err)
	buf := make([]byte, 32)
	n, err = s.eng.Read(fh, 0, buf)
	require.NoError(s.T(), err)
	s.Require().Equal("hello world", string(buf[:n]))
	require.NoError(s.T(), s.eng.Close(fh))

	st, err := s.eng.Stat("/hello.txt", 1, 1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(11, st.Size)
	s.Require().Equal(attr.Inode, st.Inode)
}

func (s *EngineSuite) TestTruncateShrinksAndZeroExtends() {
	_, err := s.eng.Mknod("/f.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	fh, _, err := s.eng.Open("/f.txt", 1, 1, consistency.AccessWrite)
	require.NoError(s.T(), err)
	_, err = s.eng.Write(fh, 0, []byte("0123456789"))
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.eng.Close(fh))

	require.NoError(s.T(), s.eng.Truncate("/f.txt", 1, 1, 4))
	st, err := s.eng.Stat("/f.txt", 1, 1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(4, st.Size)

	require.NoError(s.T(), s.eng.Truncate("/f.txt", 1, 1, 20))
	fh, _, err = s.eng.Open("/f.txt", 1, 1, consistency.AccessRead)
	require.NoError(s.T(), err)
	buf := make([]byte, 20)
	n, err := s.eng.Read(fh, 0, buf)
	require.NoError(s.T(), err)
	s.Require().Equal(20, n)
	s.Require().Equal([]byte("0123"), buf[:4])
	for _, b := range buf[4:] {
		s.Require().EqualValues(0, b)
	}
	require.NoError(s.T(), s.eng.Close(fh))
}

func (s *EngineSuite) TestSymlinkAndReadlink() {
	_, err := s.eng.Mknod("/target.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	_, err = s.eng.Symlink("/target.txt", "/link", 1, 1)
	require.NoError(s.T(), err)

	target, err := s.eng.Readlink("/link", 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal("/target.txt", target)

	lst, err := s.eng.Lstat("/link", 1, 1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(layout.ModeSymlink, lst.Mode&layout.ModeTypeMask)
}

func (s *EngineSuite) TestUnlinkRemovesEntry() {
	_, err := s.eng.Mknod("/f.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.eng.Unlink("/f.txt", 1, 1))

	_, err = s.eng.Stat("/f.txt", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotFound))
}

func (s *EngineSuite) TestRmdirRejectsNonEmpty() {
	_, err := s.eng.Mkdir("/d", 1, 1, 0o755)
	require.NoError(s.T(), err)
	_, err = s.eng.Mknod("/d/f.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)

	err = s.eng.Rmdir("/d", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotEmpty))

	require.NoError(s.T(), s.eng.Unlink("/d/f.txt", 1, 1))
	require.NoError(s.T(), s.eng.Rmdir("/d", 1, 1))
}

func (s *EngineSuite) TestLinkAddsSecondName() {
	attr, err := s.eng.Mknod("/a.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	_, err = s.eng.Link("/a.txt", "/b.txt", 1, 1)
	require.NoError(s.T(), err)

	st, err := s.eng.Stat("/b.txt", 1, 1)
	require.NoError(s.T(), err)
	s.Require().Equal(attr.Inode, st.Inode)
	s.Require().EqualValues(2, st.RefCount)
}

func (s *EngineSuite) TestRenameWithinSameDirectory() {
	_, err := s.eng.Mknod("/old.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.eng.Rename("/old.txt", "/new.txt", 1, 1))

	_, err = s.eng.Stat("/old.txt", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotFound))
	_, err = s.eng.Stat("/new.txt", 1, 1)
	require.NoError(s.T(), err)
}

func (s *EngineSuite) TestRenameAcrossDirectories() {
	_, err := s.eng.Mkdir("/dst", 1, 1, 0o755)
	require.NoError(s.T(), err)
	_, err = s.eng.Mknod("/a.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.eng.Rename("/a.txt", "/dst/a.txt", 1, 1))
	_, err = s.eng.Stat("/a.txt", 1, 1)
	s.Require().True(sofserr.Is(err, sofserr.CodeNotFound))
	_, err = s.eng.Stat("/dst/a.txt", 1, 1)
	require.NoError(s.T(), err)
}

func (s *EngineSuite) TestChmodChownAccess() {
	_, err := s.eng.Mknod("/f.txt", 1, 1, 0o600)
	require.NoError(s.T(), err)

	err = s.eng.Access("/f.txt", 2, 2, consistency.AccessRead)
	s.Require().True(sofserr.Is(err, sofserr.CodeAccessDenied))

	require.NoError(s.T(), s.eng.Chmod("/f.txt", 1, 1, 0o644))
	require.NoError(s.T(), s.eng.Access("/f.txt", 2, 2, consistency.AccessRead))

	require.NoError(s.T(), s.eng.Chown("/f.txt", 0, 0, 9, 9))
	st, err := s.eng.Stat("/f.txt", 1, 1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(9, st.Owner)
	s.Require().EqualValues(9, st.Group)
}

func (s *EngineSuite) TestOpenDirReadDirCloseDir() {
	_, err := s.eng.Mkdir("/d", 1, 1, 0o755)
	require.NoError(s.T(), err)
	_, err = s.eng.Mknod("/d/one.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	_, err = s.eng.Mknod("/d/two.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)

	fh, err := s.eng.OpenDir("/d", 1, 1)
	require.NoError(s.T(), err)
	entries, err := s.eng.ReadDir(fh)
	require.NoError(s.T(), err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	s.Require().True(names["."])
	s.Require().True(names[".."])
	s.Require().True(names["one.txt"])
	s.Require().True(names["two.txt"])
	require.NoError(s.T(), s.eng.CloseDir(fh))
}

func (s *EngineSuite) TestFsyncOnOpenHandle() {
	_, err := s.eng.Mknod("/f.txt", 1, 1, 0o644)
	require.NoError(s.T(), err)
	fh, _, err := s.eng.Open("/f.txt", 1, 1, consistency.AccessWrite)
	require.NoError(s.T(), err)
	_, err = s.eng.Write(fh, 0, []byte("data"))
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.eng.Fsync(fh))
	require.NoError(s.T(), s.eng.Close(fh))
}
