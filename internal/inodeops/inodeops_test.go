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

package inodeops_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/rafaelferreirapt/sofs14/clock"
	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/inodeops"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
)

const (
	testITableStart = 1
	testITableSize  = 1
	testITotal      = 8
)

// fakeCleaner records CleanInode invocations and zeroes content references,
// mirroring the real content-tree CleanInode without pulling in L5.
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
	in.I1, in.I2 = layout.NullCluster, layout.NullCluster
	return f.ms.StoreInode(nInode, in)
}

type InodeOpsSuite struct {
	suite.Suite
	dev     *rawdevice.Device
	ms      *metastore.MetaStore
	fclock  *clock.FakeClock
	cleaner *fakeCleaner
	ops     *inodeops.Ops
}

func TestInodeOpsSuite(t *testing.T) { suite.Run(t, new(InodeOpsSuite)) }

func (s *InodeOpsSuite) SetupTest() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "image.img")
	require.NoError(s.T(), os.WriteFile(path, make([]byte, layout.BlockSize*16), 0o600))
	dev, err := rawdevice.Open(path, false)
	require.NoError(s.T(), err)
	s.dev = dev

	bc := blockcache.New(dev, 16, nil)
	s.ms = metastore.New(bc)

	sb, err := s.ms.GetSuperBlock()
	require.NoError(s.T(), err)
	sb.ITableStart, sb.ITableSize, sb.ITotal = testITableStart, testITableSize, testITotal
	require.NoError(s.T(), s.ms.StoreSuperBlock())

	s.fclock = clock.NewFakeClock(time.Unix(1000, 0))
	s.cleaner = &fakeCleaner{ms: s.ms}
	s.ops = inodeops.New(s.ms, s.fclock, s.cleaner)

	in := &layout.Inode{Mode: layout.ModeFile, RefCount: 1, VD1: 500, VD2: 500}
	for i := range in.Direct {
		in.Direct[i] = layout.NullCluster
	}
	in.I1, in.I2 = layout.NullCluster, layout.NullCluster
	require.NoError(s.T(), s.ms.StoreInode(1, in))
}

func (s *InodeOpsSuite) TearDownTest() {
	s.dev.Close()
}

func (s *InodeOpsSuite) TestReadInUseRefreshesATime() {
	in, err := s.ops.Read(1, inodeops.StatusInUse)
	require.NoError(s.T(), err)
	s.Require().EqualValues(1000, in.ATime())

	stored, err := s.ms.GetInode(1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(1000, stored.VD1, "aTime must be persisted, not just returned")
	s.Require().EqualValues(500, stored.VD2, "mTime must be untouched by Read")
}

func (s *InodeOpsSuite) TestReadRejectsWrongStatus() {
	_, err := s.ops.Read(1, inodeops.StatusFreeDirty)
	s.Require().Error(err)
}

func (s *InodeOpsSuite) TestWriteInUseForcesBothTimestamps() {
	in, err := s.ms.GetInode(1)
	require.NoError(s.T(), err)
	in.Size = 4096

	s.fclock.Advance(50 * time.Second)
	require.NoError(s.T(), s.ops.Write(1, in, inodeops.StatusInUse))

	stored, err := s.ms.GetInode(1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(4096, stored.Size)
	s.Require().EqualValues(1050, stored.VD1)
	s.Require().EqualValues(1050, stored.VD2)
}

func (s *InodeOpsSuite) TestWriteRejectsWrongStatus() {
	in, err := s.ms.GetInode(1)
	require.NoError(s.T(), err)
	err = s.ops.Write(1, in, inodeops.StatusFreeDirty)
	s.Require().Error(err)
}

func (s *InodeOpsSuite) TestCleanInodeRequiresFreeDirty() {
	err := s.ops.CleanInode(1)
	s.Require().Error(err, "cleanInode on an in-use inode must fail")
}

func (s *InodeOpsSuite) TestCleanInodeDelegatesToCleaner() {
	in, err := s.ms.GetInode(1)
	require.NoError(s.T(), err)
	in.Mode = layout.ModeFree
	in.CluCount = 3
	in.Direct[0] = 7
	require.NoError(s.T(), s.ms.StoreInode(1, in))

	require.NoError(s.T(), s.ops.CleanInode(1))
	s.Require().Contains(s.cleaner.called, uint32(1))

	clean, err := s.ms.GetInode(1)
	require.NoError(s.T(), err)
	s.Require().EqualValues(0, clean.CluCount)
	s.Require().Equal(layout.NullCluster, clean.Direct[0])
}
