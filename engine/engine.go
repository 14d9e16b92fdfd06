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

// Package engine assembles RawDevice through PathResolver/Consistency
// (spec.md §4.1-§4.10) into the POSIX-shaped surface spec.md §6 surfaces
// to a FUSE-side collaborator: mount/unmount/statfs/stat/access/chmod/
// chown/utime(s)/mknod/mkdir/unlink/rmdir/rename/link/symlink/readlink/
// open/close/fsync/read/write/truncate/opendir/readdir/closedir.
//
// Engine itself never spawns goroutines and never suspends mid-operation,
// matching spec.md §5's single-serializing-mutex model; its own mu exists
// only so Engine is safe to exercise directly (in tests, or embedded by a
// collaborator that does not already serialize calls), mirroring the
// teacher's fileSystem.mu in fs/fs.go.
package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaelferreirapt/sofs14/internal/blockcache"
	"github.com/rafaelferreirapt/sofs14/internal/clusteralloc"
	"github.com/rafaelferreirapt/sofs14/internal/config"
	"github.com/rafaelferreirapt/sofs14/internal/consistency"
	"github.com/rafaelferreirapt/sofs14/internal/contenttree"
	"github.com/rafaelferreirapt/sofs14/internal/directory"
	"github.com/rafaelferreirapt/sofs14/internal/inodealloc"
	"github.com/rafaelferreirapt/sofs14/internal/inodeops"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/logger"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/metrics"
	"github.com/rafaelferreirapt/sofs14/internal/pathresolver"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
	"github.com/rafaelferreirapt/sofs14/clock"
)

const rootInode = pathresolver.RootInode

// Engine is the assembled filesystem: one open device, the layer stack
// built on top of it, and the small bookkeeping (open handles, volume ID)
// that doesn't belong in any single layer.
type Engine struct {
	mu sync.Mutex

	cfg config.EngineConfig
	log *logger.Logger

	dev    *rawdevice.Device
	bc     *blockcache.Cache
	ms     *metastore.MetaStore
	clust  *clusteralloc.Allocator
	ialloc *inodealloc.Allocator
	tree   *contenttree.Tree
	ops    *inodeops.Ops
	dir    *directory.Directory
	res    *pathresolver.Resolver
	check  *consistency.Checker
	clk    clock.Clock

	registry *prometheus.Registry
	volumeID uuid.UUID

	handles    map[uint32]*handle
	nextHandle uint32
	mounted    bool
}

// New opens cfg.ImagePath and wires every layer on top of it, but does not
// mount: call Mount to run the NPRU consistency check and mark the volume
// busy.
func New(cfg config.EngineConfig, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dev, err := rawdevice.Open(cfg.ImagePath, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	bc := blockcache.New(dev, cfg.BlockCacheCapacity, collector)
	ms := metastore.New(bc)
	if err := ms.LoadSuperBlock(); err != nil {
		dev.Close()
		return nil, err
	}

	sb, err := ms.GetSuperBlock()
	if err != nil {
		dev.Close()
		return nil, err
	}

	clk := clock.RealClock{}
	clust := clusteralloc.New(ms, nil, collector)
	ialloc := inodealloc.New(ms, clk, nil)
	tree := contenttree.New(ms, clust)
	clust.SetCleaner(tree)
	ialloc.SetCleaner(tree)
	ops := inodeops.New(ms, clk, tree)
	dir := directory.New(ms, tree, ialloc)
	res := pathresolver.New(ms, tree, dir)
	check := consistency.New(ms, collector)

	e := &Engine{
		cfg:      cfg,
		log:      log,
		dev:      dev,
		bc:       bc,
		ms:       ms,
		clust:    clust,
		ialloc:   ialloc,
		tree:     tree,
		ops:      ops,
		dir:      dir,
		res:      res,
		check:    check,
		clk:      clk,
		registry: registry,
		volumeID: uuid.NewSHA1(uuid.NameSpaceOID, sb.VolumeUUID[:]),
		handles:  make(map[uint32]*handle),
	}
	return e, nil
}

// VolumeID identifies this mounted volume, derived from the superblock's
// own UUID rather than a freshly random one, so re-opening the same image
// yields the same VolumeID.
func (e *Engine) VolumeID() uuid.UUID { return e.volumeID }

// MetricsRegistry exposes the Prometheus registry this Engine's counters
// are registered against, for an embedder that wants to serve /metrics.
func (e *Engine) MetricsRegistry() *prometheus.Registry { return e.registry }

// Mount runs the NPRU recovery check spec.md §5 mandates on a dirty mount,
// then marks the superblock NPRU and writes it back eagerly.
func (e *Engine) Mount() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sb, err := e.ms.GetSuperBlock()
	if err != nil {
		return err
	}
	if sb.MStat == layout.NPRU {
		if err := e.checkConsistency(); err != nil {
			return fmt.Errorf("engine: refusing dirty mount: %w", err)
		}
	}

	sb.MStat = layout.NPRU
	if err := e.ms.StoreSuperBlock(); err != nil {
		return err
	}
	e.mounted = true
	if e.log != nil {
		e.log.Infof("mounted volume %s", e.volumeID)
	}
	return nil
}

// checkConsistency runs the §4.10 structural predicates against the
// superblock, root inode and root directory before accepting a dirty
// mount.
func (e *Engine) checkConsistency() error {
	if err := e.check.SuperBlockWellFormed(); err != nil {
		return err
	}
	root, err := e.ms.GetInode(rootInode)
	if err != nil {
		return err
	}
	if err := e.check.InUseInodeWellFormed(rootInode, root); err != nil {
		return err
	}
	return e.check.AllocatedDataClusterCheck(rootInode, root.Direct[0])
}

// Unmount writes back every cached block, marks the superblock PRU, and
// closes the underlying device. Any still-open handles are closed first.
func (e *Engine) Unmount() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs error
	for id := range e.handles {
		delete(e.handles, id)
	}

	sb, err := e.ms.GetSuperBlock()
	if err == nil {
		sb.MStat = layout.PRU
		if serr := e.ms.StoreSuperBlock(); serr != nil {
			errs = multierrAppend(errs, serr)
		}
	} else {
		errs = multierrAppend(errs, err)
	}

	if cerr := e.bc.Close(); cerr != nil {
		errs = multierrAppend(errs, cerr)
	}
	if derr := e.dev.Close(); derr != nil {
		errs = multierrAppend(errs, derr)
	}
	e.mounted = false
	if e.log != nil {
		e.log.Infof("unmounted volume %s", e.volumeID)
	}
	return errs
}

// FSStat summarizes the volume's space and inode accounting for statfs.
type FSStat struct {
	TotalClusters uint32
	FreeClusters  uint32
	TotalInodes   uint32
	FreeInodes    uint32
	BlockSize     uint32
	ClusterSize   uint32
}

// StatFS reports the coarse space/inode accounting kept in the superblock.
func (e *Engine) StatFS() (FSStat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sb, err := e.ms.GetSuperBlock()
	if err != nil {
		return FSStat{}, err
	}
	return FSStat{
		TotalClusters: sb.DZoneTotal,
		FreeClusters:  sb.DZoneFree,
		TotalInodes:   sb.ITotal,
		FreeInodes:    sb.IFree,
		BlockSize:     layout.BlockSize,
		ClusterSize:   layout.ClusterSize,
	}, nil
}

func (e *Engine) resolve(path string, uid, gid uint32) (pathresolver.Result, error) {
	return e.res.Resolve(path, uid, gid)
}

// getInode fetches nInode through the L4 status-checked read path (spec
// §4.6): it rejects a free inode and refreshes aTime, rather than reading
// the raw record directly.
func (e *Engine) getInode(n uint32) (*layout.Inode, error) {
	return e.ops.Read(n, inodeops.StatusInUse)
}

// checkEntry runs the §4.10 structural quick-check against the one inode
// an operation is about to act on — every public entry point that resolves
// or is handed an inode number runs this before trusting its fields.
func (e *Engine) checkEntry(n uint32, in *layout.Inode) error {
	return e.check.InUseInodeWellFormed(n, in)
}

func (e *Engine) requireEntry(path string, uid, gid uint32) (pathresolver.Result, *layout.Inode, error) {
	res, err := e.resolve(path, uid, gid)
	if err != nil {
		return res, nil, err
	}
	in, err := e.getInode(res.EntryInode)
	if err != nil {
		return res, nil, err
	}
	if err := e.checkEntry(res.EntryInode, in); err != nil {
		return res, nil, err
	}
	return res, in, nil
}

// clockNow32 truncates clk's current time to the uint32 Unix-seconds width
// stored in an inode's vD1/vD2 fields.
func clockNow32(clk clock.Clock) uint32 {
	return clock.NowUnix32(clk)
}
