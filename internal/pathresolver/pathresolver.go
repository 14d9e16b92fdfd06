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

// Package pathresolver implements spec.md §4.9: absolute-path component
// traversal from the root inode, requiring X permission on every directory
// walked and following intermediate symlinks within a budget of one hop
// before giving up with Loop. The terminal component is returned
// unfollowed.
package pathresolver

import (
	"bytes"
	"path"
	"strings"

	"github.com/rafaelferreirapt/sofs14/internal/contenttree"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/metastore"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "pathresolver"

// RootInode is the inode number of the filesystem root, never freed.
const RootInode uint32 = 0

// maxSymlinkHops bounds total link indirection across a single top-level
// Resolve call: spec.md §4.9 allows exactly one hop before Loop.
const maxSymlinkHops = 1

// Resolver walks absolute paths against a Directory/ContentTree pair.
type Resolver struct {
	ms   *metastore.MetaStore
	tree *contenttree.Tree
	dir  lookup
}

// lookup is the one Directory method the resolver needs, kept narrow to
// avoid an import of the directory package's write-side API.
type lookup interface {
	GetDirEntryByName(nInodeDir uint32, name string, uid, gid uint32) (uint32, uint32, error)
}

// New builds a Resolver.
func New(ms *metastore.MetaStore, tree *contenttree.Tree, dir lookup) *Resolver {
	return &Resolver{ms: ms, tree: tree, dir: dir}
}

// splitPath validates and splits an absolute path into its components.
func splitPath(p string) ([]string, error) {
	if len(p) == 0 || p[0] != '/' {
		return nil, sofserr.New(sofserr.CodeRelativePath, layerName, "path is not absolute")
	}
	if len(p) > layout.MaxPathLen {
		return nil, sofserr.New(sofserr.CodeInvalidPath, layerName, "path exceeds MaxPathLen")
	}
	clean := path.Clean(p)
	if clean == "/" {
		return nil, nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for _, c := range parts {
		if c == "" || c == "." || c == ".." {
			return nil, sofserr.New(sofserr.CodeInvalidPath, layerName, "path contains an empty or relative component")
		}
		if len(c) > layout.MaxNameLen {
			return nil, sofserr.New(sofserr.CodeNameTooLong, layerName, "path component exceeds MaxNameLen")
		}
	}
	return parts, nil
}

// readSymlinkTarget reads cluster 0 of a symlink inode's content and
// returns it as a string, bounded by the inode's recorded size.
func (r *Resolver) readSymlinkTarget(nInode uint32, in *layout.Inode) (string, error) {
	nClust, err := r.tree.HandleFileCluster(nInode, 0, contenttree.OpGet)
	if err != nil {
		return "", err
	}
	if nClust == layout.NullCluster {
		return "", sofserr.New(sofserr.CodeInconsistentDirectoryContents, layerName, "symlink has no content cluster")
	}
	raw, err := r.ms.ReadClusterRaw(nClust)
	if err != nil {
		return "", err
	}
	body := raw[3*4:]
	n := in.Size
	if n < 0 || n > int64(len(body)) {
		n = int64(len(body))
	}
	body = body[:n]
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	return string(body), nil
}

// Result is the pair of inode numbers a successful Resolve yields.
type Result struct {
	ParentInode uint32
	EntryInode  uint32
	EntryName   string
}

// Resolve implements §4.9: it returns the parent directory inode and the
// terminal entry's inode, without following a symlink at the terminal
// component. uid/gid gate the X permission required on every directory
// traversed.
func (r *Resolver) Resolve(absPath string, uid, gid uint32) (Result, error) {
	return r.resolve(absPath, uid, gid, 0)
}

func (r *Resolver) resolve(absPath string, uid, gid uint32, hops int) (Result, error) {
	parts, err := splitPath(absPath)
	if err != nil {
		return Result{}, err
	}
	if len(parts) == 0 {
		return Result{}, sofserr.New(sofserr.CodeInvalidPath, layerName, "root has no parent/entry pair")
	}

	cur := RootInode
	for i, name := range parts[:len(parts)-1] {
		next, _, err := r.dir.GetDirEntryByName(cur, name, uid, gid)
		if err != nil {
			return Result{}, err
		}
		cur, err = r.followIfSymlink(next, uid, gid, &hops, strings.Join(parts[:i+1], "/"))
		if err != nil {
			return Result{}, err
		}
	}

	last := parts[len(parts)-1]
	entIno, _, err := r.dir.GetDirEntryByName(cur, last, uid, gid)
	if err != nil && !sofserr.Is(err, sofserr.CodeNotFound) {
		return Result{}, err
	}
	return Result{ParentInode: cur, EntryInode: entIno, EntryName: last}, err
}

// followIfSymlink dereferences nIno, and whatever it points to in turn,
// until a non-symlink inode is reached, consuming one hop from the shared
// budget per symlink encountered. An intermediate path component must
// always land on a concrete directory, unlike a top-level Resolve's
// terminal component, which is returned unfollowed.
func (r *Resolver) followIfSymlink(nIno uint32, uid, gid uint32, hops *int, where string) (uint32, error) {
	for {
		in, err := r.ms.GetInode(nIno)
		if err != nil {
			return 0, err
		}
		if in.IsFree() || in.Type() != layout.TypeSymlink {
			return nIno, nil
		}
		if *hops >= maxSymlinkHops {
			return 0, sofserr.New(sofserr.CodeLoop, layerName, "symlink hop budget exceeded at "+where)
		}
		*hops++
		target, err := r.readSymlinkTarget(nIno, in)
		if err != nil {
			return 0, err
		}
		res, err := r.resolve(target, uid, gid, *hops)
		if err != nil {
			return 0, err
		}
		nIno = res.EntryInode
	}
}
