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

package engine

import (
	"bytes"

	"github.com/rafaelferreirapt/sofs14/internal/contenttree"
	"github.com/rafaelferreirapt/sofs14/internal/directory"
	"github.com/rafaelferreirapt/sofs14/internal/inodeops"
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

// lookupFreeSlot resolves path expecting it NOT to already exist: a
// successful resolve that hits CodeNotFound gives back the parent inode and
// the terminal name to create it under; any other outcome (found, or a
// harder error) is rejected.
func (e *Engine) lookupFreeSlot(path string, uid, gid uint32) (parent uint32, name string, err error) {
	res, resErr := e.resolve(path, uid, gid)
	if resErr == nil {
		return 0, "", sofserr.New(sofserr.CodeExists, "engine", "an entry already exists at "+path)
	}
	if !sofserr.Is(resErr, sofserr.CodeNotFound) {
		return 0, "", resErr
	}
	parentIn, err := e.getInode(res.ParentInode)
	if err != nil {
		return 0, "", err
	}
	if err := e.checkEntry(res.ParentInode, parentIn); err != nil {
		return 0, "", err
	}
	return res.ParentInode, res.EntryName, nil
}

// applyPerm ORs perm's permission bits into a freshly allocated inode's
// mode: Alloc itself stamps only the type bit, never caller-requested
// permissions.
func (e *Engine) applyPerm(nInode uint32, perm uint16) (*layout.Inode, error) {
	in, err := e.ms.GetInode(nInode)
	if err != nil {
		return nil, err
	}
	in.Mode = (in.Mode &^ layout.PermMask) | (perm & layout.PermMask)
	if err := e.ops.Write(nInode, in, inodeops.StatusInUse); err != nil {
		return nil, err
	}
	return in, nil
}

// Mknod creates a regular file at path with the given permission bits.
func (e *Engine) Mknod(path string, uid, gid uint32, perm uint16) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent, name, err := e.lookupFreeSlot(path, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	nInode, err := e.ialloc.Alloc(layout.TypeFile, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	if _, err := e.applyPerm(nInode, perm); err != nil {
		return Attr{}, err
	}
	if err := e.dir.AddAttDirEntry(parent, name, nInode, directory.OpAdd, uid, gid); err != nil {
		return Attr{}, err
	}
	in, err := e.getInode(nInode)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(nInode, in), nil
}

// Mkdir creates a new, empty directory at path (its "." and ".." entries
// are stamped by AddAttDirEntry's OpAdd special case).
func (e *Engine) Mkdir(path string, uid, gid uint32, perm uint16) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent, name, err := e.lookupFreeSlot(path, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	nInode, err := e.ialloc.Alloc(layout.TypeDir, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	if _, err := e.applyPerm(nInode, perm); err != nil {
		return Attr{}, err
	}
	if err := e.dir.AddAttDirEntry(parent, name, nInode, directory.OpAdd, uid, gid); err != nil {
		return Attr{}, err
	}
	in, err := e.getInode(nInode)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(nInode, in), nil
}

// Symlink creates a symlink at path whose content is target.
func (e *Engine) Symlink(target, path string, uid, gid uint32) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(target) > layout.BSLPC {
		return Attr{}, sofserr.New(sofserr.CodeNameTooLong, "engine", "symlink target too long")
	}
	parent, name, err := e.lookupFreeSlot(path, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	nInode, err := e.ialloc.Alloc(layout.TypeSymlink, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	if _, err := e.applyPerm(nInode, 0o777); err != nil {
		return Attr{}, err
	}
	if err := e.writeSymlinkTarget(nInode, target); err != nil {
		return Attr{}, err
	}
	if err := e.dir.AddAttDirEntry(parent, name, nInode, directory.OpAdd, uid, gid); err != nil {
		return Attr{}, err
	}
	in, err := e.getInode(nInode)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(nInode, in), nil
}

// writeSymlinkTarget allocates cluster 0 of nInode's content tree and
// stores target as its body, sizing the inode to target's byte length.
func (e *Engine) writeSymlinkTarget(nInode uint32, target string) error {
	nClust, err := e.tree.HandleFileCluster(nInode, 0, contenttree.OpAlloc)
	if err != nil {
		return err
	}
	raw, err := e.ms.ReadClusterRaw(nClust)
	if err != nil {
		return err
	}
	body := raw[3*4:]
	copy(body, target)
	for i := len(target); i < len(body); i++ {
		body[i] = 0
	}
	if err := e.ms.WriteClusterRaw(nClust, raw); err != nil {
		return err
	}
	in, err := e.ms.GetInode(nInode)
	if err != nil {
		return err
	}
	in.Size = int64(len(target))
	return e.ops.Write(nInode, in, inodeops.StatusInUse)
}

// readlinkLocked reads a symlink inode's content, bounded by its recorded
// size, and strips any trailing NUL padding. Mirrors PathResolver's own
// private readSymlinkTarget, which Engine cannot call directly.
func (e *Engine) readlinkLocked(nInode uint32, in *layout.Inode) (string, error) {
	nClust, err := e.tree.HandleFileCluster(nInode, 0, contenttree.OpGet)
	if err != nil {
		return "", err
	}
	if nClust == layout.NullCluster {
		return "", sofserr.New(sofserr.CodeInconsistentDirectoryContents, "engine", "symlink has no content cluster")
	}
	raw, err := e.ms.ReadClusterRaw(nClust)
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

// Readlink returns the target of the symlink at path, without following it.
func (e *Engine) Readlink(path string, uid, gid uint32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, in, err := e.requireEntry(path, uid, gid)
	if err != nil {
		return "", err
	}
	if in.Type() != layout.TypeSymlink {
		return "", sofserr.New(sofserr.CodeInvalidArgument, "engine", "readlink of a non-symlink")
	}
	res, _ := e.resolve(path, uid, gid)
	return e.readlinkLocked(res.EntryInode, in)
}

// Unlink removes a non-directory entry, freeing its inode once its
// refCount reaches zero.
func (e *Engine) Unlink(path string, uid, gid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, in, err := e.requireEntry(path, uid, gid)
	if err != nil {
		return err
	}
	if in.Type() == layout.TypeDir {
		return sofserr.New(sofserr.CodeIsDir, "engine", "unlink of a directory")
	}
	return e.dir.RemDetachDirEntry(res.ParentInode, res.EntryName, directory.OpRem, uid, gid)
}

// Rmdir removes an empty directory entry.
func (e *Engine) Rmdir(path string, uid, gid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, in, err := e.requireEntry(path, uid, gid)
	if err != nil {
		return err
	}
	if in.Type() != layout.TypeDir {
		return sofserr.New(sofserr.CodeNotDir, "engine", "rmdir of a non-directory")
	}
	return e.dir.RemDetachDirEntry(res.ParentInode, res.EntryName, directory.OpRem, uid, gid)
}

// Link adds newPath as an additional name for the existing, non-directory
// inode at oldPath.
func (e *Engine) Link(oldPath, newPath string, uid, gid uint32) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, in, err := e.requireEntry(oldPath, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	if in.Type() == layout.TypeDir {
		return Attr{}, sofserr.New(sofserr.CodeIsDir, "engine", "hard links to directories are not permitted")
	}
	res, _ := e.resolve(oldPath, uid, gid)
	parent, name, err := e.lookupFreeSlot(newPath, uid, gid)
	if err != nil {
		return Attr{}, err
	}
	if err := e.dir.AddAttDirEntry(parent, name, res.EntryInode, directory.OpAdd, uid, gid); err != nil {
		return Attr{}, err
	}
	newIn, err := e.getInode(res.EntryInode)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(res.EntryInode, newIn), nil
}

// Rename moves oldPath to newPath, renaming in place when both share a
// parent directory and falling back to an attach/detach (directories) or
// add/detach (files) pair across parents, per directory.AddAttDirEntry's
// own OpAttach convention for moving a directory between parents.
func (e *Engine) Rename(oldPath, newPath string, uid, gid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldRes, err := e.resolve(oldPath, uid, gid)
	if err != nil {
		return err
	}
	oldIn, err := e.getInode(oldRes.EntryInode)
	if err != nil {
		return err
	}
	if err := e.checkEntry(oldRes.EntryInode, oldIn); err != nil {
		return err
	}

	newParent, newName, err := e.lookupFreeSlot(newPath, uid, gid)
	if err != nil {
		return err
	}

	if oldRes.ParentInode == newParent {
		return e.dir.RenameDirEntry(oldRes.ParentInode, oldRes.EntryName, newName, uid, gid)
	}

	op := directory.OpAdd
	if oldIn.Type() == layout.TypeDir {
		op = directory.OpAttach
	}
	if err := e.dir.AddAttDirEntry(newParent, newName, oldRes.EntryInode, op, uid, gid); err != nil {
		return err
	}
	return e.dir.RemDetachDirEntry(oldRes.ParentInode, oldRes.EntryName, directory.OpDetach, uid, gid)
}
