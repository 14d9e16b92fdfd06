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

package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RefCache models one of the superblock's two fixed-size free-cluster
// reference caches. The retrieval cache drains from Idx upward (Idx == K
// means empty); the insertion cache fills from index 0 upward (Idx == 0
// means empty).
type RefCache struct {
	Idx   uint32
	Cache [DZoneCacheSize]uint32
}

func (c *RefCache) encode(w *bytes.Buffer) {
	binary.Write(w, binary.LittleEndian, c.Idx)
	binary.Write(w, binary.LittleEndian, c.Cache)
}

func (c *RefCache) decode(r *bytes.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &c.Idx); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &c.Cache)
}

// SuperBlock is the in-memory image of block 0.
type SuperBlock struct {
	Magic      uint32
	Version    uint32
	Name       [VolumeNameSize + 1]byte
	VolumeUUID [16]byte
	NTotal     uint32
	MStat      uint32

	ITableStart uint32
	ITableSize  uint32
	ITotal      uint32
	IFree       uint32
	IHead       uint32
	ITail       uint32

	DZoneStart uint32
	DZoneTotal uint32
	DZoneFree  uint32
	DZoneRetr  RefCache
	DZoneIns   RefCache
	DHead      uint32
	DTail      uint32
}

// superBlockLiveSize is the encoded size of the fixed-width fields above;
// EncodeSuperBlock zero-pads the rest of the block up to BlockSize bytes.
const superBlockLiveSize = 4 + 4 + (VolumeNameSize + 1) + 16 + 4 + 4 + /* header + uuid */
	4 + 4 + 4 + 4 + 4 + 4 + /* inode table metadata */
	4 + 4 + 4 + (4+4*DZoneCacheSize)*2 + 4 + 4 /* data zone metadata */

func init() {
	if superBlockLiveSize > BlockSize {
		panic(fmt.Sprintf("layout: superblock live fields (%d bytes) exceed block size (%d)", superBlockLiveSize, BlockSize))
	}
}

// EncodeSuperBlock serializes sb into a fresh BlockSize-byte buffer.
func EncodeSuperBlock(sb *SuperBlock) []byte {
	var buf bytes.Buffer
	buf.Grow(BlockSize)
	binary.Write(&buf, binary.LittleEndian, sb.Magic)
	binary.Write(&buf, binary.LittleEndian, sb.Version)
	buf.Write(sb.Name[:])
	buf.Write(sb.VolumeUUID[:])
	binary.Write(&buf, binary.LittleEndian, sb.NTotal)
	binary.Write(&buf, binary.LittleEndian, sb.MStat)
	binary.Write(&buf, binary.LittleEndian, sb.ITableStart)
	binary.Write(&buf, binary.LittleEndian, sb.ITableSize)
	binary.Write(&buf, binary.LittleEndian, sb.ITotal)
	binary.Write(&buf, binary.LittleEndian, sb.IFree)
	binary.Write(&buf, binary.LittleEndian, sb.IHead)
	binary.Write(&buf, binary.LittleEndian, sb.ITail)
	binary.Write(&buf, binary.LittleEndian, sb.DZoneStart)
	binary.Write(&buf, binary.LittleEndian, sb.DZoneTotal)
	binary.Write(&buf, binary.LittleEndian, sb.DZoneFree)
	sb.DZoneRetr.encode(&buf)
	sb.DZoneIns.encode(&buf)
	binary.Write(&buf, binary.LittleEndian, sb.DHead)
	binary.Write(&buf, binary.LittleEndian, sb.DTail)
	buf.Write(sb.VolumeUUID[:])

	out := make([]byte, BlockSize)
	copy(out, buf.Bytes())
	return out
}

// DecodeSuperBlock parses a BlockSize-byte block into a SuperBlock.
func DecodeSuperBlock(block []byte) (*SuperBlock, error) {
	if len(block) != BlockSize {
		return nil, fmt.Errorf("layout: superblock block must be %d bytes, got %d", BlockSize, len(block))
	}
	r := bytes.NewReader(block)
	sb := &SuperBlock{}
	fields := []any{
		&sb.Magic, &sb.Version,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	if _, err := r.Read(sb.Name[:]); err != nil {
		return nil, err
	}
	if _, err := r.Read(sb.VolumeUUID[:]); err != nil {
		return nil, err
	}
	rest := []any{
		&sb.NTotal, &sb.MStat,
		&sb.ITableStart, &sb.ITableSize, &sb.ITotal, &sb.IFree, &sb.IHead, &sb.ITail,
		&sb.DZoneStart, &sb.DZoneTotal, &sb.DZoneFree,
	}
	for _, f := range rest {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	if err := sb.DZoneRetr.decode(r); err != nil {
		return nil, err
	}
	if err := sb.DZoneIns.decode(r); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &sb.DHead); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &sb.DTail); err != nil {
		return nil, err
	}
	return sb, nil
}

// Inode is the in-memory image of one 64-byte inode record. VD1/VD2 are
// interpreted through the Mode FREE bit: in use, (ATime, MTime); free,
// (NextFree, PrevFree).
type Inode struct {
	Mode     uint16
	RefCount uint16
	Owner    uint32
	Group    uint32
	Size     int64
	CluCount uint32
	VD1      uint32
	VD2      uint32
	Direct   [NDirect]uint32
	I1       uint32
	I2       uint32
}

// IsFree reports whether the inode's FREE bit is set.
func (in *Inode) IsFree() bool { return in.Mode&ModeFree != 0 }

// Type returns the inode's type bit. Only meaningful when !IsFree().
func (in *Inode) Type() InodeType {
	switch {
	case in.Mode&ModeDir != 0:
		return TypeDir
	case in.Mode&ModeSymlink != 0:
		return TypeSymlink
	default:
		return TypeFile
	}
}

// ATime / MTime interpret VD1/VD2 when the inode is in use.
func (in *Inode) ATime() uint32 { return in.VD1 }
func (in *Inode) MTime() uint32 { return in.VD2 }

// NextFree / PrevFree interpret VD1/VD2 when the inode is free.
func (in *Inode) NextFree() uint32 { return in.VD1 }
func (in *Inode) PrevFree() uint32 { return in.VD2 }

func (in *Inode) SetNextFree(v uint32) { in.VD1 = v }
func (in *Inode) SetPrevFree(v uint32) { in.VD2 = v }

// EncodeInode serializes in into InodeSize bytes.
func EncodeInode(in *Inode) []byte {
	var buf bytes.Buffer
	buf.Grow(InodeSize)
	binary.Write(&buf, binary.LittleEndian, in.Mode)
	binary.Write(&buf, binary.LittleEndian, in.RefCount)
	binary.Write(&buf, binary.LittleEndian, in.Owner)
	binary.Write(&buf, binary.LittleEndian, in.Group)
	binary.Write(&buf, binary.LittleEndian, uint32(in.Size))
	binary.Write(&buf, binary.LittleEndian, in.CluCount)
	binary.Write(&buf, binary.LittleEndian, in.VD1)
	binary.Write(&buf, binary.LittleEndian, in.VD2)
	binary.Write(&buf, binary.LittleEndian, in.Direct)
	binary.Write(&buf, binary.LittleEndian, in.I1)
	binary.Write(&buf, binary.LittleEndian, in.I2)

	out := make([]byte, InodeSize)
	copy(out, buf.Bytes())
	return out
}

// DecodeInode parses InodeSize bytes into an Inode.
func DecodeInode(raw []byte) (*Inode, error) {
	if len(raw) != InodeSize {
		return nil, fmt.Errorf("layout: inode record must be %d bytes, got %d", InodeSize, len(raw))
	}
	r := bytes.NewReader(raw)
	in := &Inode{}
	var size uint32
	fields := []any{
		&in.Mode, &in.RefCount, &in.Owner, &in.Group, &size, &in.CluCount,
		&in.VD1, &in.VD2, &in.Direct, &in.I1, &in.I2,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	in.Size = int64(size)
	return in, nil
}

// ClusterHeader is the three-word header common to every data cluster.
type ClusterHeader struct {
	Prev uint32
	Next uint32
	Stat uint32
}

// DirEntry is one 64-byte (name, inode) pair.
type DirEntry struct {
	Name   [NameFieldSize]byte
	NInode uint32
}

// InUse reports whether the entry currently names a live inode.
func (e *DirEntry) InUse() bool { return e.NInode != NullInode }

// Clean reports whether a free entry is in the "never used" / cleanly
// removed state: both boundary bytes of Name are zero.
func (e *DirEntry) Clean() bool {
	return !e.InUse() && e.Name[0] == 0 && e.Name[MaxNameLen] == 0
}

// NameString returns the entry's name as a Go string, stopping at the
// first NUL.
func (e *DirEntry) NameString() string {
	n := bytes.IndexByte(e.Name[:], 0)
	if n < 0 {
		n = len(e.Name)
	}
	return string(e.Name[:n])
}

// SetName copies s into the entry's name field, zero-filling the rest.
// Fails if s is longer than MaxNameLen.
func SetName(e *DirEntry, s string) error {
	if len(s) > MaxNameLen {
		return fmt.Errorf("layout: name %q exceeds MaxNameLen (%d)", s, MaxNameLen)
	}
	var arr [NameFieldSize]byte
	copy(arr[:], s)
	e.Name = arr
	return nil
}

// MarkDirtyFree swaps the first and last bytes of a removed entry's name,
// preserving forensic traces while taking it out of the in-use state.
func MarkDirtyFree(e *DirEntry) {
	e.Name[0], e.Name[MaxNameLen] = e.Name[MaxNameLen], e.Name[0]
	e.NInode = NullInode
}

// MarkCleanFree resets an entry to the never-used/cleanly-removed state.
func MarkCleanFree(e *DirEntry) {
	e.Name = [NameFieldSize]byte{}
	e.NInode = NullInode
}

// EncodeDirEntry serializes e into DirEntrySize bytes.
func EncodeDirEntry(e *DirEntry) []byte {
	out := make([]byte, DirEntrySize)
	copy(out, e.Name[:])
	binary.LittleEndian.PutUint32(out[NameFieldSize:], e.NInode)
	return out
}

// DecodeDirEntry parses DirEntrySize bytes into a DirEntry.
func DecodeDirEntry(raw []byte) (*DirEntry, error) {
	if len(raw) != DirEntrySize {
		return nil, fmt.Errorf("layout: dir entry record must be %d bytes, got %d", DirEntrySize, len(raw))
	}
	e := &DirEntry{}
	copy(e.Name[:], raw[:NameFieldSize])
	e.NInode = binary.LittleEndian.Uint32(raw[NameFieldSize:])
	return e, nil
}
