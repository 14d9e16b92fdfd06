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

import "encoding/binary"

// A data cluster's body is an opaque ClusterSize-12-byte payload whose
// interpretation (raw bytes, cluster references, or directory entries) is
// never stored — it is implied by how the owning inode's tree is
// traversed. DecodeHeader/EncodeHeader, DecodeRefBody/EncodeRefBody and
// DecodeDirBody/EncodeDirBody are the only sanctioned views onto it.

// DecodeHeader parses the three-word header from a raw ClusterSize buffer.
func DecodeHeader(raw []byte) ClusterHeader {
	return ClusterHeader{
		Prev: binary.LittleEndian.Uint32(raw[0:4]),
		Next: binary.LittleEndian.Uint32(raw[4:8]),
		Stat: binary.LittleEndian.Uint32(raw[8:12]),
	}
}

// EncodeHeader writes h into raw's first three words in place.
func EncodeHeader(raw []byte, h ClusterHeader) {
	binary.LittleEndian.PutUint32(raw[0:4], h.Prev)
	binary.LittleEndian.PutUint32(raw[4:8], h.Next)
	binary.LittleEndian.PutUint32(raw[8:12], h.Stat)
}

// DecodeRefBody interprets raw's body (bytes [12:ClusterSize)) as RPC
// little-endian cluster references.
func DecodeRefBody(raw []byte) []uint32 {
	out := make([]uint32, RPC)
	body := raw[12:]
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(body[i*4 : i*4+4])
	}
	return out
}

// EncodeRefBody writes refs into raw's body in place.
func EncodeRefBody(raw []byte, refs []uint32) {
	body := raw[12:]
	for i, v := range refs {
		binary.LittleEndian.PutUint32(body[i*4:i*4+4], v)
	}
}

// DecodeDirBody interprets raw's body as DPC directory entries.
func DecodeDirBody(raw []byte) ([]*DirEntry, error) {
	body := raw[12:]
	out := make([]*DirEntry, DPC)
	for i := range out {
		e, err := DecodeDirEntry(body[i*DirEntrySize : (i+1)*DirEntrySize])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// EncodeDirBody writes entries into raw's body in place.
func EncodeDirBody(raw []byte, entries []*DirEntry) {
	body := raw[12:]
	for i, e := range entries {
		copy(body[i*DirEntrySize:(i+1)*DirEntrySize], EncodeDirEntry(e))
	}
}

// NewClusterBuf allocates a zeroed ClusterSize buffer.
func NewClusterBuf() []byte {
	return make([]byte, ClusterSize)
}
