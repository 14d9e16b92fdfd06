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

package blockcache

import (
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

// ReadCluster is the obvious N-block generalization of Read: it reads the
// layout.BlocksPerCluster blocks starting at physical block nFirstBlock
// and concatenates them.
func (c *Cache) ReadCluster(nFirstBlock uint32) ([]byte, error) {
	out := make([]byte, 0, layout.ClusterSize)
	for i := uint32(0); i < layout.BlocksPerCluster; i++ {
		b, err := c.Read(nFirstBlock + i)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// WriteCluster is the N-block generalization of Write.
func (c *Cache) WriteCluster(nFirstBlock uint32, in []byte) error {
	if len(in) != layout.ClusterSize {
		return errInvalidClusterBuf()
	}
	for i := uint32(0); i < layout.BlocksPerCluster; i++ {
		off := i * layout.BlockSize
		if err := c.Write(nFirstBlock+i, in[off:off+layout.BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

// FlushCluster is the N-block generalization of Flush.
func (c *Cache) FlushCluster(nFirstBlock uint32, in []byte) error {
	if len(in) != layout.ClusterSize {
		return errInvalidClusterBuf()
	}
	for i := uint32(0); i < layout.BlocksPerCluster; i++ {
		off := i * layout.BlockSize
		if err := c.Flush(nFirstBlock+i, in[off:off+layout.BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

// SyncCluster is the N-block generalization of Sync.
func (c *Cache) SyncCluster(nFirstBlock uint32) error {
	for i := uint32(0); i < layout.BlocksPerCluster; i++ {
		if err := c.Sync(nFirstBlock + i); err != nil {
			return err
		}
	}
	return nil
}

func errInvalidClusterBuf() error {
	return sofserr.New(sofserr.CodeInvalidArgument, layerName, "write buffer must be exactly one cluster")
}
