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

// Package rawdevice provides byte-addressable, block-granular random access
// to a regular host file standing in for the storage device. It performs no
// caching of its own; internal/blockcache sits above it for that.
package rawdevice

import (
	"fmt"
	"os"

	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

// Device is a little-endian, fixed-block-size random-access file.
type Device struct {
	f        *os.File
	nBlocks  uint32
	readOnly bool
}

// Open opens path, requiring its size to be a whole multiple of
// layout.BlockSize.
func Open(path string, readOnly bool) (*Device, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, sofserr.Wrap(sofserr.CodeIoError, "rawdevice", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, sofserr.Wrap(sofserr.CodeIoError, "rawdevice", err)
	}
	if fi.Size()%layout.BlockSize != 0 {
		f.Close()
		return nil, sofserr.New(sofserr.CodeBadSize, "rawdevice", fmt.Sprintf("device size %d is not a multiple of block size %d", fi.Size(), layout.BlockSize))
	}

	return &Device{
		f:        f,
		nBlocks:  uint32(fi.Size() / layout.BlockSize),
		readOnly: readOnly,
	}, nil
}

// Close releases the underlying file handle.
func (d *Device) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	if err != nil {
		return sofserr.Wrap(sofserr.CodeIoError, "rawdevice", err)
	}
	return nil
}

// NumBlocks returns the total number of blocks addressable on the device.
func (d *Device) NumBlocks() uint32 { return d.nBlocks }

func (d *Device) checkOpen() error {
	if d.f == nil {
		return sofserr.New(sofserr.CodeDeviceNotOpen, "rawdevice", "device is not open")
	}
	return nil
}

func (d *Device) checkRange(n uint32, nBlocks uint32) error {
	if uint64(n)+uint64(nBlocks) > uint64(d.nBlocks) {
		return sofserr.New(sofserr.CodeInvalidRange, "rawdevice", fmt.Sprintf("block range [%d,%d) out of bounds (device has %d blocks)", n, n+nBlocks, d.nBlocks))
	}
	return nil
}

// ReadBlock reads block n into a freshly allocated buffer.
func (d *Device) ReadBlock(n uint32) ([]byte, error) {
	return d.readAt(n, 1)
}

// WriteBlock writes buf (exactly layout.BlockSize bytes) to block n.
func (d *Device) WriteBlock(n uint32, buf []byte) error {
	return d.writeAt(n, 1, buf)
}

// ReadCluster reads layout.BlocksPerCluster contiguous blocks starting at
// physical block nFirstBlock.
func (d *Device) ReadCluster(nFirstBlock uint32) ([]byte, error) {
	return d.readAt(nFirstBlock, layout.BlocksPerCluster)
}

// WriteCluster writes buf (exactly layout.ClusterSize bytes) starting at
// physical block nFirstBlock.
func (d *Device) WriteCluster(nFirstBlock uint32, buf []byte) error {
	return d.writeAt(nFirstBlock, layout.BlocksPerCluster, buf)
}

func (d *Device) readAt(n uint32, nBlocks uint32) ([]byte, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := d.checkRange(n, nBlocks); err != nil {
		return nil, err
	}

	size := int(nBlocks) * layout.BlockSize
	buf := make([]byte, size)
	off := int64(n) * layout.BlockSize
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return nil, sofserr.Wrap(sofserr.CodeIoError, "rawdevice", err)
	}
	return buf, nil
}

func (d *Device) writeAt(n uint32, nBlocks uint32, buf []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.checkRange(n, nBlocks); err != nil {
		return err
	}
	want := int(nBlocks) * layout.BlockSize
	if len(buf) != want {
		return sofserr.New(sofserr.CodeInvalidArgument, "rawdevice", fmt.Sprintf("write buffer is %d bytes, want %d", len(buf), want))
	}
	if d.readOnly {
		return sofserr.New(sofserr.CodeNotPermitted, "rawdevice", "device opened read-only")
	}

	off := int64(n) * layout.BlockSize
	if _, err := d.f.WriteAt(buf, off); err != nil {
		return sofserr.Wrap(sofserr.CodeIoError, "rawdevice", err)
	}
	return nil
}

// Sync flushes any OS-buffered writes to stable storage.
func (d *Device) Sync() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.f.Sync(); err != nil {
		return sofserr.Wrap(sofserr.CodeIoError, "rawdevice", err)
	}
	return nil
}
