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

// Package blockcache implements the read-through, write-back block/cluster
// cache mediating every access to internal/rawdevice (spec.md §4.2): a
// fixed-capacity pool of slots ordered both by block number (cache-hit
// lookup) and by last access (LRU eviction), with a pass-through mode for
// callers like mkfs that want uncached, direct device access.
package blockcache

import (
	"github.com/rafaelferreirapt/sofs14/internal/layout"
	"github.com/rafaelferreirapt/sofs14/internal/lrucache"
	"github.com/rafaelferreirapt/sofs14/internal/metrics"
	"github.com/rafaelferreirapt/sofs14/internal/rawdevice"
	"github.com/rafaelferreirapt/sofs14/internal/sofserr"
)

const layerName = "blockcache"

type status int

const (
	same status = iota
	changed
)

// slot holds one resident block-sized buffer. It satisfies lrucache.Sized
// with a constant size of 1, since BlockCache's capacity is a slot count,
// not a byte budget.
type slot struct {
	buf    []byte
	blockN uint32
	st     status
}

func (slot) Size() uint64 { return 1 }

// Cache is the two-list block cache described by spec.md §4.2. A Cache
// with capacity 0 operates in unbuffered ("pass-through") mode: every call
// routes straight to the device with no slots held resident.
type Cache struct {
	dev      *rawdevice.Device
	capacity int
	lru      *lrucache.Cache[uint32, *slot]
	metrics  *metrics.Collector
}

// New returns a buffered Cache with the given slot capacity.
func New(dev *rawdevice.Device, capacity int, m *metrics.Collector) *Cache {
	c := &Cache{dev: dev, capacity: capacity, metrics: m}
	if capacity > 0 {
		c.lru = lrucache.New[uint32, *slot](uint64(capacity))
	}
	return c
}

// NewUnbuffered returns a Cache in pass-through mode, used by mkfs-style
// one-shot initializers that never want caching.
func NewUnbuffered(dev *rawdevice.Device) *Cache {
	return &Cache{dev: dev}
}

// Buffered reports whether the cache holds resident slots at all.
func (c *Cache) Buffered() bool { return c.lru != nil }

// Read returns the current contents of block n.
func (c *Cache) Read(n uint32) ([]byte, error) {
	if !c.Buffered() {
		return c.dev.ReadBlock(n)
	}

	if s, ok := c.lru.LookUp(n); ok {
		c.metrics.IncCacheHit(layerName)
		out := make([]byte, layout.BlockSize)
		copy(out, s.buf)
		return out, nil
	}
	c.metrics.IncCacheMiss(layerName)

	buf, err := c.dev.ReadBlock(n)
	if err != nil {
		return nil, err
	}
	if err := c.insert(n, buf, same); err != nil {
		return nil, err
	}
	out := make([]byte, layout.BlockSize)
	copy(out, buf)
	return out, nil
}

// Write overwrites block n with in, marking the slot dirty. The write is
// not persisted to the device until a later eviction, Flush, Sync, or
// Close.
func (c *Cache) Write(n uint32, in []byte) error {
	if len(in) != layout.BlockSize {
		return sofserr.New(sofserr.CodeInvalidArgument, layerName, "write buffer must be exactly one block")
	}
	if !c.Buffered() {
		return c.dev.WriteBlock(n, in)
	}

	if s, ok := c.lru.LookUp(n); ok {
		copy(s.buf, in)
		s.st = changed
		return nil
	}

	buf := make([]byte, layout.BlockSize)
	copy(buf, in)
	return c.insert(n, buf, changed)
}

// Flush writes in to block n and immediately writes it through to the
// device; the resident slot (if buffered) becomes clean.
func (c *Cache) Flush(n uint32, in []byte) error {
	if err := c.Write(n, in); err != nil {
		return err
	}
	if !c.Buffered() {
		return nil
	}
	return c.Sync(n)
}

// Sync writes block n back to the device if it is resident and dirty,
// then marks it clean. A no-op for blocks not currently cached.
func (c *Cache) Sync(n uint32) error {
	if !c.Buffered() {
		return nil
	}
	s, ok := c.lru.Peek(n)
	if !ok || s.st != changed {
		return nil
	}
	if err := c.dev.WriteBlock(n, s.buf); err != nil {
		return err
	}
	s.st = same
	return nil
}

// Close writes back every dirty resident slot. The cache remains usable
// afterward (all slots simply become clean); callers that want to release
// slot memory should discard the Cache value.
func (c *Cache) Close() error {
	if !c.Buffered() {
		return nil
	}
	for _, s := range c.lru.All() {
		if s.st == changed {
			if err := c.dev.WriteBlock(s.blockN, s.buf); err != nil {
				return err
			}
			s.st = same
		}
	}
	return nil
}

// insert adds a fresh slot for block n, evicting the current LRU tail
// (writing it back first if dirty) when the cache is at capacity.
func (c *Cache) insert(n uint32, buf []byte, st status) error {
	s := &slot{buf: buf, blockN: n, st: st}
	evicted := c.lru.Insert(n, s)
	for _, ev := range evicted {
		c.metrics.IncCacheEvict(layerName)
		if ev.st == changed {
			if err := c.dev.WriteBlock(ev.blockN, ev.buf); err != nil {
				return err
			}
		}
	}
	return nil
}
