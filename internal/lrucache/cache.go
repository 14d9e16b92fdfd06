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

// Package lrucache implements a generic, size-bounded least-recently-used
// cache: a hash index coupled to an intrusive doubly linked list ordered by
// last access. internal/blockcache builds its two-list block/cluster cache
// on top of one instance of this cache per granularity.
//
// The API (New/Insert/LookUp/Erase/CheckInvariants) is deliberately shaped
// like the teacher's own internal/lrucache package.
package lrucache

import "container/list"

// Sized is implemented by values stored in a Cache so that capacity can be
// measured in whatever unit the caller cares about (slots, bytes, ...).
type Sized interface {
	Size() uint64
}

type entry[K comparable, V Sized] struct {
	key   K
	value V
}

// Cache is a size-bounded LRU keyed by K holding values V.
//
// Zero value is not usable; construct with New.
type Cache[K comparable, V Sized] struct {
	capacity  uint64
	used      uint64
	ll        *list.List // front = most recently used
	index     map[K]*list.Element
}

// New returns an empty Cache with the given total capacity, measured in
// the same units as V.Size().
func New[K comparable, V Sized](capacity uint64) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[K]*list.Element),
	}
}

// Len returns the number of entries currently resident.
func (c *Cache[K, V]) Len() int { return c.ll.Len() }

// Insert adds or overwrites key with value, evicting least-recently-used
// entries (oldest first) until the cache's total size is within capacity.
// Returns every evicted value, oldest first.
func (c *Cache[K, V]) Insert(key K, value V) (evicted []V) {
	if el, ok := c.index[key]; ok {
		c.used -= el.Value.(*entry[K, V]).value.Size()
		c.ll.Remove(el)
		delete(c.index, key)
	}

	el := c.ll.PushFront(&entry[K, V]{key: key, value: value})
	c.index[key] = el
	c.used += value.Size()

	for c.used > c.capacity && c.ll.Len() > 1 {
		back := c.ll.Back()
		if back == el {
			break
		}
		ev := back.Value.(*entry[K, V])
		c.used -= ev.value.Size()
		c.ll.Remove(back)
		delete(c.index, ev.key)
		evicted = append(evicted, ev.value)
	}

	return evicted
}

// LookUp returns the value for key and splices it to the front (most
// recently used), or the zero value and false if key is absent.
func (c *Cache[K, V]) LookUp(key K) (value V, ok bool) {
	el, found := c.index[key]
	if !found {
		return value, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Peek is like LookUp but does not alter recency order.
func (c *Cache[K, V]) Peek(key K) (value V, ok bool) {
	el, found := c.index[key]
	if !found {
		return value, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// Erase removes key and returns its prior value, or the zero value and
// false if it was absent.
func (c *Cache[K, V]) Erase(key K) (value V, ok bool) {
	el, found := c.index[key]
	if !found {
		return value, false
	}
	ev := el.Value.(*entry[K, V])
	c.used -= ev.value.Size()
	c.ll.Remove(el)
	delete(c.index, key)
	return ev.value, true
}

// LRU returns the current least-recently-used key without removing it, and
// false if the cache is empty.
func (c *Cache[K, V]) LRU() (key K, ok bool) {
	back := c.ll.Back()
	if back == nil {
		return key, false
	}
	return back.Value.(*entry[K, V]).key, true
}

// All returns every resident value, most-recently-used first, without
// altering recency order. Intended for full write-back sweeps (Close).
func (c *Cache[K, V]) All() []V {
	out := make([]V, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[K, V]).value)
	}
	return out
}

// CheckInvariants panics if the index and the LRU list have drifted apart.
// Intended for use from tests wrapping every call, matching the teacher's
// invariantsCache pattern.
func (c *Cache[K, V]) CheckInvariants() {
	if len(c.index) != c.ll.Len() {
		panic("lrucache: index size diverged from list length")
	}
	var total uint64
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		if c.index[e.key] != el {
			panic("lrucache: index entry does not point at its list element")
		}
		total += e.value.Size()
	}
	if total != c.used {
		panic("lrucache: tracked used size diverged from actual sum")
	}
}
