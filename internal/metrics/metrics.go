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

// Package metrics exposes Prometheus counters for the cache and allocator
// layers, grounded in the teacher's metrics/internal/monitor packages. A
// nil *Collector is valid and records nothing, so wiring metrics in never
// becomes a mandatory dependency of the engine (spec.md §1's Non-goals
// exclude any networked surface; a Collector has no HTTP listener of its
// own, only collectors an embedding binary may choose to register).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every counter/gauge the engine populates.
type Collector struct {
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheEvicts  *prometheus.CounterVec
	inodeAllocs  prometheus.Counter
	inodeFrees   prometheus.Counter
	clusterAllocs prometheus.Counter
	clusterFrees  prometheus.Counter
	consistencyFailures *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its collectors with reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to publish on the process-wide endpoint.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sofs14_cache_hits_total",
			Help: "Number of block/cluster cache hits, by cache layer.",
		}, []string{"layer"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sofs14_cache_misses_total",
			Help: "Number of block/cluster cache misses, by cache layer.",
		}, []string{"layer"}),
		cacheEvicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sofs14_cache_evictions_total",
			Help: "Number of LRU evictions, by cache layer.",
		}, []string{"layer"}),
		inodeAllocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sofs14_inode_allocs_total",
			Help: "Number of inodes allocated.",
		}),
		inodeFrees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sofs14_inode_frees_total",
			Help: "Number of inodes freed.",
		}),
		clusterAllocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sofs14_cluster_allocs_total",
			Help: "Number of data clusters allocated.",
		}),
		clusterFrees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sofs14_cluster_frees_total",
			Help: "Number of data clusters freed.",
		}),
		consistencyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sofs14_consistency_failures_total",
			Help: "Number of consistency predicate failures, by predicate.",
		}, []string{"predicate"}),
	}

	if reg != nil {
		reg.MustRegister(c.cacheHits, c.cacheMisses, c.cacheEvicts,
			c.inodeAllocs, c.inodeFrees, c.clusterAllocs, c.clusterFrees,
			c.consistencyFailures)
	}
	return c
}

func (c *Collector) IncCacheHit(layer string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(layer).Inc()
}

func (c *Collector) IncCacheMiss(layer string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(layer).Inc()
}

func (c *Collector) IncCacheEvict(layer string) {
	if c == nil {
		return
	}
	c.cacheEvicts.WithLabelValues(layer).Inc()
}

func (c *Collector) IncInodeAlloc() {
	if c == nil {
		return
	}
	c.inodeAllocs.Inc()
}

func (c *Collector) IncInodeFree() {
	if c == nil {
		return
	}
	c.inodeFrees.Inc()
}

func (c *Collector) IncClusterAlloc() {
	if c == nil {
		return
	}
	c.clusterAllocs.Inc()
}

func (c *Collector) IncClusterFree() {
	if c == nil {
		return
	}
	c.clusterFrees.Inc()
}

func (c *Collector) IncConsistencyFailure(predicate string) {
	if c == nil {
		return
	}
	c.consistencyFailures.WithLabelValues(predicate).Inc()
}
