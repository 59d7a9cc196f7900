// Package observability provides routing statistics for pruning-effectiveness
// monitoring.
package observability

import (
	"sync"
	"time"

	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// RouteStats tracks per-predicate-kind routing counters. Pruning ratio is the
// fraction of catalog partitions a predicate proved disjoint; a low ratio on
// range predicates usually means callers are scanning without key bounds.
type RouteStats struct {
	mu    sync.RWMutex
	kinds map[types.PredicateKind]*KindStats
}

// KindStats holds counters for one predicate kind.
type KindStats struct {
	Kind              types.PredicateKind
	Routes            int64
	PartitionsScanned int64
	PartitionsMatched int64
	LastSeen          time.Time
}

// PruningRatio is the fraction of scanned partitions that were pruned.
func (s *KindStats) PruningRatio() float64 {
	if s.PartitionsScanned == 0 {
		return 0
	}
	return float64(s.PartitionsScanned-s.PartitionsMatched) / float64(s.PartitionsScanned)
}

// NewRouteStats creates a routing statistics tracker.
func NewRouteStats() *RouteStats {
	return &RouteStats{
		kinds: make(map[types.PredicateKind]*KindStats),
	}
}

// RecordRoute records one routing decision: how many partitions the snapshot
// held and how many survived pruning. O(1) and thread-safe.
func (r *RouteStats) RecordRoute(kind types.PredicateKind, scanned, matched int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, exists := r.kinds[kind]
	if !exists {
		stats = &KindStats{Kind: kind}
		r.kinds[kind] = stats
	}
	stats.Routes++
	stats.PartitionsScanned += int64(scanned)
	stats.PartitionsMatched += int64(matched)
	stats.LastSeen = time.Now()
}

// Snapshot returns a copy of the current counters.
func (r *RouteStats) Snapshot() []KindStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]KindStats, 0, len(r.kinds))
	for _, s := range r.kinds {
		out = append(out, *s)
	}
	return out
}

// TotalRoutes returns the number of routing decisions recorded.
func (r *RouteStats) TotalRoutes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, s := range r.kinds {
		total += s.Routes
	}
	return total
}
