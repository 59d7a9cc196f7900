// Package router answers the question at the heart of partition pruning:
// given a predicate on the partition key, which partitions could contain
// matching rows? A partition is included iff its interval intersects the
// predicate's interval — never a false negative, never a provably disjoint
// partition.
package router

import (
	"fmt"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/internal/observability"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// Router prunes partitions against catalog snapshots. It holds no catalog
// state itself; every call routes against the snapshot it is given, so a
// long query sees one consistent partition layout.
type Router struct {
	keys  types.KeySpace
	stats *observability.RouteStats
}

// New creates a router. stats may be nil to disable recording.
func New(keys types.KeySpace, stats *observability.RouteStats) *Router {
	return &Router{keys: keys, stats: stats}
}

// Route returns the names of the partitions that could contain rows matching
// the predicate, in ascending boundary order.
func (r *Router) Route(pred types.Predicate, snap *catalog.Snapshot) ([]string, error) {
	descs, err := r.RouteDescriptors(pred, snap)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names, nil
}

// RouteDescriptors is Route with full descriptors, for callers that need
// boundary or row-estimate information alongside the names.
func (r *Router) RouteDescriptors(pred types.Predicate, snap *catalog.Snapshot) ([]catalog.Descriptor, error) {
	var (
		descs []catalog.Descriptor
		err   error
	)
	switch pred.Kind {
	case types.KindPoint:
		descs, err = r.routePoint(pred.Key, snap)
	case types.KindRange:
		descs, err = r.routeRange(pred.Lower, pred.Upper, snap)
	default:
		err = errors.NewValidationError(errors.CodeInvalidPredicate,
			fmt.Sprintf("unsupported predicate kind %q", pred.Kind))
	}
	if err != nil {
		return nil, err
	}

	if r.stats != nil {
		r.stats.RecordRoute(pred.Kind, snap.Len(), len(descs))
	}
	return descs, nil
}

// routePoint returns the single partition containing key: the bounded
// partition whose [lower, upper) holds it, the overflow partition when key
// is at or beyond the highest boundary, or nothing when key falls into a
// retired gap or below the catalog origin.
func (r *Router) routePoint(key types.KeyValue, snap *catalog.Snapshot) ([]catalog.Descriptor, error) {
	if key == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidPredicate, "point predicate requires a key")
	}
	if _, err := r.keys.Encode(key); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid point key: %v", err))
	}

	for _, d := range snap.Bounded() {
		if r.keys.Compare(key, d.Lower) >= 0 && r.keys.Compare(key, d.Upper) < 0 {
			return []catalog.Descriptor{d}, nil
		}
	}

	overflow := snap.Overflow()
	if r.keys.Compare(key, overflow.Lower) >= 0 {
		return []catalog.Descriptor{overflow}, nil
	}
	return nil, nil
}

// routeRange returns every partition whose interval intersects the inclusive
// range [lower, upper]. A nil lower or upper is unbounded. A bounded
// partition [pl, pu) intersects iff pl <= upper and pu > lower; the overflow
// partition [ol, +inf) intersects iff upper is unbounded or upper >= ol.
func (r *Router) routeRange(lower, upper types.KeyValue, snap *catalog.Snapshot) ([]catalog.Descriptor, error) {
	if lower != nil {
		if _, err := r.keys.Encode(lower); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid range lower key: %v", err))
		}
	}
	if upper != nil {
		if _, err := r.keys.Encode(upper); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid range upper key: %v", err))
		}
	}
	if lower != nil && upper != nil && r.keys.Compare(lower, upper) > 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidPredicate, "range lower bound exceeds upper bound")
	}

	var matched []catalog.Descriptor
	for _, d := range snap.Bounded() {
		if upper != nil && r.keys.Compare(d.Lower, upper) > 0 {
			break
		}
		if lower != nil && r.keys.Compare(d.Upper, lower) <= 0 {
			continue
		}
		matched = append(matched, d)
	}

	overflow := snap.Overflow()
	if upper == nil || r.keys.Compare(upper, overflow.Lower) >= 0 {
		matched = append(matched, overflow)
	}
	return matched, nil
}
