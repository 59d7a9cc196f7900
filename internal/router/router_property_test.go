package router

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// buildRandomCatalog creates a monthly catalog with monthCount bounded
// partitions starting January 2023 and retires the ones selected by
// retireMask.
func buildRandomCatalog(monthCount int, retireMask uint32) (*catalog.Catalog, error) {
	ks := types.NewTimeKeySpace()
	origin := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	cat, err := catalog.New(ks, origin, "p_overflow")
	if err != nil {
		return nil, err
	}
	for i := 0; i < monthCount; i++ {
		lower := origin.AddDate(0, i, 0)
		if _, err := cat.AddBoundary(lower.AddDate(0, 1, 0), ks.PartitionName(lower, types.UnitMonth)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < monthCount; i++ {
		if retireMask&(1<<uint(i)) == 0 {
			continue
		}
		lower := origin.AddDate(0, i, 0)
		if _, err := cat.Retire(ks.PartitionName(lower, types.UnitMonth)); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// bruteForceRange filters descriptors by direct interval intersection with
// the inclusive [lower, upper] range, the definition routing must agree with.
func bruteForceRange(ks types.KeySpace, snap *catalog.Snapshot, lower, upper types.KeyValue) []string {
	names := []string{}
	for _, d := range snap.Descriptors() {
		if upper != nil && ks.Compare(d.Lower, upper) > 0 {
			continue
		}
		if lower != nil && d.Upper != nil && ks.Compare(d.Upper, lower) <= 0 {
			continue
		}
		names = append(names, d.Name)
	}
	return names
}

func TestProperty_RangeRoutingMatchesBruteForce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ks := types.NewTimeKeySpace()
	origin := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("range routing equals interval intersection", prop.ForAll(
		func(monthCount int, retireMask uint32, loOffset, hiOffset int) bool {
			cat, err := buildRandomCatalog(monthCount, retireMask)
			if err != nil {
				return false
			}
			snap := cat.Snapshot()

			// Offsets are days relative to a window around the catalog,
			// covering below-origin, interior, boundary, and overflow keys.
			if loOffset > hiOffset {
				loOffset, hiOffset = hiOffset, loOffset
			}
			lower := origin.AddDate(0, 0, loOffset-60)
			upper := origin.AddDate(0, 0, hiOffset-60)

			r := New(ks, nil)
			got, err := r.Route(types.Range(lower, upper), snap)
			if err != nil {
				return false
			}
			want := bruteForceRange(ks, snap, lower, upper)
			return reflect.DeepEqual(got, want)
		},
		gen.IntRange(0, 18),
		gen.UInt32(),
		gen.IntRange(0, 800),
		gen.IntRange(0, 800),
	))

	properties.Property("point routing agrees with a degenerate range", prop.ForAll(
		func(monthCount int, retireMask uint32, dayOffset int) bool {
			cat, err := buildRandomCatalog(monthCount, retireMask)
			if err != nil {
				return false
			}
			snap := cat.Snapshot()
			key := origin.AddDate(0, 0, dayOffset-60)

			r := New(ks, nil)
			fromPoint, err := r.Route(types.Point(key), snap)
			if err != nil {
				return false
			}
			fromRange, err := r.Route(types.Range(key, key), snap)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(fromPoint, fromRange)
		},
		gen.IntRange(0, 18),
		gen.UInt32(),
		gen.IntRange(0, 800),
	))

	properties.TestingRun(t)
}
