package router

import (
	"reflect"
	"testing"
	"time"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/internal/observability"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// halfYearCatalog builds the canonical test layout: monthly partitions
// p_2023_01 .. p_2023_06 plus an overflow starting 2023-07-01.
func halfYearCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ks := types.NewTimeKeySpace()
	cat, err := catalog.New(ks, date(2023, time.January, 1), "p_overflow")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 1; i <= 6; i++ {
		boundary := date(2023, time.Month(i+1), 1)
		name := ks.PartitionName(date(2023, time.Month(i), 1), types.UnitMonth)
		if _, err := cat.AddBoundary(boundary, name); err != nil {
			t.Fatalf("AddBoundary %s failed: %v", name, err)
		}
	}
	return cat
}

func route(t *testing.T, r *Router, pred types.Predicate, snap *catalog.Snapshot) []string {
	t.Helper()
	names, err := r.Route(pred, snap)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	return names
}

func TestRoutePoint(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	r := New(ks, nil)
	snap := cat.Snapshot()

	cases := []struct {
		key  time.Time
		want []string
	}{
		{date(2023, time.March, 15), []string{"p_2023_03"}},
		{date(2023, time.March, 1), []string{"p_2023_03"}}, // lower inclusive
		{date(2023, time.April, 1), []string{"p_2023_04"}}, // upper exclusive
		{date(2023, time.September, 9), []string{"p_overflow"}},
		{date(2023, time.July, 1), []string{"p_overflow"}}, // overflow lower inclusive
		{date(2022, time.June, 1), []string{}},             // below origin
	}
	for _, tc := range cases {
		got := route(t, r, types.Point(tc.key), snap)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Point(%s) = %v, want %v", tc.key.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestRoutePointRetiredGap(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	if _, err := cat.Retire("p_2023_02"); err != nil {
		t.Fatal(err)
	}
	r := New(ks, nil)

	got := route(t, r, types.Point(date(2023, time.February, 14)), cat.Snapshot())
	if len(got) != 0 {
		t.Errorf("point in retired gap routed to %v, want nothing", got)
	}
}

func TestRouteRange(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	r := New(ks, nil)
	snap := cat.Snapshot()

	cases := []struct {
		name         string
		lower, upper types.KeyValue
		want         []string
	}{
		{
			"mid-range scan",
			date(2023, time.February, 15), date(2023, time.April, 10),
			[]string{"p_2023_02", "p_2023_03", "p_2023_04"},
		},
		{
			"inclusive upper touching a lower bound",
			date(2023, time.January, 15), date(2023, time.March, 1),
			[]string{"p_2023_01", "p_2023_02", "p_2023_03"},
		},
		{
			"lower at an upper bound excludes the earlier partition",
			date(2023, time.February, 1), date(2023, time.February, 10),
			[]string{"p_2023_02"},
		},
		{
			"unbounded upper reaches the overflow",
			date(2023, time.May, 10), nil,
			[]string{"p_2023_05", "p_2023_06", "p_overflow"},
		},
		{
			"unbounded lower",
			nil, date(2023, time.February, 10),
			[]string{"p_2023_01", "p_2023_02"},
		},
		{
			"fully unbounded matches everything",
			nil, nil,
			[]string{"p_2023_01", "p_2023_02", "p_2023_03", "p_2023_04", "p_2023_05", "p_2023_06", "p_overflow"},
		},
		{
			"upper below origin matches nothing",
			date(2022, time.January, 1), date(2022, time.June, 1),
			[]string{},
		},
		{
			"inclusive upper at overflow lower",
			date(2023, time.June, 15), date(2023, time.July, 1),
			[]string{"p_2023_06", "p_overflow"},
		},
	}
	for _, tc := range cases {
		got := route(t, r, types.Range(tc.lower, tc.upper), snap)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRouteRangeRetiredGap(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	if _, err := cat.Retire("p_2023_03"); err != nil {
		t.Fatal(err)
	}
	r := New(ks, nil)
	snap := cat.Snapshot()

	// A range fully inside the gap matches nothing.
	got := route(t, r, types.Range(date(2023, time.March, 5), date(2023, time.March, 20)), snap)
	if len(got) != 0 {
		t.Errorf("range in retired gap routed to %v", got)
	}

	// A range straddling the gap matches only the surviving neighbors.
	got = route(t, r, types.Range(date(2023, time.February, 20), date(2023, time.April, 5)), snap)
	want := []string{"p_2023_02", "p_2023_04"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("straddling range = %v, want %v", got, want)
	}
}

func TestRouteErrors(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	r := New(ks, nil)
	snap := cat.Snapshot()

	_, err := r.Route(types.Range(date(2023, time.April, 1), date(2023, time.February, 1)), snap)
	if !errors.HasCode(err, errors.CodeInvalidPredicate) {
		t.Errorf("inverted range error = %v, want INVALID_PREDICATE", err)
	}

	_, err = r.Route(types.Point(nil), snap)
	if !errors.HasCode(err, errors.CodeInvalidPredicate) {
		t.Errorf("nil point error = %v, want INVALID_PREDICATE", err)
	}

	_, err = r.Route(types.Point("not-a-time"), snap)
	if !errors.HasCode(err, errors.CodeInvalidKey) {
		t.Errorf("bad key error = %v, want INVALID_KEY", err)
	}

	_, err = r.Route(types.Predicate{Kind: "prefix"}, snap)
	if !errors.HasCode(err, errors.CodeInvalidPredicate) {
		t.Errorf("unknown kind error = %v, want INVALID_PREDICATE", err)
	}
}

func TestRouteRecordsStats(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	stats := observability.NewRouteStats()
	r := New(ks, stats)
	snap := cat.Snapshot()

	route(t, r, types.Point(date(2023, time.March, 15)), snap)
	route(t, r, types.Range(date(2023, time.February, 15), date(2023, time.April, 10)), snap)

	if stats.TotalRoutes() != 2 {
		t.Errorf("TotalRoutes = %d, want 2", stats.TotalRoutes())
	}
	for _, st := range stats.Snapshot() {
		switch st.Kind {
		case types.KindPoint:
			if st.PartitionsScanned != 7 || st.PartitionsMatched != 1 {
				t.Errorf("point stats scanned=%d matched=%d", st.PartitionsScanned, st.PartitionsMatched)
			}
		case types.KindRange:
			if st.PartitionsMatched != 3 {
				t.Errorf("range matched = %d, want 3", st.PartitionsMatched)
			}
		}
	}

	// Failed routes are not recorded.
	if _, err := r.Route(types.Point(nil), snap); err == nil {
		t.Fatal("expected error")
	}
	if stats.TotalRoutes() != 2 {
		t.Errorf("failed route was recorded")
	}
}

func TestRouteAgainstOldSnapshot(t *testing.T) {
	ks := types.NewTimeKeySpace()
	cat := halfYearCatalog(t)
	r := New(ks, nil)

	old := cat.Snapshot()
	if _, err := cat.Retire("p_2023_03"); err != nil {
		t.Fatal(err)
	}

	// Routing against the old snapshot still sees the retired partition:
	// a long-running caller keeps one consistent layout.
	got := route(t, r, types.Point(date(2023, time.March, 15)), old)
	if !reflect.DeepEqual(got, []string{"p_2023_03"}) {
		t.Errorf("old snapshot route = %v", got)
	}
	got = route(t, r, types.Point(date(2023, time.March, 15)), cat.Snapshot())
	if len(got) != 0 {
		t.Errorf("new snapshot route = %v, want nothing", got)
	}
}
