package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// fixedClock returns a constant time, keeping daemon cycles deterministic.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func TestDaemonRunOnce(t *testing.T) {
	cat := newCatalog(t, date(2023, time.January, 1))
	m := newManager(t, cat, nil)
	ks := types.NewTimeKeySpace()

	d := NewDaemon(DaemonConfig{
		CheckInterval:    time.Hour,
		LookaheadPeriods: 1,
		Retention:        types.RetentionPolicy{Horizon: 3, Unit: types.UnitMonth},
	}, m, ks, types.UnitMonth, fixedClock{now: date(2023, time.July, 15)})

	d.RunOnce(context.Background())

	snap := cat.Snapshot()
	// Frontier: current period 2023-07 plus one lookahead means bounded
	// partitions through August, overflow from September.
	if ks.Compare(snap.Overflow().Lower, date(2023, time.August, 1)) != 0 {
		t.Errorf("overflow lower = %v, want 2023-08-01", snap.Overflow().Lower)
	}
	// Retention: cutoff 2023-04-01 retires January through March.
	for _, name := range []string{"p_2023_01", "p_2023_02", "p_2023_03"} {
		if _, ok := snap.Lookup(name); ok {
			t.Errorf("%s should be retired", name)
		}
	}
	for _, name := range []string{"p_2023_04", "p_2023_07"} {
		if _, ok := snap.Lookup(name); !ok {
			t.Errorf("%s should be live", name)
		}
	}

	// A second cycle at the same instant is a no-op.
	seq := snap.Seq()
	d.RunOnce(context.Background())
	if got := cat.Snapshot().Seq(); got != seq {
		t.Errorf("idle cycle advanced seq from %d to %d", seq, got)
	}
}

func TestDaemonRetentionDisabled(t *testing.T) {
	cat := newCatalog(t, date(2023, time.January, 1))
	m := newManager(t, cat, nil)

	d := NewDaemon(DaemonConfig{
		CheckInterval:    time.Hour,
		LookaheadPeriods: 0,
	}, m, types.NewTimeKeySpace(), types.UnitMonth, fixedClock{now: date(2023, time.July, 15)})

	d.RunOnce(context.Background())

	if _, ok := cat.Snapshot().Lookup("p_2023_01"); !ok {
		t.Error("retention ran with a zero horizon")
	}
}

func TestDaemonStartStop(t *testing.T) {
	cat := newCatalog(t, date(2023, time.January, 1))
	m := newManager(t, cat, nil)

	d := NewDaemon(DaemonConfig{
		CheckInterval:    time.Hour,
		LookaheadPeriods: 0,
	}, m, types.NewTimeKeySpace(), types.UnitMonth, fixedClock{now: date(2023, time.February, 10)})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("repeated Stop should be a no-op, got %v", err)
	}

	// The immediate startup cycle advanced the frontier through February.
	if _, ok := cat.Snapshot().Lookup("p_2023_01"); !ok {
		t.Error("startup cycle did not run")
	}
}
