package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

func TestReconcileInSync(t *testing.T) {
	store, _ := newTestStore(t)
	cat := seedCatalog(t, store)
	ctx := context.Background()

	ev, err := cat.AddBoundary(date(2023, time.February, 1), "p_2023_01")
	mustApply(t, store, ev, err)

	report, err := Reconcile(ctx, store, cat.Snapshot())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !report.InSync || report.HasIssues() {
		t.Errorf("expected in-sync report, got %+v", report)
	}
	if report.LiveFingerprint != report.StoredFingerprint {
		t.Errorf("fingerprints differ in an in-sync report")
	}
}

func TestReconcileDetectsDrift(t *testing.T) {
	store, _ := newTestStore(t)
	cat := seedCatalog(t, store)
	ctx := context.Background()

	// Mutate in memory without persisting: the store is now behind.
	if _, err := cat.AddBoundary(date(2023, time.February, 1), "p_2023_01"); err != nil {
		t.Fatal(err)
	}

	report, err := Reconcile(ctx, store, cat.Snapshot())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.InSync {
		t.Fatal("drift went undetected")
	}
	if len(report.MissingFromStore) != 1 || report.MissingFromStore[0] != "p_2023_01" {
		t.Errorf("MissingFromStore = %v, want [p_2023_01]", report.MissingFromStore)
	}
	if report.LiveSeq <= report.StoredSeq {
		t.Errorf("live seq %d should exceed stored seq %d", report.LiveSeq, report.StoredSeq)
	}
}

func TestReconcileEmptyStore(t *testing.T) {
	store, _ := newTestStore(t)

	live, err := catalog.New(types.NewTimeKeySpace(), date(2023, time.January, 1), "p_overflow")
	if err != nil {
		t.Fatal(err)
	}

	report, err := Reconcile(context.Background(), store, live.Snapshot())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.InSync {
		t.Error("empty store cannot be in sync with a live catalog")
	}
	if len(report.MissingFromStore) != 1 {
		t.Errorf("MissingFromStore = %v", report.MissingFromStore)
	}
}
