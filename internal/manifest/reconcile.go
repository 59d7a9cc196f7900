package manifest

import (
	"context"
	"time"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
)

// DriftReport contains the results of a catalog-manifest reconciliation.
type DriftReport struct {
	// InSync is true when the live and persisted partition layouts hash to
	// the same fingerprint.
	InSync bool
	// LiveFingerprint is the fingerprint of the in-memory snapshot.
	LiveFingerprint uint64
	// StoredFingerprint is the fingerprint of the layout rebuilt from the
	// manifest.
	StoredFingerprint uint64
	// LiveSeq and StoredSeq are the change sequence numbers on each side.
	LiveSeq   uint64
	StoredSeq uint64
	// MissingFromStore lists live partitions absent from the manifest.
	MissingFromStore []string
	// MissingFromLive lists manifest partitions absent from the live catalog.
	MissingFromLive []string
	// RunAt is when the reconciliation was performed.
	RunAt time.Time
}

// HasIssues returns true if the report indicates drift.
func (r *DriftReport) HasIssues() bool {
	return !r.InSync
}

// Reconcile checks consistency between a live catalog snapshot and the
// manifest. Drift means a change was applied in memory but its persistence
// failed (or the manifest was modified out of band); the report names the
// partitions on each side so an operator can replay or repair.
func Reconcile(ctx context.Context, store *Store, live *catalog.Snapshot) (*DriftReport, error) {
	report := &DriftReport{
		RunAt:           time.Now(),
		LiveFingerprint: live.Fingerprint(),
		LiveSeq:         live.Seq(),
	}

	stored, err := store.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// Empty manifest: everything live is unpersisted.
		for _, d := range live.Descriptors() {
			report.MissingFromStore = append(report.MissingFromStore, d.Name)
		}
		report.InSync = false
		return report, nil
	}

	storedSnap := stored.Snapshot()
	report.StoredFingerprint = storedSnap.Fingerprint()
	report.StoredSeq = storedSnap.Seq()
	report.InSync = report.LiveFingerprint == report.StoredFingerprint

	if report.InSync {
		return report, nil
	}

	for _, d := range live.Descriptors() {
		if _, ok := storedSnap.Lookup(d.Name); !ok {
			report.MissingFromStore = append(report.MissingFromStore, d.Name)
		}
	}
	for _, d := range storedSnap.Descriptors() {
		if _, ok := live.Lookup(d.Name); !ok {
			report.MissingFromLive = append(report.MissingFromLive, d.Name)
		}
	}
	return report, nil
}
