// Package lifecycle keeps the catalog's bounded-partition frontier ahead of
// the advancing key frontier and enforces the retention horizon. Per
// partition the progression is Planned (frontier computes a boundary) ->
// Active (boundary added, routable) -> Retired (no longer routable,
// permanently gone); transitions are one-directional and retired names are
// never reused.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// ChangeApplier receives catalog change events for persistence. The actual
// DDL against the backing database is the applier's job; the manager only
// mutates the in-memory catalog.
type ChangeApplier interface {
	ApplyChange(ctx context.Context, ev *catalog.ChangeEvent) error
}

// MultiApplier fans each change event out to several appliers in order,
// stopping at the first failure.
type MultiApplier []ChangeApplier

// ApplyChange implements ChangeApplier.
func (m MultiApplier) ApplyChange(ctx context.Context, ev *catalog.ChangeEvent) error {
	for _, a := range m {
		if err := a.ApplyChange(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Manager owns all catalog mutation on behalf of schedulers. A single
// mutation lock serializes EnsureFrontier and ApplyRetention with each other
// so a partition can never be retired in the middle of being planned.
type Manager struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	keys    types.KeySpace
	unit    types.PeriodUnit
	applier ChangeApplier
}

// New creates a lifecycle manager. unit is the partition period granularity.
// applier may be nil when no persistence collaborator is attached.
func New(cat *catalog.Catalog, unit types.PeriodUnit, applier ChangeApplier) (*Manager, error) {
	if !unit.Valid() {
		return nil, errors.NewValidationError(errors.CodeInvalidPolicy, fmt.Sprintf("unsupported period unit %q", unit))
	}
	return &Manager{
		catalog: cat,
		keys:    cat.KeySpace(),
		unit:    unit,
		applier: applier,
	}, nil
}

// EnsureFrontier idempotently creates one bounded partition per period from
// the overflow partition's lower bound up to currentPeriodStart plus
// lookaheadPeriods. Periods whose boundaries already exist are skipped, so a
// second call with identical arguments creates nothing and returns an empty
// list. Walking from the overflow bound (rather than currentPeriodStart)
// keeps partition names aligned with the range they cover when catching up
// after downtime.
func (m *Manager) EnsureFrontier(ctx context.Context, currentPeriodStart types.KeyValue, lookaheadPeriods int) ([]string, error) {
	if lookaheadPeriods < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidPolicy,
			fmt.Sprintf("lookahead periods must be >= 0, got %d", lookaheadPeriods))
	}
	if _, err := m.keys.Encode(currentPeriodStart); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid period start: %v", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.keys.Add(currentPeriodStart, lookaheadPeriods, m.unit)
	created := []string{}

	for {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		lower := m.catalog.Snapshot().Overflow().Lower
		if m.keys.Compare(lower, target) >= 0 {
			return created, nil
		}

		upper := m.keys.Add(lower, 1, m.unit)
		name := m.keys.PartitionName(lower, m.unit)

		ev, err := m.catalog.AddBoundary(upper, name)
		if err != nil {
			// A boundary raced in through another path; idempotent skip.
			if errors.HasCode(err, errors.CodeDuplicateBoundary) {
				continue
			}
			return created, err
		}
		if err := m.apply(ctx, ev); err != nil {
			return created, err
		}
		created = append(created, name)
	}
}

// ApplyRetention retires every bounded partition whose interval lies fully
// below the cutoff (now minus the policy horizon). The overflow partition
// and any partition straddling the cutoff are preserved intact; there is no
// partial-partition retirement. Returns the retired names in boundary order.
func (m *Manager) ApplyRetention(ctx context.Context, now types.KeyValue, policy types.RetentionPolicy) ([]string, error) {
	if err := policy.Validate(); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidPolicy, err.Error())
	}
	if _, err := m.keys.Encode(now); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid retention reference key: %v", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.keys.Add(now, -policy.Horizon, policy.Unit)
	retired := []string{}

	for _, d := range m.catalog.Snapshot().Bounded() {
		if err := ctx.Err(); err != nil {
			return retired, err
		}
		if m.keys.Compare(d.Upper, cutoff) > 0 {
			continue
		}
		ev, err := m.catalog.Retire(d.Name)
		if err != nil {
			return retired, err
		}
		if err := m.apply(ctx, ev); err != nil {
			return retired, err
		}
		retired = append(retired, d.Name)
	}
	return retired, nil
}

// AddBoundary forwards a manual boundary addition through the mutation lock,
// for operators advancing the frontier by hand.
func (m *Manager) AddBoundary(ctx context.Context, boundary types.KeyValue, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.catalog.AddBoundary(boundary, name)
	if err != nil {
		return err
	}
	return m.apply(ctx, ev)
}

// Retire forwards a manual retirement through the mutation lock.
func (m *Manager) Retire(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.catalog.Retire(name)
	if err != nil {
		return err
	}
	return m.apply(ctx, ev)
}

// apply hands a change event to the persistence collaborator. A failure here
// leaves the in-memory catalog ahead of the store; the drift is surfaced to
// the caller and detectable via manifest reconciliation.
func (m *Manager) apply(ctx context.Context, ev *catalog.ChangeEvent) error {
	if m.applier == nil {
		return nil
	}
	if err := m.applier.ApplyChange(ctx, ev); err != nil {
		return errors.NewManifestError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to persist %s change for partition %q", ev.Kind, ev.Partition), err)
	}
	return nil
}
