// Package catalog maintains the ordered set of partition descriptors that
// routing and lifecycle decisions are made against. The catalog is the
// single piece of shared mutable state in the system: one writer at a time,
// many concurrent readers via immutable snapshots.
package catalog

import (
	"fmt"
	"sync"

	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// Catalog is the source of truth for partition layout. Mutations execute
// under an exclusive lock and publish a new immutable snapshot atomically;
// readers see either the pre- or post-mutation state, never a mix. All
// mutations are all-or-nothing: a failed operation leaves the published
// snapshot untouched.
type Catalog struct {
	keys types.KeySpace

	mu      sync.RWMutex
	snap    *Snapshot
	retired map[string]struct{}
}

// New creates a catalog containing only the overflow partition, spanning
// [origin, +inf). Boundaries are then added in increasing order.
func New(keys types.KeySpace, origin types.KeyValue, overflowName string) (*Catalog, error) {
	if overflowName == "" {
		return nil, errors.NewValidationError(errors.CodeDuplicateName, "overflow partition name must not be empty")
	}
	if _, err := keys.Encode(origin); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid origin key: %v", err))
	}

	descs := []Descriptor{{Name: overflowName, Lower: origin, Upper: nil}}
	return &Catalog{
		keys: keys,
		snap: &Snapshot{
			descriptors: descs,
			seq:         0,
			fingerprint: fingerprintDescriptors(keys, descs),
		},
		retired: make(map[string]struct{}),
	}, nil
}

// FromDescriptors rebuilds a catalog from persisted state, validating the
// structural invariants: ascending non-overlapping bounded partitions
// followed by exactly one unbounded overflow partition, unique names, and
// no live partition carrying a retired name.
func FromDescriptors(keys types.KeySpace, descs []Descriptor, retired []string, seq uint64) (*Catalog, error) {
	if len(descs) == 0 {
		return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, "catalog must contain an overflow partition")
	}

	retiredSet := make(map[string]struct{}, len(retired))
	for _, name := range retired {
		retiredSet[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(descs))
	for i, d := range descs {
		if d.Name == "" {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("partition %d has an empty name", i))
		}
		if _, dup := seen[d.Name]; dup {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("duplicate partition name %q", d.Name))
		}
		if _, wasRetired := retiredSet[d.Name]; wasRetired {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("live partition %q carries a retired name", d.Name))
		}
		seen[d.Name] = struct{}{}

		if d.Lower == nil {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("partition %q has no lower bound", d.Name))
		}
		if _, err := keys.Encode(d.Lower); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("partition %q lower bound: %v", d.Name, err))
		}

		isLast := i == len(descs)-1
		if isLast {
			if d.Upper != nil {
				return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, "trailing partition must be the unbounded overflow")
			}
			continue
		}
		if d.Upper == nil {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("non-trailing partition %q is unbounded", d.Name))
		}
		if _, err := keys.Encode(d.Upper); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("partition %q upper bound: %v", d.Name, err))
		}
		if keys.Compare(d.Lower, d.Upper) >= 0 {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("partition %q has an empty or inverted range", d.Name))
		}
		// Retired gaps are allowed: the next lower may exceed this upper,
		// but never precede it.
		next := descs[i+1]
		if keys.Compare(d.Upper, next.Lower) > 0 {
			return nil, errors.NewCatalogError(errors.CodeCorruptionDetected, fmt.Sprintf("partitions %q and %q overlap", d.Name, next.Name))
		}
	}

	cp := make([]Descriptor, len(descs))
	copy(cp, descs)
	return &Catalog{
		keys: keys,
		snap: &Snapshot{
			descriptors: cp,
			seq:         seq,
			fingerprint: fingerprintDescriptors(keys, cp),
		},
		retired: retiredSet,
	}, nil
}

// Snapshot returns the current published view. The returned snapshot is
// immutable and safe for concurrent use.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// KeySpace returns the key ordering collaborator the catalog was built with.
func (c *Catalog) KeySpace() types.KeySpace {
	return c.keys
}

// Retired returns the names that have been retired and may never be reused.
func (c *Catalog) Retired() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.retired))
	for name := range c.retired {
		names = append(names, name)
	}
	return names
}

// AddBoundary splits the overflow partition at boundary, creating the
// bounded partition [overflow.Lower, boundary) under the given name and
// shrinking the overflow to start at boundary. Boundaries must be added in
// strictly increasing order, mirroring the append-only nature of time-based
// partitioning.
func (c *Catalog) AddBoundary(boundary types.KeyValue, name string) (*ChangeEvent, error) {
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeDuplicateName, "partition name must not be empty")
	}
	if _, err := c.keys.Encode(boundary); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidKey, fmt.Sprintf("invalid boundary key: %v", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.snap
	if _, exists := before.Lookup(name); exists {
		return nil, errors.NewCatalogError(errors.CodeDuplicateName, fmt.Sprintf("partition name %q is already in use", name))
	}
	if _, wasRetired := c.retired[name]; wasRetired {
		return nil, errors.NewCatalogError(errors.CodeDuplicateName, fmt.Sprintf("partition name %q was retired and cannot be reused", name))
	}

	for _, d := range before.descriptors {
		if c.keys.Compare(boundary, d.Lower) == 0 || (d.Upper != nil && c.keys.Compare(boundary, d.Upper) == 0) {
			return nil, errors.NewCatalogError(errors.CodeDuplicateBoundary, "boundary already exists")
		}
	}

	overflow := before.Overflow()
	if c.keys.Compare(boundary, overflow.Lower) < 0 {
		return nil, errors.NewCatalogError(errors.CodeNonMonotonicBoundary,
			"boundary must be strictly greater than every existing bound")
	}

	descs := make([]Descriptor, 0, len(before.descriptors)+1)
	descs = append(descs, before.Bounded()...)
	descs = append(descs,
		Descriptor{Name: name, Lower: overflow.Lower, Upper: boundary, RowCountEstimate: overflow.RowCountEstimate},
		Descriptor{Name: overflow.Name, Lower: boundary, Upper: nil},
	)

	after := c.publish(descs)
	return newChangeEvent(ChangeAddBoundary, name, before, after), nil
}

// Retire removes the named bounded partition entirely. Neighboring bounds
// are untouched: the resulting gap is permanent and routes to zero
// partitions, modeling permanently deleted historical data. The retired
// name is recorded and can never be reused.
func (c *Catalog) Retire(name string) (*ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.snap
	idx := -1
	for i, d := range before.descriptors {
		if d.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, errors.NewCatalogError(errors.CodePartitionNotFound, fmt.Sprintf("partition %q not found", name))
	}
	if before.descriptors[idx].IsOverflow() {
		return nil, errors.NewCatalogError(errors.CodeCannotRetireOverflow,
			fmt.Sprintf("partition %q is the overflow partition and cannot be retired", name))
	}

	descs := make([]Descriptor, 0, len(before.descriptors)-1)
	descs = append(descs, before.descriptors[:idx]...)
	descs = append(descs, before.descriptors[idx+1:]...)

	after := c.publish(descs)
	c.retired[name] = struct{}{}
	return newChangeEvent(ChangeRetire, name, before, after), nil
}

// UpdateEstimate refreshes the row-count estimate of the named partition.
// Estimates feed operator dashboards and do not affect routing.
func (c *Catalog) UpdateEstimate(name string, rows int64) (*ChangeEvent, error) {
	if rows < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidKey, "row-count estimate must be >= 0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.snap
	idx := -1
	for i, d := range before.descriptors {
		if d.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, errors.NewCatalogError(errors.CodePartitionNotFound, fmt.Sprintf("partition %q not found", name))
	}

	descs := make([]Descriptor, len(before.descriptors))
	copy(descs, before.descriptors)
	descs[idx].RowCountEstimate = rows

	after := c.publish(descs)
	return newChangeEvent(ChangeUpdateEstimate, name, before, after), nil
}

// publish swaps in a new snapshot. Must be called with the write lock held.
func (c *Catalog) publish(descs []Descriptor) *Snapshot {
	snap := &Snapshot{
		descriptors: descs,
		seq:         c.snap.seq + 1,
		fingerprint: fingerprintDescriptors(c.keys, descs),
	}
	c.snap = snap
	return snap
}
