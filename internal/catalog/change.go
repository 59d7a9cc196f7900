package catalog

import "github.com/google/uuid"

// ChangeKind identifies the catalog mutation that produced a change event.
type ChangeKind string

const (
	// ChangeAddBoundary records an overflow split creating a bounded partition.
	ChangeAddBoundary ChangeKind = "add_boundary"

	// ChangeRetire records the removal of a bounded partition.
	ChangeRetire ChangeKind = "retire"

	// ChangeUpdateEstimate records a row-count estimate refresh.
	ChangeUpdateEstimate ChangeKind = "update_estimate"
)

// ChangeEvent describes one successful catalog mutation: the partition list
// before and after, plus the post-mutation fingerprint. The persistence
// collaborator applies these to the backing store as DDL; the catalog itself
// never issues SQL.
type ChangeEvent struct {
	ID          string
	Seq         uint64
	Kind        ChangeKind
	Partition   string
	Before      []Descriptor
	After       []Descriptor
	Fingerprint uint64
}

func newChangeEvent(kind ChangeKind, partition string, before, after *Snapshot) *ChangeEvent {
	return &ChangeEvent{
		ID:          uuid.New().String(),
		Seq:         after.seq,
		Kind:        kind,
		Partition:   partition,
		Before:      before.descriptors,
		After:       after.descriptors,
		Fingerprint: after.fingerprint,
	}
}
