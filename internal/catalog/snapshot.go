package catalog

import (
	"github.com/spaolacci/murmur3"

	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// Descriptor describes one partition: a contiguous sub-range of the key
// space. Lower is inclusive; Upper is exclusive. The overflow partition has
// a nil Upper and captures all keys at or beyond the highest boundary.
type Descriptor struct {
	Name             string
	Lower            types.KeyValue
	Upper            types.KeyValue
	RowCountEstimate int64
}

// IsOverflow reports whether this is the unbounded trailing partition.
func (d Descriptor) IsOverflow() bool {
	return d.Upper == nil
}

// Snapshot is an immutable point-in-time view of the catalog. Snapshots are
// published atomically by the catalog; readers never observe a partially
// applied mutation. The descriptor slice is never mutated after publish.
type Snapshot struct {
	descriptors []Descriptor
	seq         uint64
	fingerprint uint64
}

// Descriptors returns the partitions in ascending boundary order, the
// overflow partition last. Callers must not modify the returned slice.
func (s *Snapshot) Descriptors() []Descriptor {
	return s.descriptors
}

// Len returns the number of partitions, including the overflow partition.
func (s *Snapshot) Len() int {
	return len(s.descriptors)
}

// Overflow returns the trailing unbounded partition.
func (s *Snapshot) Overflow() Descriptor {
	return s.descriptors[len(s.descriptors)-1]
}

// Bounded returns the bounded partitions (everything but the overflow).
func (s *Snapshot) Bounded() []Descriptor {
	return s.descriptors[:len(s.descriptors)-1]
}

// Seq is the catalog mutation sequence number this snapshot was published at.
func (s *Snapshot) Seq() uint64 {
	return s.seq
}

// Fingerprint is a 64-bit hash of the ordered name/boundary structure.
// Two snapshots with the same fingerprint describe the same partition layout
// (row-count estimates are excluded). Used for manifest drift detection.
func (s *Snapshot) Fingerprint() uint64 {
	return s.fingerprint
}

// Lookup returns the descriptor with the given name.
func (s *Snapshot) Lookup(name string) (Descriptor, bool) {
	for _, d := range s.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// fingerprintDescriptors hashes the ordered name/boundary pairs. Bounds must
// already be validated to encode cleanly; encoding failures are impossible
// for descriptors accepted into a catalog.
func fingerprintDescriptors(keys types.KeySpace, descs []Descriptor) uint64 {
	h := murmur3.New64()
	for _, d := range descs {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
		h.Write([]byte(encodeBound(keys, d.Lower)))
		h.Write([]byte{0})
		h.Write([]byte(encodeBound(keys, d.Upper)))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func encodeBound(keys types.KeySpace, k types.KeyValue) string {
	if k == nil {
		return ""
	}
	s, err := keys.Encode(k)
	if err != nil {
		// Bounds are Encode-validated before entering the catalog.
		panic("catalog: unencodable bound in validated descriptor: " + err.Error())
	}
	return s
}
