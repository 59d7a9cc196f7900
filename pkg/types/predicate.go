package types

// PredicateKind distinguishes point lookups from range scans.
type PredicateKind string

const (
	// KindPoint matches a single partition key value.
	KindPoint PredicateKind = "point"

	// KindRange matches the inclusive interval [Lower, Upper].
	KindRange PredicateKind = "range"
)

// Predicate is a caller-supplied query predicate over the partition key.
// For KindPoint only Key is set. For KindRange, Lower and Upper bound the
// interval inclusively on both ends; a nil Lower or Upper means unbounded
// (negative or positive infinity respectively).
type Predicate struct {
	Kind  PredicateKind
	Key   KeyValue
	Lower KeyValue
	Upper KeyValue
}

// Point builds a point predicate for a single key.
func Point(key KeyValue) Predicate {
	return Predicate{Kind: KindPoint, Key: key}
}

// Range builds an inclusive range predicate. Pass nil for an unbounded end.
func Range(lower, upper KeyValue) Predicate {
	return Predicate{Kind: KindRange, Lower: lower, Upper: upper}
}
