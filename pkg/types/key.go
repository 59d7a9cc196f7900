// Package types provides the shared key, predicate, and policy types used
// across the Rangekeeper system.
package types

import (
	"fmt"
	"time"
)

// KeyValue is an opaque partition key value. The core never inspects key
// values directly; all ordering and period arithmetic goes through a KeySpace.
type KeyValue interface{}

// PeriodUnit is the granularity of partition periods and retention horizons.
type PeriodUnit string

const (
	// UnitDay partitions and retains by calendar day.
	UnitDay PeriodUnit = "day"

	// UnitMonth partitions and retains by calendar month.
	UnitMonth PeriodUnit = "month"
)

// Valid reports whether the unit is a known period unit.
func (u PeriodUnit) Valid() bool {
	return u == UnitDay || u == UnitMonth
}

// KeySpace supplies ordering and period arithmetic for partition keys.
// The catalog, router, and lifecycle manager are generic over any KeySpace;
// they never read the clock or compare key values themselves.
type KeySpace interface {
	// Compare returns -1, 0, or 1 if a is less than, equal to, or greater
	// than b.
	Compare(a, b KeyValue) int

	// Add returns k advanced by n periods of the given unit. n may be
	// negative for retention-cutoff arithmetic.
	Add(k KeyValue, n int, unit PeriodUnit) KeyValue

	// PartitionName derives the canonical partition name for the period
	// starting at k (e.g. "p_2023_07" for a monthly period).
	PartitionName(k KeyValue, unit PeriodUnit) string

	// Encode serializes a key value for persistence.
	Encode(k KeyValue) (string, error)

	// Decode parses a key value previously produced by Encode.
	Decode(s string) (KeyValue, error)
}

// TimeKeySpace implements KeySpace over UTC time.Time keys with calendar
// day/month periods. This is the key space behind date-partitioned tables.
type TimeKeySpace struct{}

// NewTimeKeySpace creates a time-based key space.
func NewTimeKeySpace() TimeKeySpace {
	return TimeKeySpace{}
}

// Compare orders two time keys chronologically.
func (TimeKeySpace) Compare(a, b KeyValue) int {
	ta := mustTime(a)
	tb := mustTime(b)
	switch {
	case ta.Before(tb):
		return -1
	case ta.After(tb):
		return 1
	default:
		return 0
	}
}

// Add advances k by n calendar periods.
func (TimeKeySpace) Add(k KeyValue, n int, unit PeriodUnit) KeyValue {
	t := mustTime(k)
	if unit == UnitMonth {
		return t.AddDate(0, n, 0)
	}
	return t.AddDate(0, 0, n)
}

// PartitionName formats the period start as a partition name:
// "p_2023_07" for monthly periods, "p_2023_07_15" for daily periods.
func (TimeKeySpace) PartitionName(k KeyValue, unit PeriodUnit) string {
	t := mustTime(k)
	if unit == UnitMonth {
		return t.Format("p_2006_01")
	}
	return t.Format("p_2006_01_02")
}

// Encode serializes a time key as RFC 3339.
func (TimeKeySpace) Encode(k KeyValue) (string, error) {
	t, ok := k.(time.Time)
	if !ok {
		return "", fmt.Errorf("types: expected time.Time key, got %T", k)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// Decode parses an RFC 3339 time key. Bare dates ("2023-07-01") are also
// accepted since date-partition boundaries are commonly written that way.
func (TimeKeySpace) Decode(s string) (KeyValue, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("types: invalid time key %q: %w", s, err)
	}
	return t.UTC(), nil
}

// TruncatePeriod returns the start of the period containing t. Schedulers use
// this to derive currentPeriodStart from wall-clock time before calling into
// the core.
func (TimeKeySpace) TruncatePeriod(t time.Time, unit PeriodUnit) time.Time {
	t = t.UTC()
	if unit == UnitMonth {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mustTime(k KeyValue) time.Time {
	t, ok := k.(time.Time)
	if !ok {
		panic(fmt.Sprintf("types: expected time.Time key, got %T", k))
	}
	return t.UTC()
}
