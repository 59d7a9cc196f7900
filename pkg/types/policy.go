package types

import "fmt"

// RetentionPolicy describes how many trailing periods of history to keep.
// It is a pure configuration value; the lifecycle manager computes the
// cutoff as now minus Horizon periods of Unit.
type RetentionPolicy struct {
	// Horizon is the number of trailing units to keep. Must be > 0.
	Horizon int `json:"horizon" yaml:"horizon"`

	// Unit is the period unit of the horizon.
	Unit PeriodUnit `json:"unit" yaml:"unit"`
}

// Validate checks the policy for caller misuse.
func (p RetentionPolicy) Validate() error {
	if p.Horizon <= 0 {
		return fmt.Errorf("types: retention horizon must be > 0, got %d", p.Horizon)
	}
	if !p.Unit.Valid() {
		return fmt.Errorf("types: unsupported retention unit %q", p.Unit)
	}
	return nil
}
