package models

import (
	"encoding/json"
	"time"
)

// Snapshot is the staking statistics document persisted to the artifact file.
// Statistics are nullable so artifacts written with missing values still load.
type Snapshot struct {
	CalculatedAPRPercentage *float64 `json:"calculated_apr_percentage"`
	TotalStakedNIL          *float64 `json:"total_staked_nil"`
	ActiveValidatorCount    *int64   `json:"active_validator_count"`
	LastUpdatedUTC          string   `json:"last_updated_utc,omitempty"`
}

// NewSnapshot builds a snapshot with all statistics present.
func NewSnapshot(aprPercentage, totalStaked float64, validatorCount int64) *Snapshot {
	return &Snapshot{
		CalculatedAPRPercentage: &aprPercentage,
		TotalStakedNIL:          &totalStaked,
		ActiveValidatorCount:    &validatorCount,
	}
}

// Equal reports whether both snapshots carry the same statistics.
// LastUpdatedUTC is ignored.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return equalFloat(s.CalculatedAPRPercentage, other.CalculatedAPRPercentage) &&
		equalFloat(s.TotalStakedNIL, other.TotalStakedNIL) &&
		equalInt(s.ActiveValidatorCount, other.ActiveValidatorCount)
}

// Stamp sets LastUpdatedUTC from t.
func (s *Snapshot) Stamp(t time.Time) {
	s.LastUpdatedUTC = t.UTC().Format(time.RFC3339Nano)
}

// CanonicalJSON encodes the statistics without the timestamp. Two equal
// snapshots always produce the same bytes.
func (s *Snapshot) CanonicalJSON() ([]byte, error) {
	stripped := *s
	stripped.LastUpdatedUTC = ""
	return json.Marshal(&stripped)
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
