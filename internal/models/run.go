package models

import (
	"fmt"
	"time"
)

// Trigger identifies what started a refresh run
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

// ParseTrigger validates a trigger name
func ParseTrigger(value string) (Trigger, error) {
	switch Trigger(value) {
	case TriggerManual, TriggerSchedule:
		return Trigger(value), nil
	default:
		return "", fmt.Errorf("unknown trigger %q", value)
	}
}

// Run statuses
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunRecord describes the outcome of one refresh run
type RunRecord struct {
	ID           string    `json:"id" db:"id"`
	Trigger      Trigger   `json:"trigger" db:"trigger"`
	Status       string    `json:"status" db:"status"`
	Changed      bool      `json:"changed" db:"changed"`
	Committed    bool      `json:"committed" db:"committed"`
	CommitHash   string    `json:"commit_hash,omitempty" db:"commit_hash"`
	SnapshotHash string    `json:"snapshot_hash,omitempty" db:"snapshot_hash"`
	Snapshot     *Snapshot `json:"snapshot,omitempty" db:"snapshot"`
	Error        string    `json:"error,omitempty" db:"error"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	FinishedAt   time.Time `json:"finished_at" db:"finished_at"`
	DurationMs   int64     `json:"duration_ms" db:"duration_ms"`
}

// Succeeded reports whether the run completed without error
func (r *RunRecord) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

// Finish closes the record with the given error (nil for success).
func (r *RunRecord) Finish(finishedAt time.Time, err error) {
	r.FinishedAt = finishedAt
	r.DurationMs = finishedAt.Sub(r.StartedAt).Milliseconds()
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = RunStatusSucceeded
}

// RunFilter for querying run history
type RunFilter struct {
	Trigger *Trigger `json:"trigger,omitempty"`
	Status  *string  `json:"status,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}
