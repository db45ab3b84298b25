// Package models contains shared data models used across the qualifier.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusPassed  = "passed"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
	RunStatusAborted = "aborted"
)

// Run records one iteration of the qualification loop. A run is passed or
// failed once a task finished, skipped when no task could be triggered, and
// aborted when an error stopped the loop.
type Run struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Iteration    int       `db:"iteration"     json:"iteration"`
	JobProfile   string    `db:"job_profile"   json:"job_profile"`
	Namespace    string    `db:"namespace"     json:"namespace"`
	Branch       string    `db:"branch"        json:"branch"`
	V4Version    string    `db:"v4_version"    json:"v4_version"`
	Package      string    `db:"package"       json:"package"`
	SDKVersion   string    `db:"sdk_version"   json:"sdk_version,omitempty"`
	TaskID       string    `db:"task_id"       json:"task_id,omitempty"`
	TaskLink     string    `db:"task_link"     json:"task_link,omitempty"`
	Status       string    `db:"status"        json:"status"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	WaitSeconds  int64     `db:"wait_seconds"  json:"wait_seconds"`
	StartedAt    time.Time `db:"started_at"    json:"started_at"`
	FinishedAt   time.Time `db:"finished_at"   json:"finished_at"`
}

// Passed reports whether the run qualified its SDK version.
func (r *Run) Passed() bool {
	return r.Status == RunStatusPassed
}
