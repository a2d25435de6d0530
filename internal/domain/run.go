package domain

import (
	"time"
)

// RunStatus is the lifecycle state of a run. Transitions only move forward:
// queued → running → success/partial/error.
type RunStatus string

const (
	// RunStatusQueued means the job is enqueued but no worker has started it.
	RunStatusQueued RunStatus = "queued"
	// RunStatusRunning means a worker is executing the scrape.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess means the run finished with no item failures.
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial means the run finished but some items failed, or it
	// was cancelled cooperatively (metadata carries cancelled=true).
	RunStatusPartial RunStatus = "partial"
	// RunStatusError means the run failed before producing any events.
	RunStatusError RunStatus = "error"
)

// Terminal reports whether s is a finished state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusError
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusSuccess, RunStatusPartial, RunStatusError:
		return true
	}
	return false
}

// Metadata keys used on runs.
const (
	// RunMetaJobID stores the queue job id that executes this run.
	RunMetaJobID = "job_id"
	// RunMetaCancelled marks a run finalized after cooperative cancellation.
	RunMetaCancelled = "cancelled"
	// RunMetaBatch carries batch context on Instagram parent runs.
	RunMetaBatch = "batch"
)

// Run records a single scraper invocation against one source, or a parent
// aggregating a batch of children.
type Run struct {
	ID       string    `db:"id"        json:"id"`
	SourceID string    `db:"source_id" json:"source_id"`
	Status   RunStatus `db:"status"    json:"status"`

	StartedAt  *time.Time `db:"started_at"  json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`

	PagesCrawled int          `db:"pages_crawled" json:"pages_crawled"`
	EventsFound  int          `db:"events_found"  json:"events_found"`
	Errors       RunErrorList `db:"errors"        json:"errors,omitempty"`

	ParentRunID *string  `db:"parent_run_id" json:"parent_run_id,omitempty"`
	Metadata    JSONBMap `db:"metadata"      json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// JobID returns the queue job id recorded in metadata, if any.
func (r *Run) JobID() (string, bool) {
	if r.Metadata == nil {
		return "", false
	}
	return r.Metadata.GetString(RunMetaJobID)
}

// Cancelled reports whether this run was finalized by a cancellation.
func (r *Run) Cancelled() bool {
	if r.Metadata == nil {
		return false
	}
	v, ok := r.Metadata[RunMetaCancelled].(bool)
	return ok && v
}
