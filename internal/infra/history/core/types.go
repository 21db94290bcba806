// Package core defines the job-history record model and store contract. The
// service consults history to make at-least-once work-item delivery
// effectively once per message.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a concrete history backend.
type Driver string

const (
	// DriverMemory keeps records in process memory (tests / ephemeral).
	DriverMemory Driver = "memory"
	// DriverSQLite snapshots records to an embedded sqlite file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres snapshots records to a PostgreSQL server.
	DriverPostgres Driver = "postgres"
)

// Status is the lifecycle stage of a processed work item.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool { return s == StatusSucceeded || s == StatusFailed }

// JobRecord tracks one work item through the pipeline.
type JobRecord struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	From      string `json:"from,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Status    Status `json:"status"`

	// ErrorKind and Error describe a failed run in the job error taxonomy.
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	// Artifacts maps artifact names (raw_results.csv, amended_dataset.csv,
	// digest.json) to store keys.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	Rows         int      `json:"rows,omitempty"`
	PlannedTests int      `json:"planned_tests,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`

	EnqueuedAt time.Time  `json:"enqueued_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely.
func (r JobRecord) Clone() JobRecord {
	dup := r
	if r.Artifacts != nil {
		dup.Artifacts = make(map[string]string, len(r.Artifacts))
		for k, v := range r.Artifacts {
			dup.Artifacts[k] = v
		}
	}
	if r.Warnings != nil {
		dup.Warnings = append([]string(nil), r.Warnings...)
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		dup.FinishedAt = &t
	}
	return dup
}

// Store records job lifecycles. Implementations are safe for concurrent use
// and return copies, never internal state.
type Store interface {
	// Append adds a new record. The ID must be unique.
	Append(ctx context.Context, rec JobRecord) error
	// Update applies mutate to the record under the store lock and returns
	// the updated copy. UpdatedAt is stamped by the store.
	Update(ctx context.Context, id string, mutate func(*JobRecord)) (JobRecord, error)
	// Get returns the record by ID; misses wrap ErrNotFound.
	Get(ctx context.Context, id string) (JobRecord, error)
	// FindByMessageID returns the most recently appended record for the
	// message, if any.
	FindByMessageID(ctx context.Context, messageID string) (JobRecord, bool, error)
	// List returns all records, newest first.
	List(ctx context.Context) ([]JobRecord, error)
	// Driver reports the backend identifier.
	Driver() Driver
}

// ErrNotFound is wrapped by Get misses.
var ErrNotFound = errors.New("history: record not found")

// ErrDuplicateID is returned when Append sees an existing record ID.
var ErrDuplicateID = errors.New("history: duplicate record id")
