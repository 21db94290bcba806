// Package history re-exports the job-history abstractions and picks a
// backend from the environment.
package history

import (
	"context"
	"fmt"
	"os"

	"bdqcore/internal/infra/history/core"
	"bdqcore/internal/infra/history/memory"
	"bdqcore/internal/infra/history/postgres"
	"bdqcore/internal/infra/history/sqlite"
)

type (
	// Driver identifies a history backend driver.
	Driver = core.Driver
	// Status is a job lifecycle stage.
	Status = core.Status
	// JobRecord tracks one work item through the pipeline.
	JobRecord = core.JobRecord
	// Store is the interface every history backend implements.
	Store = core.Store
)

const (
	// DriverMemory is the in-memory backend.
	DriverMemory = core.DriverMemory
	// DriverSQLite is the embedded sqlite backend.
	DriverSQLite = core.DriverSQLite
	// DriverPostgres is the PostgreSQL backend.
	DriverPostgres = core.DriverPostgres

	// StatusQueued marks an accepted, not yet running job.
	StatusQueued = core.StatusQueued
	// StatusRunning marks a job mid-flight.
	StatusRunning = core.StatusRunning
	// StatusSucceeded marks a job whose artifacts exist.
	StatusSucceeded = core.StatusSucceeded
	// StatusFailed marks a job that surfaced a fatal error.
	StatusFailed = core.StatusFailed
)

// ErrNotFound is wrapped by Get misses.
var ErrNotFound = core.ErrNotFound

// ErrDuplicateID is returned for Append collisions.
var ErrDuplicateID = core.ErrDuplicateID

// Open selects a Store implementation using environment variables.
// Defaults to memory when unset.
//
//	BDQCORE_HISTORY_DRIVER: memory|sqlite|postgres (default memory)
//	BDQCORE_SQLITE_PATH: path to sqlite file (default ./bdqcore.db)
//	BDQCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("BDQCORE_HISTORY_DRIVER")
	if driver == "" {
		driver = string(DriverMemory)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, os.Getenv("BDQCORE_SQLITE_PATH"))
	case DriverPostgres:
		return postgres.NewStore(ctx, os.Getenv("BDQCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown history driver %s", driver)
	}
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memory.NewStore() }
