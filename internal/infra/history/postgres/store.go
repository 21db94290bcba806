// Package postgres persists job history to a PostgreSQL server using the
// same snapshot scheme as the sqlite store, with a JSONB payload column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"bdqcore/internal/infra/history/core"
	"bdqcore/internal/infra/history/memory"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/bdqcore?sslmode=disable"
	jobsBucket    = "jobs"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store wraps the in-memory store with a snapshotting Postgres connection.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot table exists, and hydrates from any
// existing snapshot.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Driver reports the backend identifier.
func (s *Store) Driver() core.Driver { return core.DriverPostgres }

func (s *Store) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, jobsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	var recs []core.JobRecord
	if err := json.Unmarshal(payload, &recs); err != nil {
		return fmt.Errorf("decode %s: %w", jobsBucket, err)
	}
	s.Import(recs)
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
		jobsBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", jobsBucket, err)
	}
	return nil
}

// Append adds the record and snapshots to Postgres.
func (s *Store) Append(ctx context.Context, rec core.JobRecord) error {
	if err := s.Store.Append(ctx, rec); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Update mutates the record and snapshots to Postgres.
func (s *Store) Update(ctx context.Context, id string, mutate func(*core.JobRecord)) (core.JobRecord, error) {
	rec, err := s.Store.Update(ctx, id, mutate)
	if err != nil {
		return rec, err
	}
	if err := s.persist(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
