// Package sqlite persists job history to an embedded SQLite file. Records
// live in memory for reads; every mutation snapshots the full set to a
// single-bucket state table as a JSON blob.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"bdqcore/internal/infra/history/core"
	"bdqcore/internal/infra/history/memory"
)

const jobsBucket = "jobs"

// Store wraps the in-memory store with a snapshotting SQLite file.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the history database at path and hydrates the
// in-memory store from any existing snapshot. An empty path defaults to
// ./bdqcore.db.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "bdqcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Driver reports the backend identifier.
func (s *Store) Driver() core.Driver { return core.DriverSQLite }

func (s *Store) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, jobsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
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
		`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
		jobsBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", jobsBucket, err)
	}
	return nil
}

// Append adds the record and snapshots to disk.
func (s *Store) Append(ctx context.Context, rec core.JobRecord) error {
	if err := s.Store.Append(ctx, rec); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Update mutates the record and snapshots to disk.
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
