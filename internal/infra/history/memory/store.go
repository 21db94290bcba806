// Package memory implements the job-history store in process memory. The
// sqlite and postgres stores embed it and add durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bdqcore/internal/infra/history/core"
)

// Store holds records behind a mutex. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	recs map[string]core.JobRecord
	// order preserves append sequence so FindByMessageID can pick the
	// newest record without trusting clocks.
	order []string
}

// NewStore returns an empty in-memory history store.
func NewStore() *Store {
	return &Store{recs: make(map[string]core.JobRecord)}
}

// Driver reports the backend identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Append adds a new record, stamping EnqueuedAt/UpdatedAt when unset.
func (s *Store) Append(_ context.Context, rec core.JobRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("history: record id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recs[rec.ID]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateID, rec.ID)
	}
	now := time.Now().UTC()
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.EnqueuedAt
	}
	s.recs[rec.ID] = rec.Clone()
	s.order = append(s.order, rec.ID)
	return nil
}

// Update mutates the record under the lock and restamps UpdatedAt.
func (s *Store) Update(_ context.Context, id string, mutate func(*core.JobRecord)) (core.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return core.JobRecord{}, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	dup := rec.Clone()
	mutate(&dup)
	dup.ID = rec.ID // the mutator cannot re-identify a record
	dup.UpdatedAt = time.Now().UTC()
	s.recs[id] = dup.Clone()
	return dup, nil
}

// Get returns a copy of the record.
func (s *Store) Get(_ context.Context, id string) (core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return core.JobRecord{}, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindByMessageID returns the newest record carrying the message ID.
func (s *Store) FindByMessageID(_ context.Context, messageID string) (core.JobRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec, ok := s.recs[s.order[i]]; ok && rec.MessageID == messageID {
			return rec.Clone(), true, nil
		}
	}
	return core.JobRecord{}, false, nil
}

// List returns all records, newest first.
func (s *Store) List(_ context.Context) ([]core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.JobRecord, 0, len(s.recs))
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec, ok := s.recs[s.order[i]]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Snapshot exports every record ordered by append sequence.
func (s *Store) Snapshot() []core.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.JobRecord, 0, len(s.recs))
	for _, id := range s.order {
		if rec, ok := s.recs[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Import replaces the store contents with recs, oldest first by EnqueuedAt.
func (s *Store) Import(recs []core.JobRecord) {
	sorted := make([]core.JobRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = make(map[string]core.JobRecord, len(sorted))
	s.order = s.order[:0]
	for _, rec := range sorted {
		if rec.ID == "" {
			continue
		}
		s.recs[rec.ID] = rec.Clone()
		s.order = append(s.order, rec.ID)
	}
}
