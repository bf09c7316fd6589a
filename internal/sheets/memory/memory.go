package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ledgerchat/internal/core"
	ports "ledgerchat/internal/sheets"
)

var _ ports.LedgerStore = (*Store)(nil)

// Store is an in-process ledger used for development and tests.
type Store struct {
	mu        sync.Mutex
	records   map[int64]core.ExpenseRecord
	highWater int64
}

func New() *Store {
	return &Store{records: make(map[int64]core.ExpenseRecord)}
}

// Snapshot returns the live records ordered by id.
func (s *Store) Snapshot(_ context.Context) (core.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ExpenseRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return core.LedgerSnapshot{Records: out, HighWater: s.highWater}, nil
}

// Append stores rec under rec.ID, or under the next free id when rec.ID is 0.
func (s *Store) Append(_ context.Context, rec core.ExpenseRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		rec.ID = s.highWater + 1
	}
	if rec.ID <= s.highWater {
		return 0, core.Conflict("append", fmt.Errorf("id %d already assigned", rec.ID))
	}
	s.records[rec.ID] = rec
	s.highWater = rec.ID
	return rec.ID, nil
}

func (s *Store) Update(_ context.Context, id int64, patch core.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return core.RecordNotFound(id)
	}
	s.records[id] = patch.Apply(r)
	return nil
}

// Remove deletes the record and leaves its id as a gap.
func (s *Store) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return core.RecordNotFound(id)
	}
	delete(s.records, id)
	return nil
}

// InsertAt puts rec back at exactly id.
func (s *Store) InsertAt(_ context.Context, id int64, rec core.ExpenseRecord) error {
	if id <= 0 {
		return fmt.Errorf("invalid id %d", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return core.Conflict("insert", fmt.Errorf("id %d is live", id))
	}
	rec.ID = id
	s.records[id] = rec
	if id > s.highWater {
		s.highWater = id
	}
	return nil
}
