package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ledgerchat/internal/calendar"
	"ledgerchat/internal/core"
)

var _ calendar.EventStore = (*Store)(nil)

// Store keeps events in process. Ids are "evt-1", "evt-2", ... and are not
// reused.
type Store struct {
	mu     sync.Mutex
	seq    int
	events map[string]core.CalendarEvent
}

func New() *Store {
	return &Store{events: make(map[string]core.CalendarEvent)}
}

func (s *Store) List(_ context.Context, r core.TimeRange) ([]core.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CalendarEvent
	for _, ev := range s.events {
		if calendar.Overlaps(ev, r) {
			out = append(out, clone(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (core.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return core.CalendarEvent{}, core.EventNotFound(id)
	}
	return clone(ev), nil
}

func (s *Store) Create(_ context.Context, ev core.CalendarEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.ID = fmt.Sprintf("evt-%d", s.seq)
	s.events[ev.ID] = clone(ev)
	return ev.ID, nil
}

func (s *Store) Update(_ context.Context, id string, patch core.EventPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return core.EventNotFound(id)
	}
	updated := patch.Apply(ev)
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	s.events[id] = updated
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return core.EventNotFound(id)
	}
	delete(s.events, id)
	return nil
}

func clone(ev core.CalendarEvent) core.CalendarEvent {
	ev.Attendees = append([]string(nil), ev.Attendees...)
	return ev
}
