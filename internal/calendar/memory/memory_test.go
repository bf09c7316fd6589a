package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgerchat/internal/core"
)

func at(day, hour int) time.Time {
	return time.Date(2026, 1, day, hour, 0, 0, 0, time.UTC)
}

func TestStoreCreateListDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	id1, err := s.Create(ctx, core.CalendarEvent{Title: "Standup", Start: at(5, 9), End: at(5, 10)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, _ := s.Create(ctx, core.CalendarEvent{Title: "Dentist", Start: at(3, 14), End: at(3, 15)})
	if id1 == id2 {
		t.Fatalf("ids must differ")
	}

	got, err := s.List(ctx, core.TimeRange{Start: at(1, 0), End: at(10, 0)})
	if err != nil || len(got) != 2 || got[0].ID != id2 {
		t.Fatalf("expected both events ordered by start, got %+v err=%v", got, err)
	}
	got, _ = s.List(ctx, core.TimeRange{Start: at(4, 0), End: at(10, 0)})
	if len(got) != 1 || got[0].Title != "Standup" {
		t.Fatalf("range filter failed: %+v", got)
	}

	if err := s.Delete(ctx, id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, id1); !errors.Is(err, &core.EngineError{Kind: core.KindNotFound}) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	id3, _ := s.Create(ctx, core.CalendarEvent{Title: "Standup", Start: at(5, 9), End: at(5, 10)})
	if id3 == id1 {
		t.Fatalf("deleted id reused")
	}
}

func TestStoreUpdateValidates(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, _ := s.Create(ctx, core.CalendarEvent{Title: "Sync", Start: at(5, 14), End: at(5, 15)})

	start, end := at(6, 16), at(6, 17)
	if err := s.Update(ctx, id, core.EventPatch{Start: &start, End: &end}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev, _ := s.Get(ctx, id)
	if !ev.Start.Equal(start) || ev.Title != "Sync" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	bad := at(6, 15)
	if err := s.Update(ctx, id, core.EventPatch{End: &bad}); !errors.Is(err, core.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}
