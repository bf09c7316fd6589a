package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ledgerchat/internal/core"

	gcal "google.golang.org/api/calendar/v3"
	goption "google.golang.org/api/option"
)

// fakeCalendar serves the subset of the Events API the client uses.
type fakeCalendar struct {
	mu     sync.Mutex
	seq    int
	events map[string]*gcal.Event
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/calendar/v3")
	const prefix = "/calendars/primary/events"
	if !strings.HasPrefix(path, prefix) {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")

	notFound := func() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
	}

	switch {
	case id == "" && r.Method == http.MethodGet:
		minT, _ := time.Parse(time.RFC3339, r.URL.Query().Get("timeMin"))
		maxT, _ := time.Parse(time.RFC3339, r.URL.Query().Get("timeMax"))
		var items []*gcal.Event
		for _, ev := range f.events {
			s, _ := time.Parse(time.RFC3339, ev.Start.DateTime)
			e, _ := time.Parse(time.RFC3339, ev.End.DateTime)
			if s.Before(maxT) && e.After(minT) {
				items = append(items, ev)
			}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Start.DateTime < items[j].Start.DateTime })
		_ = json.NewEncoder(w).Encode(&gcal.Events{Items: items})
	case id == "" && r.Method == http.MethodPost:
		var ev gcal.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		f.seq++
		ev.Id = fmt.Sprintf("g%d", f.seq)
		f.events[ev.Id] = &ev
		_ = json.NewEncoder(w).Encode(&ev)
	case r.Method == http.MethodGet:
		ev, ok := f.events[id]
		if !ok {
			notFound()
			return
		}
		_ = json.NewEncoder(w).Encode(ev)
	case r.Method == http.MethodPatch:
		ev, ok := f.events[id]
		if !ok {
			notFound()
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var patch gcal.Event
		_ = json.Unmarshal(raw, &patch)
		var keys map[string]json.RawMessage
		_ = json.Unmarshal(raw, &keys)
		if patch.Summary != "" {
			ev.Summary = patch.Summary
		}
		if patch.Start != nil {
			ev.Start = patch.Start
		}
		if patch.End != nil {
			ev.End = patch.End
		}
		if _, ok := keys["attendees"]; ok {
			ev.Attendees = patch.Attendees
		}
		if _, ok := keys["description"]; ok {
			ev.Description = patch.Description
		}
		_ = json.NewEncoder(w).Encode(ev)
	case r.Method == http.MethodDelete:
		if _, ok := f.events[id]; !ok {
			notFound()
			return
		}
		delete(f.events, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeCalendar) {
	t.Helper()
	f := &fakeCalendar{events: map[string]*gcal.Event{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := gcal.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewWithService(svc, "primary", time.UTC), f
}

func at(day, hour int) time.Time {
	return time.Date(2026, 1, day, hour, 0, 0, 0, time.UTC)
}

func TestClientCreateAndList(t *testing.T) {
	ctx := context.Background()
	c, f := newTestClient(t)

	id, err := c.Create(ctx, core.CalendarEvent{
		Title:     "Meeting with John",
		Start:     at(5, 14),
		End:       at(5, 15),
		Attendees: []string{"John", "ann@example.com"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored := f.events[id]
	if len(stored.Attendees) != 1 || stored.Attendees[0].Email != "ann@example.com" {
		t.Fatalf("email attendees must be API attendees: %+v", stored.Attendees)
	}
	if stored.Description != "Attendees: John" {
		t.Fatalf("named attendees must go to the description, got %q", stored.Description)
	}

	events, err := c.List(ctx, core.TimeRange{Start: at(1, 0), End: at(10, 0)})
	if err != nil || len(events) != 1 {
		t.Fatalf("list: %+v err=%v", events, err)
	}
	ev := events[0]
	if ev.ID != id || ev.Title != "Meeting with John" || !ev.Start.Equal(at(5, 14)) || !ev.End.Equal(at(5, 15)) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.Attendees) != 2 {
		t.Fatalf("expected both attendees back, got %v", ev.Attendees)
	}

	none, _ := c.List(ctx, core.TimeRange{Start: at(6, 0), End: at(7, 0)})
	if len(none) != 0 {
		t.Fatalf("expected no events outside range, got %+v", none)
	}
}

func TestClientUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	id, _ := c.Create(ctx, core.CalendarEvent{Title: "Sync", Start: at(5, 14), End: at(5, 15)})

	start, end := at(6, 16), at(6, 17)
	if err := c.Update(ctx, id, core.EventPatch{Start: &start, End: &end}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev, err := c.Get(ctx, id)
	if err != nil || !ev.Start.Equal(start) || ev.Title != "Sync" {
		t.Fatalf("unexpected event after patch: %+v err=%v", ev, err)
	}

	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, id); !errors.Is(err, &core.EngineError{Kind: core.KindNotFound}) {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
	if err := c.Delete(ctx, id); !errors.Is(err, &core.EngineError{Kind: core.KindNotFound}) {
		t.Fatalf("expected NOT_FOUND deleting twice, got %v", err)
	}
}

func TestClientUpdateKeepsDescription(t *testing.T) {
	ctx := context.Background()
	c, f := newTestClient(t)
	id, _ := c.Create(ctx, core.CalendarEvent{
		Title: "Review", Start: at(5, 9), End: at(5, 10), Attendees: []string{"John"},
	})
	f.events[id].Description = "Room 4B\nAttendees: John\nbring the draft"

	attendees := []string{"Mary", "ann@example.com"}
	if err := c.Update(ctx, id, core.EventPatch{Attendees: &attendees}); err != nil {
		t.Fatalf("update: %v", err)
	}
	want := "Room 4B\nbring the draft\nAttendees: Mary"
	if got := f.events[id].Description; got != want {
		t.Fatalf("description = %q, want %q", got, want)
	}

	none := []string{}
	if err := c.Update(ctx, id, core.EventPatch{Attendees: &none}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.events[id].Description; got != "Room 4B\nbring the draft" {
		t.Fatalf("description = %q after clearing attendees", got)
	}
	ev, _ := c.Get(ctx, id)
	if len(ev.Attendees) != 0 {
		t.Fatalf("attendees not cleared: %v", ev.Attendees)
	}
}

func TestParseAllDayEvent(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Rome")
	c := NewWithService(nil, "primary", loc)
	ev, err := c.fromAPI(&gcal.Event{
		Id:      "x",
		Summary: "Holiday",
		Start:   &gcal.EventDateTime{Date: "2026-01-06"},
		End:     &gcal.EventDateTime{Date: "2026-01-07"},
	})
	if err != nil {
		t.Fatalf("fromAPI: %v", err)
	}
	if ev.Start.Hour() != 0 || ev.Start.Location() != loc || ev.End.Sub(ev.Start) != 24*time.Hour {
		t.Fatalf("unexpected all-day bounds: %v - %v", ev.Start, ev.End)
	}
}
