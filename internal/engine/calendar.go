package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgerchat/internal/calendar"
	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
)

// Calendar is the event state machine. It shares the undo ring with the
// ledger, so UNDO reverts the newest mutation of either kind.
type Calendar struct {
	store calendar.EventStore
	now   func() time.Time
}

func NewCalendar(store calendar.EventStore) *Calendar {
	return &Calendar{store: store, now: time.Now}
}

// List returns the events overlapping r.
func (c *Calendar) List(ctx context.Context, r core.TimeRange) ([]core.CalendarEvent, error) {
	events, err := c.store.List(ctx, r)
	if err != nil {
		return nil, core.Unavailable("list events", err)
	}
	return events, nil
}

// Create stores ev and returns it with the backend id set.
func (c *Calendar) Create(ctx context.Context, ev core.CalendarEvent, ring *Ring) (core.CalendarEvent, error) {
	if err := ev.Validate(); err != nil {
		return core.CalendarEvent{}, &core.ResolutionError{Kind: core.KindInvalidInput, Err: err}
	}
	id, err := c.store.Create(ctx, ev)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create event", "title", ev.Title, log.FieldError, err)
		return core.CalendarEvent{}, core.Unavailable("create event", err)
	}
	ev.ID = id

	ring.Push(core.UndoEntry{
		Kind:        core.UndoDeleteEvent,
		EventID:     id,
		Event:       ev,
		Description: "scheduled " + ev.Title,
		At:          c.now(),
	})
	slog.InfoContext(ctx, "Event created", log.FieldEventID, id, "start", ev.Start)
	return ev, nil
}

// Edit patches event id and returns it before and after.
func (c *Calendar) Edit(ctx context.Context, id string, patch core.EventPatch, ring *Ring) (before, after core.CalendarEvent, err error) {
	before, err = c.store.Get(ctx, id)
	if err != nil {
		return before, after, storeErr("get event", err)
	}
	after = patch.Apply(before)
	if err := after.Validate(); err != nil {
		return before, after, &core.ResolutionError{Kind: core.KindInvalidInput, Err: err}
	}

	if err := c.store.Update(ctx, id, patch); err != nil {
		slog.ErrorContext(ctx, "Failed to update event", log.FieldEventID, id, log.FieldError, err)
		return before, after, storeErr("update event", err)
	}

	ring.Push(core.UndoEntry{
		Kind:        core.UndoRestoreEvent,
		EventID:     id,
		EventPatch:  patch.Capture(before),
		Description: "changed " + before.Title,
		At:          c.now(),
	})
	slog.InfoContext(ctx, "Event updated", log.FieldEventID, id)
	return before, after, nil
}

// Delete removes event id and returns what was removed.
func (c *Calendar) Delete(ctx context.Context, id string, ring *Ring) (core.CalendarEvent, error) {
	ev, err := c.store.Get(ctx, id)
	if err != nil {
		return core.CalendarEvent{}, storeErr("get event", err)
	}
	if err := c.store.Delete(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to delete event", log.FieldEventID, id, log.FieldError, err)
		return core.CalendarEvent{}, storeErr("delete event", err)
	}

	ring.Push(core.UndoEntry{
		Kind:        core.UndoCreateEvent,
		EventID:     id,
		Event:       ev,
		Description: "cancelled " + ev.Title,
		At:          c.now(),
	})
	slog.InfoContext(ctx, "Event deleted", log.FieldEventID, id)
	return ev, nil
}

func (c *Calendar) undo(ctx context.Context, e core.UndoEntry) error {
	switch e.Kind {
	case core.UndoDeleteEvent:
		if err := c.store.Delete(ctx, e.EventID); err != nil {
			return storeErr("delete event", err)
		}
	case core.UndoRestoreEvent:
		if err := c.store.Update(ctx, e.EventID, e.EventPatch); err != nil {
			return storeErr("update event", err)
		}
	case core.UndoCreateEvent:
		// the backend assigns a fresh id
		if _, err := c.store.Create(ctx, e.Event); err != nil {
			return core.Unavailable("create event", err)
		}
	default:
		return fmt.Errorf("calendar cannot undo %q", e.Kind)
	}
	return nil
}
