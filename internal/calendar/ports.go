package calendar

import (
	"context"
	"time"

	"ledgerchat/internal/core"
)

// Ports for outbound calendar adapters.
type (
	EventReader interface {
		// List returns events overlapping r, ordered by start time.
		List(ctx context.Context, r core.TimeRange) ([]core.CalendarEvent, error)
		Get(ctx context.Context, id string) (core.CalendarEvent, error)
	}

	EventWriter interface {
		// Create stores ev and returns the id the backend assigned.
		Create(ctx context.Context, ev core.CalendarEvent) (string, error)
		Update(ctx context.Context, id string, patch core.EventPatch) error
		Delete(ctx context.Context, id string) error
	}

	EventStore interface {
		EventReader
		EventWriter
	}
)

// Overlaps reports whether ev intersects r.
func Overlaps(ev core.CalendarEvent, r core.TimeRange) bool {
	end := ev.End
	if end.IsZero() {
		end = ev.Start.Add(time.Nanosecond)
	}
	return ev.Start.Before(r.End) && end.After(r.Start)
}
