package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ledgerchat/internal/calendar"
	"ledgerchat/internal/core"
	"ledgerchat/internal/googleauth"
	"ledgerchat/internal/log"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
)

// attendeesPrefix marks the description line holding attendees that are
// not email addresses.
const attendeesPrefix = "Attendees: "

// Client is a Google Calendar event store for one calendar.
type Client struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
}

var _ calendar.EventStore = (*Client)(nil)

type Options struct {
	CalendarID    string
	Location      *time.Location
	Credentials   googleauth.Credentials
	ClientOptions []goption.ClientOption
}

// New creates a Calendar client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.CalendarID) == "" {
		return nil, errors.New("missing GOOGLE_CALENDAR_ID")
	}
	copts, err := googleauth.ClientOptions(ctx, opts.Credentials, []string{gcal.CalendarEventsScope}, opts.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	svc, err := gcal.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	slog.InfoContext(ctx, "Google Calendar service created", "calendar_id", opts.CalendarID)
	return NewWithService(svc, opts.CalendarID, opts.Location), nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *gcal.Service, calendarID string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{svc: svc, calendarID: calendarID, loc: loc}
}

func (c *Client) List(ctx context.Context, r core.TimeRange) ([]core.CalendarEvent, error) {
	var out []core.CalendarEvent
	call := c.svc.Events.List(c.calendarID).
		TimeMin(r.Start.Format(time.RFC3339)).
		TimeMax(r.End.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := c.fromAPI(item)
			if err != nil {
				slog.WarnContext(ctx, "Skipping unparseable calendar event", log.FieldEventID, item.Id, log.FieldError, err)
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("list", "", err)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (core.CalendarEvent, error) {
	item, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
	if err != nil {
		return core.CalendarEvent{}, storeErr("get", id, err)
	}
	if item.Status == "cancelled" {
		return core.CalendarEvent{}, core.EventNotFound(id)
	}
	return c.fromAPI(item)
}

func (c *Client) Create(ctx context.Context, ev core.CalendarEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	body := &gcal.Event{
		Summary: ev.Title,
		Start:   c.toAPITime(ev.Start),
		End:     c.toAPITime(ev.End),
	}
	setAttendees(body, ev.Attendees, "")
	created, err := c.svc.Events.Insert(c.calendarID, body).Context(ctx).Do()
	if err != nil {
		return "", storeErr("create", "", err)
	}
	slog.DebugContext(ctx, "Calendar event created", log.FieldEventID, created.Id, "link", created.HtmlLink)
	return created.Id, nil
}

func (c *Client) Update(ctx context.Context, id string, patch core.EventPatch) error {
	body := &gcal.Event{}
	if patch.Title != nil {
		body.Summary = *patch.Title
	}
	if patch.Start != nil {
		body.Start = c.toAPITime(*patch.Start)
	}
	if patch.End != nil {
		body.End = c.toAPITime(*patch.End)
	}
	if patch.Attendees != nil {
		current, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
		if err != nil {
			return storeErr("update", id, err)
		}
		setAttendees(body, *patch.Attendees, current.Description)
		body.ForceSendFields = append(body.ForceSendFields, "Attendees", "Description")
	}
	if _, err := c.svc.Events.Patch(c.calendarID, id, body).Context(ctx).Do(); err != nil {
		return storeErr("update", id, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.svc.Events.Delete(c.calendarID, id).Context(ctx).Do(); err != nil {
		return storeErr("delete", id, err)
	}
	return nil
}

func (c *Client) toAPITime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		DateTime: t.In(c.loc).Format(time.RFC3339),
		TimeZone: c.loc.String(),
	}
}

func (c *Client) fromAPI(item *gcal.Event) (core.CalendarEvent, error) {
	start, err := c.parseAPITime(item.Start)
	if err != nil {
		return core.CalendarEvent{}, fmt.Errorf("start: %w", err)
	}
	end, err := c.parseAPITime(item.End)
	if err != nil {
		return core.CalendarEvent{}, fmt.Errorf("end: %w", err)
	}
	return core.CalendarEvent{
		ID:        item.Id,
		Title:     item.Summary,
		Start:     start,
		End:       end,
		Attendees: attendeesOf(item),
	}, nil
}

// parseAPITime reads timed and all-day boundaries; all-day dates start at
// midnight in the client's location.
func (c *Client) parseAPITime(t *gcal.EventDateTime) (time.Time, error) {
	if t == nil {
		return time.Time{}, errors.New("missing time")
	}
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return v.In(c.loc), nil
	}
	if t.Date != "" {
		return time.ParseInLocation("2006-01-02", t.Date, c.loc)
	}
	return time.Time{}, errors.New("empty time")
}

// setAttendees fills body with attendees. Names without an email go to the
// attendee line of description, the rest of description is kept.
func setAttendees(body *gcal.Event, attendees []string, description string) {
	var names []string
	body.Attendees = nil
	for _, a := range attendees {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.Contains(a, "@") {
			body.Attendees = append(body.Attendees, &gcal.EventAttendee{Email: a})
			continue
		}
		names = append(names, a)
	}
	var lines []string
	if description != "" {
		for _, line := range strings.Split(description, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), attendeesPrefix) {
				lines = append(lines, line)
			}
		}
	}
	if len(names) > 0 {
		lines = append(lines, attendeesPrefix+strings.Join(names, ", "))
	}
	body.Description = strings.Join(lines, "\n")
}

func attendeesOf(item *gcal.Event) []string {
	var out []string
	for _, a := range item.Attendees {
		if a == nil || a.Self {
			continue
		}
		if a.Email != "" {
			out = append(out, a.Email)
		} else if a.DisplayName != "" {
			out = append(out, a.DisplayName)
		}
	}
	for _, line := range strings.Split(item.Description, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), attendeesPrefix); ok {
			for _, n := range strings.Split(rest, ",") {
				if n = strings.TrimSpace(n); n != "" {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// storeErr maps Google API failures onto the store taxonomy. Missing events
// surface as NOT_FOUND.
func storeErr(op, id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			if id != "" {
				return core.EventNotFound(id)
			}
		case http.StatusConflict, http.StatusPreconditionFailed:
			return core.Conflict(op, err)
		}
	}
	return core.Unavailable(op, err)
}
