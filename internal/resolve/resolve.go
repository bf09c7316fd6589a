// Package resolve binds the relative values and references in a parsed
// command to absolute dates, times, record ids and event ids. Everything here
// is a pure function of the command, a snapshot and the current time.
package resolve

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ledgerchat/internal/core"
)

const (
	defaultLookback  = 7 * 24 * time.Hour
	defaultLookahead = 30 * 24 * time.Hour
	defaultDuration  = time.Hour
	listDays         = 7
)

var (
	errNoRecordRef = errors.New("which record? use its number, e.g. #5")
	errNoStart     = errors.New("event needs a start time")
	errNoTitle     = errors.New("event needs a title")
	errEmptyEdit   = errors.New("nothing to change")

	recordNumber = regexp.MustCompile(`^(?:#|item\s+|row\s+|number\s+|no\.?\s*|record\s+)?(\d+)$`)
)

// Options carry the resolver's configuration.
type Options struct {
	Location        *time.Location
	DefaultCurrency string
	// DefaultDuration applies to new events without an explicit length.
	DefaultDuration time.Duration
	// Lookback and Lookahead bound the event reference window around now.
	Lookback  time.Duration
	Lookahead time.Duration
}

// View is the state a command resolves against, read right before the
// command runs.
type View struct {
	Ledger core.LedgerSnapshot
	Events []core.CalendarEvent
	// Undo is the newest entry of the identity's undo ring, nil when empty.
	Undo *core.UndoEntry
}

// Resolver applies the resolution rules with fixed options.
type Resolver struct {
	opts Options
}

// New returns a Resolver, filling zero options with defaults.
func New(opts Options) *Resolver {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "EUR"
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = defaultDuration
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaultLookback
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = defaultLookahead
	}
	return &Resolver{opts: opts}
}

// Today is the current calendar day in the configured location.
func (r *Resolver) Today(now time.Time) core.Date {
	return core.DateOf(now.In(r.opts.Location))
}

// EventWindow is the range searched when matching event references.
func (r *Resolver) EventWindow(now time.Time) core.TimeRange {
	today := At(r.Today(now), 0, 0, r.opts.Location)
	return core.TimeRange{
		Start: today.Add(-r.opts.Lookback),
		End:   today.Add(24 * time.Hour).Add(r.opts.Lookahead),
	}
}

// NeedsEvents reports whether resolving cmd requires the event list.
func NeedsEvents(cmd core.ParsedCommand) bool {
	return cmd.Intent == core.IntentEditEvent || cmd.Intent == core.IntentDeleteEvent
}

// Resolve binds cmd against view.
func (r *Resolver) Resolve(cmd core.ParsedCommand, view View, now time.Time) (core.ResolvedCommand, error) {
	today := r.Today(now)
	rc := core.ResolvedCommand{Intent: cmd.Intent, Source: cmd}
	s := cmd.Slots

	switch cmd.Intent {
	case core.IntentCreateExpense:
		rec, err := r.newRecord(s, today)
		if err != nil {
			return rc, err
		}
		rc.Record = rec

	case core.IntentEditExpense:
		id, err := RecordID(s.RecordRef, view.Ledger)
		if err != nil {
			return rc, err
		}
		current, _ := view.Ledger.Find(id)
		patch, err := r.recordPatch(s, current, today)
		if err != nil {
			return rc, err
		}
		rc.RecordID, rc.Patch = id, patch

	case core.IntentDeleteExpense:
		id, err := RecordID(s.RecordRef, view.Ledger)
		if err != nil {
			return rc, err
		}
		rc.RecordID = id

	case core.IntentUndo:
		if view.Undo == nil {
			return rc, &core.ResolutionError{Kind: core.KindNothingToUndo}
		}
		entry := *view.Undo
		rc.Undo = &entry

	case core.IntentQueryExpense:
		from, to, err := r.dateRange(s, today, "all")
		if err != nil {
			return rc, err
		}
		rc.Filter = core.AggregateFilter{From: from, To: to, Category: s.Category}

	case core.IntentCreateEvent:
		ev, err := r.newEvent(s, today)
		if err != nil {
			return rc, err
		}
		rc.Event = ev

	case core.IntentEditEvent:
		ev, err := MatchEvent(s.EventRef, view.Events, r.EventWindow(now), today, r.opts.Location)
		if err != nil {
			return rc, err
		}
		patch, err := r.eventPatch(s, ev, today)
		if err != nil {
			return rc, err
		}
		rc.EventID, rc.Event, rc.EventPatch = ev.ID, ev, patch

	case core.IntentDeleteEvent:
		ev, err := MatchEvent(s.EventRef, view.Events, r.EventWindow(now), today, r.opts.Location)
		if err != nil {
			return rc, err
		}
		rc.EventID, rc.Event = ev.ID, ev

	case core.IntentListEvents:
		if s.Period == "" && s.StartDate == "" && s.EndDate == "" {
			rc.Range = DayRange(today, today.AddDays(listDays-1), r.opts.Location)
			break
		}
		from, to, err := r.dateRange(s, today, "")
		if err != nil {
			return rc, err
		}
		if from.IsZero() {
			from = today
		}
		if to.IsZero() {
			to = from.AddDays(listDays - 1)
		}
		rc.Range = DayRange(from, to, r.opts.Location)
	}
	return rc, nil
}

// RecordID binds a record reference ("#5", "item 5", "5", "last") to the id
// of a live record.
func RecordID(ref string, snap core.LedgerSnapshot) (int64, error) {
	p := strings.Join(strings.Fields(strings.ToLower(ref)), " ")
	p = strings.TrimPrefix(p, "the ")
	switch p {
	case "":
		return 0, &core.ResolutionError{Kind: core.KindInvalidInput, Err: errNoRecordRef}
	case "last", "last one", "latest", "previous":
		ids := snap.RecentIDs(1)
		if len(ids) == 0 {
			return 0, &core.ResolutionError{Kind: core.KindNotFound, Ref: ref}
		}
		return ids[0], nil
	}
	m := recordNumber.FindStringSubmatch(p)
	if m == nil {
		return 0, &core.ResolutionError{Kind: core.KindInvalidInput, Ref: ref, Err: errNoRecordRef}
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &core.ResolutionError{Kind: core.KindInvalidInput, Ref: ref, Err: err}
	}
	if _, ok := snap.Find(id); !ok {
		return 0, &core.ResolutionError{Kind: core.KindNotFound, Ref: "#" + m[1]}
	}
	return id, nil
}

func (r *Resolver) newRecord(s core.Slots, today core.Date) (core.ExpenseRecord, error) {
	desc := strings.TrimSpace(s.Description)
	if desc == "" {
		return core.ExpenseRecord{}, &core.ResolutionError{Kind: core.KindInvalidInput, Err: core.ErrEmptyDescription}
	}
	money, err := core.ParseMoney(s.Amount, s.Currency, r.opts.DefaultCurrency)
	if err != nil {
		return core.ExpenseRecord{}, &core.ResolutionError{Kind: core.KindInvalidInput, Ref: s.Amount, Err: err}
	}
	date := today
	if s.Date != "" {
		if date, err = Date(s.Date, today); err != nil {
			return core.ExpenseRecord{}, err
		}
	}
	category := s.Category
	if category == "" {
		category = core.Uncategorized
	}
	return core.ExpenseRecord{
		Date:        date,
		Description: desc,
		Amount:      money,
		Category:    category,
		Note:        strings.TrimSpace(s.Note),
	}, nil
}

// recordPatch builds a patch with exactly the fields the slots name. An
// amount without a currency keeps the record's currency.
func (r *Resolver) recordPatch(s core.Slots, current core.ExpenseRecord, today core.Date) (core.RecordPatch, error) {
	var p core.RecordPatch
	if s.Amount != "" {
		cur := current.Amount.Currency
		if cur == "" {
			cur = r.opts.DefaultCurrency
		}
		m, err := core.ParseMoney(s.Amount, s.Currency, cur)
		if err != nil {
			return p, &core.ResolutionError{Kind: core.KindInvalidInput, Ref: s.Amount, Err: err}
		}
		p.Amount = &m
	} else if s.Currency != "" {
		m := current.Amount
		if c, ok := core.NormalizeCurrency(s.Currency); ok {
			m.Currency = c
		} else {
			m.Currency = strings.ToUpper(strings.TrimSpace(s.Currency))
		}
		p.Amount = &m
	}
	if s.Date != "" {
		d, err := Date(s.Date, today)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	if d := strings.TrimSpace(s.Description); d != "" {
		p.Description = &d
	}
	if c := strings.TrimSpace(s.Category); c != "" {
		p.Category = &c
	}
	if n := strings.TrimSpace(s.Note); n != "" {
		p.Note = &n
	}
	if p.IsEmpty() {
		return p, &core.ResolutionError{Kind: core.KindInvalidInput, Err: errEmptyEdit}
	}
	return p, nil
}

func (r *Resolver) newEvent(s core.Slots, today core.Date) (core.CalendarEvent, error) {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return core.CalendarEvent{}, &core.ResolutionError{Kind: core.KindInvalidInput, Err: errNoTitle}
	}
	if strings.TrimSpace(s.When) == "" {
		return core.CalendarEvent{}, &core.ResolutionError{Kind: core.KindInvalidDate, Err: errNoStart}
	}
	date, hour, minute, hasTime, err := When(s.When, today)
	if err != nil {
		return core.CalendarEvent{}, err
	}
	if !hasTime {
		return core.CalendarEvent{}, &core.ResolutionError{Kind: core.KindInvalidDate, Ref: s.When, Err: errNoStart}
	}
	day := today
	if date != nil {
		day = *date
	}
	start := At(day, hour, minute, r.opts.Location)
	dur := r.opts.DefaultDuration
	if s.DurationMinutes > 0 {
		dur = time.Duration(s.DurationMinutes) * time.Minute
	}
	return core.CalendarEvent{
		Title:     title,
		Start:     start,
		End:       start.Add(dur),
		Attendees: append([]string(nil), s.Attendees...),
	}, nil
}

// eventPatch moves, resizes, renames or re-invites ev. A new time without a
// date keeps the event's day; a new start without a duration keeps its
// length.
func (r *Resolver) eventPatch(s core.Slots, ev core.CalendarEvent, today core.Date) (core.EventPatch, error) {
	var p core.EventPatch
	if t := strings.TrimSpace(s.Title); t != "" {
		p.Title = &t
	}
	if s.Attendees != nil {
		a := append([]string(nil), s.Attendees...)
		p.Attendees = &a
	}

	start := ev.Start
	if strings.TrimSpace(s.When) != "" {
		date, hour, minute, hasTime, err := When(s.When, today)
		if err != nil {
			return p, err
		}
		local := ev.Start.In(r.opts.Location)
		day := core.DateOf(local)
		if date != nil {
			day = *date
		}
		if !hasTime {
			hour, minute = local.Hour(), local.Minute()
		}
		start = At(day, hour, minute, r.opts.Location)
		end := start.Add(ev.End.Sub(ev.Start))
		p.Start, p.End = &start, &end
	}
	if s.DurationMinutes > 0 {
		end := start.Add(time.Duration(s.DurationMinutes) * time.Minute)
		p.End = &end
	}
	if p.IsEmpty() {
		return p, &core.ResolutionError{Kind: core.KindInvalidInput, Err: errEmptyEdit}
	}
	return p, nil
}

// dateRange resolves the period or explicit start/end slots into an
// inclusive date interval. fallback names the period used when no slot is
// set.
func (r *Resolver) dateRange(s core.Slots, today core.Date, fallback string) (from, to core.Date, err error) {
	if s.StartDate != "" || s.EndDate != "" {
		if s.StartDate != "" {
			if from, err = Date(s.StartDate, today); err != nil {
				return from, to, err
			}
		}
		if s.EndDate != "" {
			if to, err = Date(s.EndDate, today); err != nil {
				return from, to, err
			}
		}
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			from, to = to, from
		}
		return from, to, nil
	}
	period := s.Period
	if period == "" {
		period = fallback
	}
	if period == "" {
		return from, to, nil
	}
	return Period(period, today)
}
