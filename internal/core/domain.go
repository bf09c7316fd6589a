package core

import (
	"errors"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day stored at UTC midnight.
	Date struct {
		time.Time
	}

	// ExpenseRecord is one ledger row. ID is the stable 1-based id assigned
	// at creation; deleted ids leave a gap and are never handed out again.
	ExpenseRecord struct {
		ID          int64
		Date        Date
		Description string
		Amount      Money
		Category    string
		Note        string
	}

	// RecordPatch carries the fields an edit names. Nil fields are left alone.
	RecordPatch struct {
		Date        *Date
		Description *string
		Amount      *Money
		Category    *string
		Note        *string
	}

	// LedgerSnapshot is the ledger as read from the store right before a
	// command runs. HighWater is the largest id ever assigned, tombstones
	// included.
	LedgerSnapshot struct {
		Records   []ExpenseRecord
		HighWater int64
	}

	// CalendarEvent is an event as known to the calendar backend.
	CalendarEvent struct {
		ID        string
		Title     string
		Start     time.Time
		End       time.Time
		Attendees []string
	}

	// EventPatch carries the fields an event edit names.
	EventPatch struct {
		Title     *string
		Start     *time.Time
		End       *time.Time
		Attendees *[]string
	}

	// TimeRange is a half-open [Start, End) interval.
	TimeRange struct {
		Start time.Time
		End   time.Time
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyTitle       = errors.New("empty event title")
	ErrInvalidRange     = errors.New("event end must be after start")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal reports whether both dates are the same day.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (e ExpenseRecord) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	return nil
}

// IsEmpty reports whether the patch names no field at all.
func (p RecordPatch) IsEmpty() bool {
	return p.Date == nil && p.Description == nil && p.Amount == nil && p.Category == nil && p.Note == nil
}

// Apply returns a copy of r with the patch applied.
func (p RecordPatch) Apply(r ExpenseRecord) ExpenseRecord {
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Note != nil {
		r.Note = *p.Note
	}
	return r
}

// Capture returns a patch holding r's current values for the fields p names.
// Applying the result undoes p.
func (p RecordPatch) Capture(r ExpenseRecord) RecordPatch {
	var out RecordPatch
	if p.Date != nil {
		d := r.Date
		out.Date = &d
	}
	if p.Description != nil {
		s := r.Description
		out.Description = &s
	}
	if p.Amount != nil {
		m := r.Amount
		out.Amount = &m
	}
	if p.Category != nil {
		c := r.Category
		out.Category = &c
	}
	if p.Note != nil {
		n := r.Note
		out.Note = &n
	}
	return out
}

// Find returns the live record with the given id.
func (s LedgerSnapshot) Find(id int64) (ExpenseRecord, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return ExpenseRecord{}, false
}

// NextID is the id a new record gets: one past everything ever assigned.
func (s LedgerSnapshot) NextID() int64 {
	top := s.HighWater
	for _, r := range s.Records {
		if r.ID > top {
			top = r.ID
		}
	}
	return top + 1
}

// RecentIDs returns up to n of the highest live ids, newest first.
func (s LedgerSnapshot) RecentIDs(n int) []int64 {
	ids := make([]int64, 0, len(s.Records))
	for _, r := range s.Records {
		ids = append(ids, r.ID)
	}
	// insertion sort, descending; snapshots are small
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] > ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

func (e CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if e.Start.IsZero() {
		return errors.New("event start cannot be zero")
	}
	if !e.End.After(e.Start) {
		return ErrInvalidRange
	}
	return nil
}

// IsEmpty reports whether the patch names no field at all.
func (p EventPatch) IsEmpty() bool {
	return p.Title == nil && p.Start == nil && p.End == nil && p.Attendees == nil
}

// Apply returns a copy of e with the patch applied.
func (p EventPatch) Apply(e CalendarEvent) CalendarEvent {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.Attendees != nil {
		e.Attendees = append([]string(nil), (*p.Attendees)...)
	}
	return e
}

// Capture returns a patch holding e's current values for the fields p names.
func (p EventPatch) Capture(e CalendarEvent) EventPatch {
	var out EventPatch
	if p.Title != nil {
		t := e.Title
		out.Title = &t
	}
	if p.Start != nil {
		s := e.Start
		out.Start = &s
	}
	if p.End != nil {
		en := e.End
		out.End = &en
	}
	if p.Attendees != nil {
		a := append([]string(nil), e.Attendees...)
		out.Attendees = &a
	}
	return out
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
