package core

import (
	"strings"
	"time"
)

// Intent is the single action an utterance asks for.
type Intent string

const (
	IntentCreateExpense Intent = "CREATE_EXPENSE"
	IntentEditExpense   Intent = "EDIT_EXPENSE"
	IntentDeleteExpense Intent = "DELETE_EXPENSE"
	IntentUndo          Intent = "UNDO"
	IntentQueryExpense  Intent = "QUERY_EXPENSE"
	IntentCreateEvent   Intent = "CREATE_EVENT"
	IntentEditEvent     Intent = "EDIT_EVENT"
	IntentDeleteEvent   Intent = "DELETE_EVENT"
	IntentListEvents    Intent = "LIST_EVENTS"
	IntentSheetURL      Intent = "SHEET_URL"
	IntentUnknown       Intent = "UNKNOWN"
)

// Intents lists every intent the classifier may emit.
var Intents = []Intent{
	IntentCreateExpense, IntentEditExpense, IntentDeleteExpense, IntentUndo,
	IntentQueryExpense, IntentCreateEvent, IntentEditEvent, IntentDeleteEvent,
	IntentListEvents, IntentSheetURL, IntentUnknown,
}

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	for _, k := range Intents {
		if i == k {
			return true
		}
	}
	return false
}

// Mutating reports whether commands of this intent change stored state.
func (i Intent) Mutating() bool {
	switch i {
	case IntentCreateExpense, IntentEditExpense, IntentDeleteExpense, IntentUndo,
		IntentCreateEvent, IntentEditEvent, IntentDeleteEvent:
		return true
	}
	return false
}

// Slots are the named, possibly relative values extracted from an utterance.
// Empty strings mean "not mentioned".
type Slots struct {
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Category    string `json:"category,omitempty"`
	Date        string `json:"date,omitempty"`
	Note        string `json:"note,omitempty"`

	// RecordRef points at a ledger record: "#5", "item 5", "5".
	RecordRef string `json:"record_ref,omitempty"`

	// Period or Start/End dates bound queries and event listings.
	Period    string `json:"period,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	Title string `json:"title,omitempty"`
	// When is a date/time phrase for an event start, e.g. "tomorrow at 2pm".
	When            string   `json:"when,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`

	// EventRef describes an existing event: "the 2 PM meeting".
	EventRef string `json:"event_ref,omitempty"`
}

// ParsedCommand is the classifier's output for one command.
type ParsedCommand struct {
	Intent Intent `json:"intent"`
	Slots  Slots  `json:"slots"`
}

// AggregateFilter bounds an aggregation. Zero dates mean unbounded.
type AggregateFilter struct {
	From     Date
	To       Date
	Category string
}

// Matches reports whether r falls inside the filter.
func (f AggregateFilter) Matches(r ExpenseRecord) bool {
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
		return false
	}
	return true
}

// Aggregate is the result of a ledger query.
type Aggregate struct {
	Totals Totals
	Count  int
}

// ResolvedCommand is a ParsedCommand with every reference bound and every
// relative value made absolute. Only the fields relevant to Intent are set.
type ResolvedCommand struct {
	Intent Intent
	Source ParsedCommand

	// Ledger
	Record   ExpenseRecord
	RecordID int64
	Patch    RecordPatch
	Filter   AggregateFilter

	// Calendar
	Event      CalendarEvent
	EventID    string
	EventPatch EventPatch
	Range      TimeRange

	// Undo
	Undo *UndoEntry
}

// UndoKind names which inverse an UndoEntry applies.
type UndoKind string

const (
	UndoDeleteRecord  UndoKind = "delete_record"
	UndoRestoreRecord UndoKind = "restore_record"
	UndoInsertRecord  UndoKind = "insert_record"
	UndoDeleteEvent   UndoKind = "delete_event"
	UndoRestoreEvent  UndoKind = "restore_event"
	UndoCreateEvent   UndoKind = "create_event"
)

// UndoEntry is the inverse of one committed mutation.
type UndoEntry struct {
	Kind        UndoKind
	RecordID    int64
	Record      ExpenseRecord
	Patch       RecordPatch
	EventID     string
	Event       CalendarEvent
	EventPatch  EventPatch
	Description string
	At          time.Time
}
