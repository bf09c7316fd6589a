package backend

import (
	"context"
	"errors"

	"ledgerchat/internal/audit"
	"ledgerchat/internal/calendar"
	"ledgerchat/internal/history"
	"ledgerchat/internal/sheets"
)

// LedgerType selects the ledger store.
type LedgerType string

const (
	SQLiteLedger LedgerType = "sqlite"
	SheetsLedger LedgerType = "sheets"
	MemoryLedger LedgerType = "memory"
)

// String implements fmt.Stringer
func (t LedgerType) String() string {
	return string(t)
}

// IsValid returns true if the ledger type is valid
func (t LedgerType) IsValid() bool {
	switch t {
	case SQLiteLedger, SheetsLedger, MemoryLedger:
		return true
	default:
		return false
	}
}

// CalendarType selects the event store.
type CalendarType string

const (
	GoogleCalendar CalendarType = "google"
	MemoryCalendar CalendarType = "memory"
)

func (t CalendarType) String() string {
	return string(t)
}

func (t CalendarType) IsValid() bool {
	return t == GoogleCalendar || t == MemoryCalendar
}

// HistoryType selects where conversation turns are kept. The zero value
// keeps them in memory.
type HistoryType string

const (
	SQLiteHistory HistoryType = "sqlite"
	MemoryHistory HistoryType = "memory"
)

func (t HistoryType) IsValid() bool {
	return t == "" || t == SQLiteHistory || t == MemoryHistory
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Check is a named readiness probe for one backend.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Backends is everything the dispatcher needs from the outside world.
type Backends struct {
	Ledger   sheets.LedgerStore
	Calendar calendar.EventStore
	// Linker is set when the ledger has a human-facing location.
	Linker   sheets.Linker
	Recorder audit.Recorder
	History  history.Store
	Checks   []Check

	cleanups []CleanupFunc
}

func (b *Backends) onClose(fn CleanupFunc) {
	b.cleanups = append(b.cleanups, fn)
}

// Close releases resources in reverse order of creation.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		if err := b.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.cleanups = nil
	return errors.Join(errs...)
}
