// Package engine applies resolved commands to the ledger and calendar
// stores. Every mutation re-reads the store first, writes, and only then
// pushes its inverse onto the caller's undo ring.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
	"ledgerchat/internal/sheets"
)

// Ledger is the expense record state machine.
type Ledger struct {
	store sheets.LedgerStore
	now   func() time.Time
}

func NewLedger(store sheets.LedgerStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Snapshot reads the ledger from the store.
func (l *Ledger) Snapshot(ctx context.Context) (core.LedgerSnapshot, error) {
	snap, err := l.store.Snapshot(ctx)
	if err != nil {
		return core.LedgerSnapshot{}, core.Unavailable("snapshot", err)
	}
	return snap, nil
}

// Create stores rec under the next unused id and returns it with the id set.
func (l *Ledger) Create(ctx context.Context, rec core.ExpenseRecord, ring *Ring) (core.ExpenseRecord, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	rec.ID = snap.NextID()
	if err := rec.Validate(); err != nil {
		return core.ExpenseRecord{}, &core.ResolutionError{Kind: core.KindInvalidInput, Err: err}
	}

	id, err := l.store.Append(ctx, rec)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to append expense", log.FieldRecordID, rec.ID, log.FieldError, err)
		return core.ExpenseRecord{}, core.Unavailable("append", err)
	}
	rec.ID = id

	ring.Push(core.UndoEntry{
		Kind:        core.UndoDeleteRecord,
		RecordID:    id,
		Description: fmt.Sprintf("saved #%d %s %s", id, rec.Description, rec.Amount),
		At:          l.now(),
	})
	slog.InfoContext(ctx, "Expense saved",
		log.FieldRecordID, id,
		"amount", rec.Amount.String(),
		"category", rec.Category)
	return rec, nil
}

// Edit applies patch to record id and returns the record before and after.
func (l *Ledger) Edit(ctx context.Context, id int64, patch core.RecordPatch, ring *Ring) (before, after core.ExpenseRecord, err error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return before, after, err
	}
	before, ok := snap.Find(id)
	if !ok {
		return before, after, core.RecordNotFound(id)
	}
	after = patch.Apply(before)
	if err := after.Validate(); err != nil {
		return before, after, &core.ResolutionError{Kind: core.KindInvalidInput, Err: err}
	}

	if err := l.store.Update(ctx, id, patch); err != nil {
		slog.ErrorContext(ctx, "Failed to update expense", log.FieldRecordID, id, log.FieldError, err)
		return before, after, storeErr("update", err)
	}

	ring.Push(core.UndoEntry{
		Kind:        core.UndoRestoreRecord,
		RecordID:    id,
		Patch:       patch.Capture(before),
		Description: fmt.Sprintf("edited #%d %s", id, before.Description),
		At:          l.now(),
	})
	slog.InfoContext(ctx, "Expense edited", log.FieldRecordID, id)
	return before, after, nil
}

// Delete removes record id, leaving its id unused for good.
func (l *Ledger) Delete(ctx context.Context, id int64, ring *Ring) (core.ExpenseRecord, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	rec, ok := snap.Find(id)
	if !ok {
		return core.ExpenseRecord{}, core.RecordNotFound(id)
	}

	if err := l.store.Remove(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to remove expense", log.FieldRecordID, id, log.FieldError, err)
		return core.ExpenseRecord{}, storeErr("remove", err)
	}

	ring.Push(core.UndoEntry{
		Kind:        core.UndoInsertRecord,
		RecordID:    id,
		Record:      rec,
		Description: fmt.Sprintf("deleted #%d %s %s", id, rec.Description, rec.Amount),
		At:          l.now(),
	})
	slog.InfoContext(ctx, "Expense deleted", log.FieldRecordID, id)
	return rec, nil
}

// Aggregate totals the records matching f per currency. Amounts in different
// currencies are never summed together.
func (l *Ledger) Aggregate(ctx context.Context, f core.AggregateFilter) (core.Aggregate, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return core.Aggregate{}, err
	}
	return Sum(snap.Records, f), nil
}

// Sum is the pure part of Aggregate.
func Sum(records []core.ExpenseRecord, f core.AggregateFilter) core.Aggregate {
	agg := core.Aggregate{Totals: core.Totals{}}
	for _, r := range records {
		if !f.Matches(r) {
			continue
		}
		agg.Totals.Add(r.Amount)
		agg.Count++
	}
	return agg
}

func (l *Ledger) undo(ctx context.Context, e core.UndoEntry) error {
	switch e.Kind {
	case core.UndoDeleteRecord:
		if err := l.store.Remove(ctx, e.RecordID); err != nil {
			return storeErr("remove", err)
		}
	case core.UndoRestoreRecord:
		if err := l.store.Update(ctx, e.RecordID, e.Patch); err != nil {
			return storeErr("update", err)
		}
	case core.UndoInsertRecord:
		if err := l.store.InsertAt(ctx, e.RecordID, e.Record); err != nil {
			return storeErr("insert", err)
		}
	default:
		return fmt.Errorf("ledger cannot undo %q", e.Kind)
	}
	return nil
}

// storeErr passes engine NOT_FOUND errors through and wraps anything else
// as a StoreError.
func storeErr(op string, err error) error {
	if core.KindOf(err) == core.KindNotFound {
		return err
	}
	return core.Unavailable(op, err)
}
