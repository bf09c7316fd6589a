package engine

import (
	"context"
	"log/slog"

	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
)

// Engine pairs the two state machines for commands that may touch either.
type Engine struct {
	Ledger   *Ledger
	Calendar *Calendar
}

func New(ledger *Ledger, cal *Calendar) *Engine {
	return &Engine{Ledger: ledger, Calendar: cal}
}

// Undo applies the inverse of the newest entry in ring and discards it. The
// entry stays on the ring when the store is unavailable so the user can try
// again; an entry whose target has vanished is discarded with NOT_FOUND.
// Undo pushes nothing: it cannot itself be undone.
func (e *Engine) Undo(ctx context.Context, ring *Ring) (core.UndoEntry, error) {
	top := ring.Peek()
	if top == nil {
		return core.UndoEntry{}, &core.ResolutionError{Kind: core.KindNothingToUndo}
	}
	entry := *top

	var err error
	switch entry.Kind {
	case core.UndoDeleteRecord, core.UndoRestoreRecord, core.UndoInsertRecord:
		err = e.Ledger.undo(ctx, entry)
	default:
		if e.Calendar == nil {
			err = core.Unavailable("undo", nil)
			break
		}
		err = e.Calendar.undo(ctx, entry)
	}

	if err != nil {
		if k := core.KindOf(err); k == core.KindNotFound || k == core.KindConflict {
			ring.Pop()
			slog.WarnContext(ctx, "Discarded stale undo entry", "kind", entry.Kind, log.FieldError, err)
		}
		return entry, err
	}

	ring.Pop()
	slog.InfoContext(ctx, "Undo applied", "kind", entry.Kind, "description", entry.Description)
	return entry, nil
}
