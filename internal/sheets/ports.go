package sheets

import (
	"context"

	"ledgerchat/internal/core"
)

// Ports for outbound ledger adapters.
type (
	// LedgerReader reads the authoritative ledger. Snapshot must go to the
	// backend on every call; callers rely on it to see external edits.
	LedgerReader interface {
		Snapshot(ctx context.Context) (core.LedgerSnapshot, error)
	}

	// LedgerWriter mutates the ledger by record id. Ids are never reused:
	// Append rejects an id at or below the high-water mark with CONFLICT,
	// and InsertAt rejects an id that holds a live record.
	LedgerWriter interface {
		Append(ctx context.Context, rec core.ExpenseRecord) (int64, error)
		Update(ctx context.Context, id int64, patch core.RecordPatch) error
		Remove(ctx context.Context, id int64) error
		InsertAt(ctx context.Context, id int64, rec core.ExpenseRecord) error
	}

	LedgerStore interface {
		LedgerReader
		LedgerWriter
	}

	// Linker is implemented by stores that have a human-facing location.
	Linker interface {
		URL() string
	}
)
