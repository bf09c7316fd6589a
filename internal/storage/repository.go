package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ledgerchat/internal/audit"
	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
	ports "ledgerchat/internal/sheets"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLiteRepository keeps the ledger and the audit log in one SQLite file.
// Deleted records stay in the table with deleted=1 so their ids stay taken.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure interface conformance
var (
	_ ports.LedgerStore = (*SQLiteRepository)(nil)
	_ audit.Recorder    = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateUp(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("SQLite schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Snapshot implements sheets.LedgerReader
func (r *SQLiteRepository) Snapshot(ctx context.Context) (core.LedgerSnapshot, error) {
	var snap core.LedgerSnapshot
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM expenses`).Scan(&snap.HighWater); err != nil {
		return snap, core.Unavailable("snapshot", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, description, amount, currency, category, note
		FROM expenses WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return snap, core.Unavailable("snapshot", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable expense row", log.FieldError, err)
			continue
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return snap, core.Unavailable("snapshot", err)
	}
	return snap, nil
}

// Append implements sheets.LedgerWriter
func (r *SQLiteRepository) Append(ctx context.Context, rec core.ExpenseRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, core.Unavailable("append", err)
	}
	defer tx.Rollback()

	var highWater int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM expenses`).Scan(&highWater); err != nil {
		return 0, core.Unavailable("append", err)
	}
	if rec.ID == 0 {
		rec.ID = highWater + 1
	}
	if rec.ID <= highWater {
		return 0, core.Conflict("append", fmt.Errorf("id %d already assigned (high water %d)", rec.ID, highWater))
	}

	if err := insertRecord(ctx, tx, rec); err != nil {
		return 0, sqlErr("append", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, sqlErr("append", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		log.FieldRecordID, rec.ID,
		"description", rec.Description,
		"amount", rec.Amount.String(),
		"date", rec.Date.String())

	return rec.ID, nil
}

// Update implements sheets.LedgerWriter
func (r *SQLiteRepository) Update(ctx context.Context, id int64, patch core.RecordPatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Unavailable("update", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, date, description, amount, currency, category, note
		FROM expenses WHERE id = ? AND deleted = 0`, id)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecordNotFound(id)
	}
	if err != nil {
		return core.Unavailable("update", err)
	}

	updated := patch.Apply(current)
	if _, err := tx.ExecContext(ctx, `
		UPDATE expenses
		SET date = ?, description = ?, amount = ?, currency = ?, category = ?, note = ?, updated_at = ?
		WHERE id = ?`,
		updated.Date.String(), updated.Description, updated.Amount.Amount.String(),
		updated.Amount.Currency, updated.Category, updated.Note, now(), id); err != nil {
		return sqlErr("update", err)
	}
	if err := tx.Commit(); err != nil {
		return sqlErr("update", err)
	}
	return nil
}

// Remove implements sheets.LedgerWriter. The row is kept as a tombstone.
func (r *SQLiteRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`, now(), id)
	if err != nil {
		return sqlErr("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Unavailable("remove", err)
	}
	if n == 0 {
		return core.RecordNotFound(id)
	}
	return nil
}

// InsertAt implements sheets.LedgerWriter. A tombstone with the same id is
// revived in place.
func (r *SQLiteRepository) InsertAt(ctx context.Context, id int64, rec core.ExpenseRecord) error {
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Unavailable("insert", err)
	}
	defer tx.Rollback()

	var deleted int
	err = tx.QueryRowContext(ctx, `SELECT deleted FROM expenses WHERE id = ?`, id).Scan(&deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := insertRecord(ctx, tx, rec); err != nil {
			return sqlErr("insert", err)
		}
	case err != nil:
		return core.Unavailable("insert", err)
	case deleted == 0:
		return core.Conflict("insert", fmt.Errorf("id %d is live", id))
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE expenses
			SET date = ?, description = ?, amount = ?, currency = ?, category = ?, note = ?, deleted = 0, updated_at = ?
			WHERE id = ?`,
			rec.Date.String(), rec.Description, rec.Amount.Amount.String(),
			rec.Amount.Currency, rec.Category, rec.Note, now(), id); err != nil {
			return sqlErr("insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return sqlErr("insert", err)
	}
	return nil
}

// Record implements audit.Recorder. Redelivered events are ignored.
func (r *SQLiteRepository) Record(ctx context.Context, ev audit.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_log (command_id, identity, intent, target, summary, inverse, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.CommandID, ev.Identity, string(ev.Intent), ev.Target, ev.Summary, ev.Inverse,
		ev.OccurredAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit events of identity, newest first.
func (r *SQLiteRepository) ListAudit(ctx context.Context, identity string, limit int) ([]audit.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT command_id, identity, intent, target, summary, inverse, occurred_at
		FROM audit_log WHERE identity = ?
		ORDER BY occurred_at DESC, id DESC LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			ev         audit.Event
			intent     string
			occurredAt string
		)
		if err := rows.Scan(&ev.CommandID, &ev.Identity, &intent, &ev.Target, &ev.Summary, &ev.Inverse, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Intent = core.Intent(intent)
		ev.OccurredAt, _ = time.Parse(timeLayout, occurredAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (core.ExpenseRecord, error) {
	var (
		rec              core.ExpenseRecord
		date, amount, cu string
	)
	if err := s.Scan(&rec.ID, &date, &rec.Description, &amount, &cu, &rec.Category, &rec.Note); err != nil {
		return rec, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return rec, fmt.Errorf("record %d: date %q: %w", rec.ID, date, err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return rec, fmt.Errorf("record %d: amount %q: %w", rec.ID, amount, err)
	}
	rec.Date = d
	rec.Amount = core.Money{Amount: amt, Currency: cu}
	return rec, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec core.ExpenseRecord) error {
	category := rec.Category
	if category == "" {
		category = core.Uncategorized
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (id, date, description, amount, currency, category, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Date.String(), rec.Description, rec.Amount.Amount.String(),
		rec.Amount.Currency, category, rec.Note)
	return err
}

// sqlErr maps constraint violations to CONFLICT and everything else to
// UNAVAILABLE.
func sqlErr(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return core.Conflict(op, err)
	}
	return core.Unavailable(op, err)
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}
