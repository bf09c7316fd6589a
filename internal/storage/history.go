package storage

import (
	"context"
	"fmt"
	"time"

	"ledgerchat/internal/history"
)

// historyRetention is how many turns per identity survive an AppendTurns call.
const historyRetention = 200

var _ history.Store = (*SQLiteRepository)(nil)

// RecentTurns implements history.Store.
func (r *SQLiteRepository) RecentTurns(ctx context.Context, identity string, n int) ([]history.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT role, text, occurred_at FROM (
			SELECT id, role, text, occurred_at FROM conversation_turns
			WHERE identity = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, identity, n)
	if err != nil {
		return nil, sqlErr("list turns", err)
	}
	defer rows.Close()

	var out []history.Turn
	for rows.Next() {
		var (
			t          history.Turn
			role, when string
		)
		if err := rows.Scan(&role, &t.Text, &when); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = history.Role(role)
		t.At, _ = time.Parse(timeLayout, when)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendTurns implements history.Store and prunes turns beyond the retention.
func (r *SQLiteRepository) AppendTurns(ctx context.Context, identity string, turns ...history.Turn) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sqlErr("append turns", err)
	}
	defer tx.Rollback()

	for _, t := range turns {
		at := t.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (identity, role, text, occurred_at) VALUES (?, ?, ?, ?)`,
			identity, string(t.Role), t.Text, at.UTC().Format(timeLayout)); err != nil {
			return sqlErr("append turns", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_turns WHERE identity = ? AND id NOT IN (
			SELECT id FROM conversation_turns WHERE identity = ? ORDER BY id DESC LIMIT ?
		)`, identity, identity, historyRetention); err != nil {
		return sqlErr("prune turns", err)
	}
	if err := tx.Commit(); err != nil {
		return sqlErr("append turns", err)
	}
	return nil
}
