package memory

import (
	"context"
	"errors"
	"testing"

	"ledgerchat/internal/core"

	"github.com/shopspring/decimal"
)

func rec(desc, amount string) core.ExpenseRecord {
	return core.ExpenseRecord{
		Date:        core.NewDate(2026, 1, 20),
		Description: desc,
		Amount:      core.Money{Amount: decimal.RequireFromString(amount), Currency: "EUR"},
		Category:    "Food",
	}
}

func TestMemoryStoreAppendAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Append(ctx, rec("Lunch", "15"))
	if err != nil || id != 1 {
		t.Fatalf("unexpected append: id=%d err=%v", id, err)
	}
	r := rec("Taxi", "20")
	r.ID = 2
	if id, err = s.Append(ctx, r); err != nil || id != 2 {
		t.Fatalf("unexpected append: id=%d err=%v", id, err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil || len(snap.Records) != 2 || snap.HighWater != 2 {
		t.Fatalf("unexpected snapshot: %+v err=%v", snap, err)
	}
	if snap.Records[0].ID != 1 || snap.Records[1].ID != 2 {
		t.Fatalf("records must be ordered by id: %+v", snap.Records)
	}
}

func TestMemoryStoreRemoveLeavesGap(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Append(ctx, rec("Lunch", "15"))
	_, _ = s.Append(ctx, rec("Taxi", "20"))
	if err := s.Remove(ctx, 2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap, _ := s.Snapshot(ctx)
	if snap.NextID() != 3 {
		t.Fatalf("deleted id must not be reused, next=%d", snap.NextID())
	}

	reused := rec("Coffee", "5")
	reused.ID = 2
	_, err := s.Append(ctx, reused)
	if !errors.Is(err, &core.StoreError{Kind: core.KindConflict}) {
		t.Fatalf("expected CONFLICT appending a used id, got %v", err)
	}

	if err := s.Remove(ctx, 2); !errors.Is(err, &core.EngineError{Kind: core.KindNotFound}) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestMemoryStoreInsertAtRestoresExactID(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Append(ctx, rec("Lunch", "15"))
	_, _ = s.Append(ctx, rec("Taxi", "20"))
	_ = s.Remove(ctx, 1)

	if err := s.InsertAt(ctx, 1, rec("Lunch", "15")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	snap, _ := s.Snapshot(ctx)
	got, ok := snap.Find(1)
	if !ok || got.Description != "Lunch" {
		t.Fatalf("expected record back at #1, got %+v", snap.Records)
	}
	if err := s.InsertAt(ctx, 2, rec("X", "1")); !errors.Is(err, &core.StoreError{Kind: core.KindConflict}) {
		t.Fatalf("expected CONFLICT on live id, got %v", err)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Append(ctx, rec("Lunch", "15"))
	cat := "Drinks"
	if err := s.Update(ctx, 1, core.RecordPatch{Category: &cat}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, _ := s.Snapshot(ctx)
	if r, _ := snap.Find(1); r.Category != "Drinks" || r.Description != "Lunch" {
		t.Fatalf("unexpected record after update: %+v", r)
	}
	if err := s.Update(ctx, 9, core.RecordPatch{Category: &cat}); err == nil {
		t.Fatalf("expected error updating missing id")
	}
}
