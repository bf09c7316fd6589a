package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"ledgerchat/internal/amqp"
	"ledgerchat/internal/audit"
	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
	"ledgerchat/internal/storage"
)

// fakeConsumer hands each queued message to the handler, then blocks until
// ctx is done like the real consumer.
type fakeConsumer struct {
	msgs    []*amqp.MutationMessage
	results []error
}

func (f *fakeConsumer) ConsumeMutations(ctx context.Context, handler func(context.Context, *amqp.MutationMessage) error) error {
	for _, m := range f.msgs {
		f.results = append(f.results, handler(ctx, m))
	}
	<-ctx.Done()
	return ctx.Err()
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, audit.Event) error { return errors.New("database is locked") }

func quietLogger() *log.Logger {
	return log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
}

func mutation(id string) *amqp.MutationMessage {
	return amqp.NewMutationMessage(audit.Event{
		CommandID:  id,
		Identity:   "42",
		Intent:     core.IntentCreateExpense,
		Target:     "#1",
		Summary:    "saved #1 Lunch 15.00 EUR",
		Inverse:    "delete_record #1",
		OccurredAt: time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC),
	})
}

func TestAuditWorkerStoresEvents(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	// the broker redelivers c1
	consumer := &fakeConsumer{msgs: []*amqp.MutationMessage{mutation("c1"), mutation("c2"), mutation("c1")}}
	w := NewAuditWorker(consumer, repo, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: %v", err)
	}

	events, err := repo.ListAudit(context.Background(), "42", 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("stored %d events, want 2: %+v", len(events), events)
	}
	if processed, failed := w.Stats(); processed != 3 || failed != 0 {
		t.Errorf("stats = %d/%d", processed, failed)
	}
}

func TestAuditWorkerReportsFailures(t *testing.T) {
	consumer := &fakeConsumer{msgs: []*amqp.MutationMessage{mutation("c1")}}
	w := NewAuditWorker(consumer, failingRecorder{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	if len(consumer.results) != 1 || consumer.results[0] == nil {
		t.Errorf("handler result = %v, want error so the message is requeued", consumer.results)
	}
	if _, failed := w.Stats(); failed != 1 {
		t.Errorf("failed = %d", failed)
	}
}
