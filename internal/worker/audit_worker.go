// Package worker drains audit events published by the bot into the SQLite
// audit log.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"ledgerchat/internal/amqp"
	"ledgerchat/internal/audit"
	"ledgerchat/internal/log"
)

// Consumer delivers mutation messages to a handler until ctx is done.
type Consumer interface {
	ConsumeMutations(ctx context.Context, handler func(context.Context, *amqp.MutationMessage) error) error
}

// AuditWorker writes every consumed mutation to a recorder. The recorder
// must ignore command ids it has already stored, since the broker may
// redeliver.
type AuditWorker struct {
	consumer Consumer
	recorder audit.Recorder
	logger   *log.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

func NewAuditWorker(c Consumer, rec audit.Recorder, logger *log.Logger) *AuditWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AuditWorker{
		consumer: c,
		recorder: rec,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Run consumes until ctx is cancelled. Cancellation is not an error.
func (w *AuditWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Audit worker started")
	err := w.consumer.ConsumeMutations(ctx, w.HandleMutation)
	w.logger.InfoContext(ctx, "Audit worker stopped",
		"processed", w.processed.Load(), "failed", w.failed.Load())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleMutation stores one message. A failure makes the consumer requeue it.
func (w *AuditWorker) HandleMutation(ctx context.Context, msg *amqp.MutationMessage) error {
	ev := msg.Event()
	logger := w.logger.WithFields(log.NewFields().
		WithMessage(ev.Identity, "").
		WithCommand(string(ev.Intent), ev.CommandID))

	if err := w.recorder.Record(ctx, ev); err != nil {
		w.failed.Add(1)
		logger.Failure(ctx, "Audit event not stored", err)
		return fmt.Errorf("record audit event %s: %w", ev.CommandID, err)
	}
	w.processed.Add(1)
	logger.DebugContext(ctx, "Audit event stored", "target", ev.Target)
	return nil
}

// Stats returns how many messages were stored and how many failed.
func (w *AuditWorker) Stats() (processed, failed int64) {
	return w.processed.Load(), w.failed.Load()
}
