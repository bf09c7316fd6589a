// Package audit records every committed mutation so that ledger and calendar
// changes can be traced back to the utterance that caused them.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ledgerchat/internal/core"
)

// Event describes one committed mutation.
type Event struct {
	CommandID  string      `json:"command_id"`
	Identity   string      `json:"identity"`
	Intent     core.Intent `json:"intent"`
	Target     string      `json:"target"`
	Summary    string      `json:"summary"`
	Inverse    string      `json:"inverse,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Recorder persists audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Log writes events to the default slog logger.
type Log struct{}

func (Log) Record(ctx context.Context, ev Event) error {
	slog.InfoContext(ctx, "Mutation committed",
		"command_id", ev.CommandID,
		"identity", ev.Identity,
		"intent", ev.Intent,
		"target", ev.Target,
		"summary", ev.Summary,
		"inverse", ev.Inverse)
	return nil
}

// Multi fans an event out to every recorder. All recorders are tried; their
// errors are joined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
