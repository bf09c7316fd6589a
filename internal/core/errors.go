package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names one leaf of the error taxonomy.
type ErrorKind string

const (
	KindTransient         ErrorKind = "TRANSIENT"
	KindMalformedResponse ErrorKind = "MALFORMED_RESPONSE"

	KindNotFound      ErrorKind = "NOT_FOUND"
	KindAmbiguous     ErrorKind = "AMBIGUOUS"
	KindNothingToUndo ErrorKind = "NOTHING_TO_UNDO"
	KindInvalidDate   ErrorKind = "INVALID_DATE"
	KindInvalidInput  ErrorKind = "INVALID_INPUT"

	KindUnavailable ErrorKind = "UNAVAILABLE"
	KindConflict    ErrorKind = "CONFLICT"
)

// ClassificationError is returned when the classifier could not produce a
// ParsedCommand.
type ClassificationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassificationError) Error() string {
	if e.Err == nil {
		return "classification: " + string(e.Kind)
	}
	return fmt.Sprintf("classification: %s: %v", e.Kind, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Is matches any *ClassificationError with the same kind, so callers can
// write errors.Is(err, &ClassificationError{Kind: KindTransient}).
func (e *ClassificationError) Is(target error) bool {
	t, ok := target.(*ClassificationError)
	return ok && t.Kind == e.Kind
}

// ResolutionError is returned when slots or references in a ParsedCommand
// cannot be bound. Candidates is set for AMBIGUOUS event references.
type ResolutionError struct {
	Kind       ErrorKind
	Ref        string
	Candidates []CalendarEvent
	Err        error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("resolve: ")
	b.WriteString(string(e.Kind))
	if e.Ref != "" {
		fmt.Fprintf(&b, " %q", e.Ref)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " (%d candidates)", len(e.Candidates))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	return ok && t.Kind == e.Kind
}

// StoreError wraps a failed backend call.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Kind == e.Kind
}

// EngineError is returned by the engines when the addressed entity is gone.
type EngineError struct {
	Kind ErrorKind
	ID   string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine: %s %s", e.Kind, e.ID)
}

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Kind == e.Kind
}

// Unavailable wraps err as a StoreError of kind UNAVAILABLE unless it already
// is a StoreError.
func Unavailable(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Kind: KindUnavailable, Op: op, Err: err}
}

// Conflict builds a CONFLICT StoreError.
func Conflict(op string, err error) error {
	return &StoreError{Kind: KindConflict, Op: op, Err: err}
}

// RecordNotFound builds the engine error for a missing ledger record.
func RecordNotFound(id int64) error {
	return &EngineError{Kind: KindNotFound, ID: fmt.Sprintf("#%d", id)}
}

// EventNotFound builds the engine error for a missing calendar event.
func EventNotFound(id string) error {
	return &EngineError{Kind: KindNotFound, ID: id}
}

// KindOf returns the taxonomy kind carried anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}
