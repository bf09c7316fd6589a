package amqp

import (
	"encoding/json"
	"time"

	"ledgerchat/internal/audit"
	"ledgerchat/internal/core"
)

// MutationMessage is the wire form of an audit event. The command id is the
// idempotency key on the consumer side.
type MutationMessage struct {
	CommandID  string    `json:"command_id"`
	Identity   string    `json:"identity"`
	Intent     string    `json:"intent"`
	Target     string    `json:"target"`
	Summary    string    `json:"summary"`
	Inverse    string    `json:"inverse,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMutationMessage wraps ev, stamping the publish time.
func NewMutationMessage(ev audit.Event) *MutationMessage {
	return &MutationMessage{
		CommandID:  ev.CommandID,
		Identity:   ev.Identity,
		Intent:     string(ev.Intent),
		Target:     ev.Target,
		Summary:    ev.Summary,
		Inverse:    ev.Inverse,
		OccurredAt: ev.OccurredAt,
		Timestamp:  time.Now(),
	}
}

// Event converts the message back into an audit event.
func (m *MutationMessage) Event() audit.Event {
	return audit.Event{
		CommandID:  m.CommandID,
		Identity:   m.Identity,
		Intent:     core.Intent(m.Intent),
		Target:     m.Target,
		Summary:    m.Summary,
		Inverse:    m.Inverse,
		OccurredAt: m.OccurredAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *MutationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MutationMessageFromJSON decodes a message and rejects ones without a
// command id.
func MutationMessageFromJSON(data []byte) (*MutationMessage, error) {
	var msg MutationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.CommandID == "" {
		return nil, errMissingCommandID
	}
	return &msg, nil
}
