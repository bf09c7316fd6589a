// Package history keeps a bounded per-identity record of the conversation so
// the language model can read follow-ups like "change it to 20" against the
// previous turns.
package history

import (
	"context"
	"sync"
	"time"
)

// Role says who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Store persists turns per identity.
type Store interface {
	// RecentTurns returns at most n turns of identity, oldest first.
	RecentTurns(ctx context.Context, identity string, n int) ([]Turn, error)
	AppendTurns(ctx context.Context, identity string, turns ...Turn) error
}

// Memory is an in-process Store keeping the last Limit turns per identity.
type Memory struct {
	mu    sync.Mutex
	limit int
	turns map[string][]Turn
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory keeping limit turns per identity; limit <= 0
// keeps 100.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 100
	}
	return &Memory{limit: limit, turns: make(map[string][]Turn)}
}

func (m *Memory) RecentTurns(_ context.Context, identity string, n int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.turns[identity]
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return append([]Turn(nil), all...), nil
}

func (m *Memory) AppendTurns(_ context.Context, identity string, turns ...Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append(m.turns[identity], turns...)
	if over := len(all) - m.limit; over > 0 {
		all = append([]Turn(nil), all[over:]...)
	}
	m.turns[identity] = all
	return nil
}
