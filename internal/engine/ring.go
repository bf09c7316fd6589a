package engine

import "ledgerchat/internal/core"

// Ring is a bounded stack of undo entries for one identity. When full, a
// push drops the oldest entry. Ring is not safe for concurrent use; the
// owning session serialises access.
type Ring struct {
	depth   int
	entries []core.UndoEntry
}

// NewRing returns a ring holding at most depth entries (minimum 1).
func NewRing(depth int) *Ring {
	if depth < 1 {
		depth = 1
	}
	return &Ring{depth: depth}
}

// Push records the inverse of a committed mutation.
func (r *Ring) Push(e core.UndoEntry) {
	if len(r.entries) == r.depth {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, e)
}

// Peek returns a copy of the newest entry, or nil when empty.
func (r *Ring) Peek() *core.UndoEntry {
	if len(r.entries) == 0 {
		return nil
	}
	e := r.entries[len(r.entries)-1]
	return &e
}

// Pop discards the newest entry.
func (r *Ring) Pop() (core.UndoEntry, bool) {
	if len(r.entries) == 0 {
		return core.UndoEntry{}, false
	}
	e := r.entries[len(r.entries)-1]
	r.entries = r.entries[:len(r.entries)-1]
	return e, true
}

func (r *Ring) Len() int { return len(r.entries) }
