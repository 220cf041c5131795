// Package rtcache is the Go model of the lazy resolution tables the emitted
// code relies on at run time: dense-id member tables resolved exactly once,
// weakly held class handles that re-resolve after collection, and class
// initialization flags that stay unset on failure so the next access
// retries. The translation core emits guards with these semantics; this
// package gives them an executable, testable form.
package rtcache

import (
	"sync"
	"sync/atomic"
)

// Resolution states of one table entry.
const (
	Unresolved int32 = iota
	Resolving
	Resolved
)

type entry[V any] struct {
	state atomic.Int32
	mu    sync.Mutex
	val   V
}

// Table resolves dense ids to values exactly once. The fast path is a
// single atomic load; the slow path serializes per entry, never across
// entries. A resolver error leaves the entry Unresolved, so a later call
// retries and every caller that raced the failure observes it.
type Table[V any] struct {
	entries []entry[V]
}

// NewTable creates a table with n entries, all Unresolved.
func NewTable[V any](n int) *Table[V] {
	return &Table[V]{entries: make([]entry[V], n)}
}

// Len returns the number of entries.
func (t *Table[V]) Len() int {
	return len(t.entries)
}

// Resolve returns the value of id, invoking resolve on first use. Exactly
// one caller runs resolve per successful resolution; concurrent callers
// block until it finishes.
func (t *Table[V]) Resolve(id int, resolve func() (V, error)) (V, error) {
	e := &t.entries[id]
	if e.state.Load() == Resolved {
		return e.val, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Load() == Resolved {
		return e.val, nil
	}

	e.state.Store(Resolving)
	v, err := resolve()
	if err != nil {
		e.state.Store(Unresolved)
		var zero V
		return zero, err
	}
	e.val = v
	e.state.Store(Resolved)
	return v, nil
}

// State reports the current resolution state of id.
func (t *Table[V]) State(id int) int32 {
	return t.entries[id].state.Load()
}
