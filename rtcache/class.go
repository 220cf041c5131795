package rtcache

import (
	"sync"
	"sync/atomic"
)

// Class is a resolved runtime class handle.
type Class struct {
	Name string
}

type classEntry struct {
	mu          sync.Mutex
	handle      atomic.Pointer[Class]
	initialized atomic.Bool
}

// ClassTable holds weakly referenced class handles plus their
// initialization flags. A handle can disappear at any time (the runtime
// holds classes weakly so unloading stays possible); Ensure re-resolves a
// cleared slot under the per-id lock. Initialization runs at most once
// successfully, and a failed initializer leaves the flag unset so the
// failure is raised again on every subsequent first-use.
type ClassTable struct {
	entries []classEntry
}

// NewClassTable creates a table with n class slots.
func NewClassTable(n int) *ClassTable {
	return &ClassTable{entries: make([]classEntry, n)}
}

// Ensure returns the class in slot id, resolving it if the slot is empty or
// its weak handle was cleared.
func (t *ClassTable) Ensure(id int, resolve func() (*Class, error)) (*Class, error) {
	e := &t.entries[id]
	if c := e.handle.Load(); c != nil {
		return c, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.handle.Load(); c != nil {
		return c, nil
	}
	c, err := resolve()
	if err != nil {
		return nil, err
	}
	e.handle.Store(c)
	return c, nil
}

// EnsureInitialized runs init for slot id if it has not yet completed
// successfully. The flag is set only after init returns nil; an error
// leaves it unset and the next caller retries.
func (t *ClassTable) EnsureInitialized(id int, init func() error) error {
	e := &t.entries[id]
	if e.initialized.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized.Load() {
		return nil
	}
	if err := init(); err != nil {
		return err
	}
	e.initialized.Store(true)
	return nil
}

// Initialized reports whether slot id completed initialization.
func (t *ClassTable) Initialized(id int) bool {
	return t.entries[id].initialized.Load()
}

// Invalidate clears the weak handle in slot id, as a collection would. The
// initialization flag is untouched: class identity survives the handle.
func (t *ClassTable) Invalidate(id int) {
	t.entries[id].handle.Store(nil)
}
