// Package callback implements the per-fragment callback tables that
// intercept executor-originated events before they reach the backend:
// aggregators collapsing per-fragment replies, state trackers updating the
// run registry, and artifact uploaders draining output blobs out-of-band.
package callback

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Callback is the closed three-variant contract every callback-table entry
// implements (spec: "close the set to three variants"). Handle returns
// whether the event was consumed; Passthrough reports whether a consumed
// event should still be forwarded to the backend.
type Callback interface {
	Handle(ctx context.Context, evt cloudevents.Event) (matched bool, err error)
	Passthrough() bool
	// Unregister removes this callback from every table it was registered
	// in. Must be idempotent: calling it twice is a no-op the second time.
	Unregister()
}

// Table is one direction's (create/update/delete/query) callback registry,
// owned by a single Fragment Runner Handle and keyed by event-type-name.
// Mutated only from the goroutine that owns the registry/router state (see
// the single-owner-goroutine model) — no internal locking.
type Table struct {
	entries map[string][]Callback
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string][]Callback)}
}

// Register adds cb under typeName. A callback may be registered under
// several type names and across several tables; it is the callback's own
// responsibility (via the embedded tracker) to remember every registration so
// Unregister can undo all of them.
func (t *Table) Register(typeName string, cb Callback) {
	t.entries[typeName] = append(t.entries[typeName], cb)
}

// Remove erases cb from the typeName entry, if present. No-op if cb was
// never registered under typeName.
func (t *Table) Remove(typeName string, cb Callback) {
	list := t.entries[typeName]
	for i, existing := range list {
		if existing == cb {
			t.entries[typeName] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Entries returns the callbacks registered under typeName, in registration
// order. The returned slice must not be mutated by the caller.
func (t *Table) Entries(typeName string) []Callback {
	return t.entries[typeName]
}

// Len reports the total number of (typeName, callback) registrations across
// all type names — used by tests asserting table closure (invariant 4).
func (t *Table) Len() int {
	n := 0
	for _, list := range t.entries {
		n += len(list)
	}
	return n
}
