package events

import (
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Bundle is the wire-level grouping used by every backend RPC and executor
// exchange: events keyed by event-type-name, each an ordered list.
type Bundle map[string][]cloudevents.Event

// NewBundle returns an empty, ready-to-use Bundle.
func NewBundle() Bundle {
	return make(Bundle)
}

// AddEvent appends a single event under its own Type().
func (b Bundle) AddEvent(evt cloudevents.Event) {
	b[evt.Type()] = append(b[evt.Type()], evt)
}

// AddEvents appends all events in evts under their own Type() values.
func (b Bundle) AddEvents(evts ...cloudevents.Event) {
	for _, evt := range evts {
		b.AddEvent(evt)
	}
}

// Empty reports whether the bundle carries no events of any type.
func (b Bundle) Empty() bool {
	for _, evts := range b {
		if len(evts) > 0 {
			return false
		}
	}
	return true
}

// Events returns every event in the bundle, flattened, in an unspecified
// type-group order but preserving per-type ordering.
func (b Bundle) Events() []cloudevents.Event {
	var all []cloudevents.Event
	for _, evts := range b {
		all = append(all, evts...)
	}
	return all
}

// Count returns the total number of events across all types.
func (b Bundle) Count() int {
	n := 0
	for _, evts := range b {
		n += len(evts)
	}
	return n
}
