package callback

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/events"
)

// StateSink receives a fragment's new state. Implemented by the run
// registry entry this tracker is scoped to.
type StateSink interface {
	SetFragmentState(runFragmentID int64, state events.RunState)
}

// FragmentStateTracker matches ApiRunFragmentStateEventCreate events for a
// specific run, updates the run's fragment_state map, and passes the event
// through to the backend (the backend also wants the state-create record).
type FragmentStateTracker struct {
	tracker

	runID int64
	sink  StateSink
}

// NewFragmentStateTracker registers a tracker for runID across tables (one
// per fragment in the run).
func NewFragmentStateTracker(tables []*Table, runID int64, sink StateSink) *FragmentStateTracker {
	s := &FragmentStateTracker{runID: runID, sink: sink}
	s.tracker.self = s
	s.registerIn(tables, string(events.TypeFragmentStateCreate))
	return s
}

// Passthrough is always true: the backend needs the state-create event too.
func (s *FragmentStateTracker) Passthrough() bool { return true }

func (s *FragmentStateTracker) Handle(ctx context.Context, evt cloudevents.Event) (bool, error) {
	var payload events.FragmentStatePayload
	if err := evt.DataAs(&payload); err != nil {
		return false, nil
	}
	if payload.RunID != s.runID {
		return false, nil
	}

	s.sink.SetFragmentState(payload.RunFragmentID, events.ParseRunState(payload.State))
	return true, nil
}
