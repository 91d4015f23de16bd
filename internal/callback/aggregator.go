package callback

import (
	"context"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/events"
)

// BackendUpdater is the slice of the backend client an Aggregator needs:
// sending a single update-events RPC. Declared locally (rather than
// importing internal/backend) to keep this package dependency-free of the
// concrete transport.
type BackendUpdater interface {
	UpdateEvents(ctx context.Context, bundle events.Bundle) error
}

// BundleUpdateAggregator collapses N per-fragment update replies into one
// backend update. It matches only update events whose id equals the
// aggregated event's id, ORs in ERROR if any reply was not COMPLETED, and
// removes itself from every table on the Nth match (invariant 1).
type BundleUpdateAggregator struct {
	tracker

	eventID    string
	nFragments int
	received   int
	failed     bool
	updateStub cloudevents.Event
	backend    BackendUpdater
}

// NewBundleUpdateAggregator constructs an aggregator for eventID spanning
// nFragments replies and registers it under TypeEventUpdate in every table
// in tables (one per participating fragment).
func NewBundleUpdateAggregator(
	tables []*Table,
	eventID string,
	nFragments int,
	updateStub cloudevents.Event,
	backend BackendUpdater,
) *BundleUpdateAggregator {
	a := &BundleUpdateAggregator{
		eventID:    eventID,
		nFragments: nFragments,
		updateStub: updateStub,
		backend:    backend,
	}
	a.tracker.self = a
	a.registerIn(tables, string(events.TypeEventUpdate))
	return a
}

// Passthrough is always false: the aggregator sends its own single update
// rather than letting the per-fragment reply pass through.
func (a *BundleUpdateAggregator) Passthrough() bool { return false }

// Handle matches update events carrying a.eventID as their subject id. It
// never returns an error on a non-matching event; only the final,
// Nth-match backend call can fail.
func (a *BundleUpdateAggregator) Handle(ctx context.Context, evt cloudevents.Event) (bool, error) {
	var payload events.UpdatePayload
	if err := evt.DataAs(&payload); err != nil {
		return false, nil
	}
	if payload.ID != a.eventID {
		return false, nil
	}

	a.received++
	if payload.Status != events.RunStateCompleted.String() {
		a.failed = true
	}

	if a.received < a.nFragments {
		return true, nil
	}
	if a.received > a.nFragments {
		return true, fmt.Errorf("aggregator for event %s received %d updates, arity is %d", a.eventID, a.received, a.nFragments)
	}

	status := events.RunStateCompleted
	if a.failed {
		status = events.RunStateError
	}

	final := a.updateStub
	finalPayload := events.UpdatePayload{ID: a.eventID, Status: status.String()}
	if err := final.SetData(cloudevents.ApplicationJSON, finalPayload); err != nil {
		a.Unregister()
		return true, fmt.Errorf("encoding aggregated update: %w", err)
	}

	bundle := events.NewBundle()
	bundle.AddEvent(final)

	err := a.backend.UpdateEvents(ctx, bundle)
	a.Unregister()
	return true, err
}
