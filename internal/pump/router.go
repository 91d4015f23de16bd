package pump

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/backend"
	"github.com/simbricks/runner/internal/callback"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/fragment"
	"github.com/simbricks/runner/internal/registry"
	"github.com/simbricks/runner/pkg/apperrors"
	"github.com/simbricks/runner/pkg/logger"
)

// Router is the single cooperative loop draining the shared executor-event
// queue, applying callback tables, and forwarding passthrough events to the
// backend (spec §4.8).
type Router struct {
	runnerID string
	queue    <-chan fragment.RouterEvent
	backend  backend.Client
	registry *registry.Registry
	log      logger.Logger
}

// NewRouter constructs a Router draining queue.
func NewRouter(runnerID string, queue <-chan fragment.RouterEvent, be backend.Client, reg *registry.Registry, log logger.Logger) *Router {
	return &Router{runnerID: runnerID, queue: queue, backend: be, registry: reg, log: log}
}

// Run blocks, draining the queue until it is closed or ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case re, ok := <-r.queue:
			if !ok {
				return
			}
			r.dispatch(ctx, re)
		}
	}
}

// dispatch handles one queue entry: a reader-failure signal or a real
// (handle, type, bundle) triple.
func (r *Router) dispatch(ctx context.Context, re fragment.RouterEvent) {
	if re.Err != nil {
		r.registry.HandleReaderFailure(ctx, re.Handle)
		return
	}

	if re.TypeName == string(events.TypeEventRead) {
		violation := &apperrors.ProtocolViolationError{ExecutorName: re.Handle.ExecutorName, EventType: re.TypeName}
		if r.log != nil {
			r.log.Error(ctx, violation, "executor protocol violation")
		}
		return
	}

	dir, ok := directionForTypeName(re.TypeName)
	if !ok {
		if r.log != nil {
			r.log.Warnf(ctx, "dropping executor event of unrouteable type %q", re.TypeName)
		}
		return
	}
	table := re.Handle.Table(dir)

	passthrough := events.NewBundle()
	for _, evts := range re.Bundle {
		for _, evt := range evts {
			if applyCallbacks(ctx, table, evt, r.log) {
				continue
			}
			passthrough.AddEvent(evt)
		}
	}

	if passthrough.Empty() {
		return
	}

	reply, err := r.forward(ctx, dir, passthrough)
	if err != nil {
		if r.log != nil {
			r.log.Error(ctx, err, "forwarding passthrough bundle to backend failed")
		}
		return
	}
	if reply != nil && !reply.Empty() {
		if err := re.Handle.SendEvents(ctx, string(events.TypeEventRead), *reply); err != nil && r.log != nil {
			r.log.Error(ctx, err, "sending backend reply back to executor failed")
		}
	}
}

// applyCallbacks runs table's matching rule for evt via callback.Apply and
// returns true if the event was consumed (not passthrough). An unmatched
// event is never consumption: the caller still forwards it.
func applyCallbacks(ctx context.Context, table *callback.Table, evt cloudevents.Event, log logger.Logger) bool {
	consumed, passthrough, err := callback.Apply(ctx, table, evt)
	if err != nil {
		if log != nil {
			log.Error(ctx, err, "callback handling event failed")
		}
		return false
	}
	return consumed && !passthrough
}

// directionForTypeName maps an executor-originated event type name to the
// callback table / backend RPC direction it belongs to.
func directionForTypeName(typeName string) (events.Direction, bool) {
	switch events.TypeName(typeName) {
	case events.TypeFragmentStateCreate, events.TypeFragmentArtifactCreate, events.TypeEventCreate:
		return events.DirectionCreate, true
	case events.TypeEventUpdate:
		return events.DirectionUpdate, true
	case events.TypeEventDelete:
		return events.DirectionDelete, true
	case events.TypeEventQuery:
		return events.DirectionQuery, true
	default:
		return "", false
	}
}

// forward sends a passthrough bundle to the backend using the RPC matching
// dir. Only create and query return reply events (spec §4.8).
func (r *Router) forward(ctx context.Context, dir events.Direction, bundle events.Bundle) (*events.Bundle, error) {
	switch dir {
	case events.DirectionCreate:
		reply, err := r.backend.CreateEvents(ctx, bundle)
		if err != nil {
			return nil, err
		}
		return &reply, nil
	case events.DirectionUpdate:
		return nil, r.backend.UpdateEvents(ctx, bundle)
	case events.DirectionDelete:
		return nil, r.backend.DeleteEvents(ctx, bundle)
	case events.DirectionQuery:
		reply, err := r.backend.FetchEvents(ctx, r.runnerID, bundle)
		if err != nil {
			return nil, err
		}
		return &reply, nil
	default:
		return nil, nil
	}
}
