// Package pump implements the Main Runner's two cooperative loops: the
// Event Pump, which periodically polls the backend for pending work and
// dispatches it (spec §4.6, §4.7), and the Executor Event Router, which
// drains executor-originated events and applies callback tables before
// forwarding to the backend (spec §4.8).
package pump

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/backend"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/registry"
	"github.com/simbricks/runner/pkg/logger"
)

// Pump is the single cooperative loop that polls the backend and
// dispatches runner-scoped, run-scoped, and start-run events.
type Pump struct {
	runnerID string
	backend  backend.Client
	registry *registry.Registry
	log      logger.Logger
	interval time.Duration
}

// New constructs a Pump polling every interval.
func New(runnerID string, be backend.Client, reg *registry.Registry, log logger.Logger, interval time.Duration) *Pump {
	return &Pump{runnerID: runnerID, backend: be, registry: reg, log: log, interval: interval}
}

// Run blocks, ticking every p.interval, until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one iteration of the pump loop (spec §4.6).
func (p *Pump) tick(ctx context.Context) {
	p.registry.Sweep(ctx)

	query := buildQueryBundle()
	fetched, err := p.backend.FetchEvents(ctx, p.runnerID, query)
	if err != nil {
		if p.log != nil {
			p.log.Error(ctx, err, "fetch_events failed")
		}
		return
	}

	updates := events.NewBundle()
	for typeName, evts := range fetched {
		switch events.TypeName(typeName) {
		case events.TypeRunnerRead:
			for _, evt := range evts {
				if upd, ok := p.handleRunnerEvent(ctx, evt); ok {
					updates.AddEvent(upd)
				}
			}
		case events.TypeRunRead:
			for _, evt := range evts {
				p.handleRunEvent(ctx, evt, &updates)
			}
		case events.TypeStartRunRead:
			for _, evt := range evts {
				if upd, ok := p.handleStartRunEvent(ctx, evt); ok {
					updates.AddEvent(upd)
				}
			}
		default:
			if p.log != nil {
				p.log.Warnf(ctx, "dropping events of unknown type %q", typeName)
			}
		}
	}

	if !updates.Empty() {
		if err := p.backend.UpdateEvents(ctx, updates); err != nil && p.log != nil {
			p.log.Error(ctx, err, "sending aggregated pump updates failed")
		}
	}
}

// buildQueryBundle constructs the three-query bundle of spec §4.6 step 2:
// runner-scoped PENDING events, run PENDING events excluding START_RUN, and
// START_RUN PENDING events, kept separate because start-run payloads carry
// large JSON blobs and may need different pagination.
func buildQueryBundle() events.Bundle {
	q := events.NewBundle()
	q.AddEvent(queryEvent(events.TypeRunnerRead))
	q.AddEvent(queryEvent(events.TypeRunRead))
	q.AddEvent(queryEvent(events.TypeStartRunRead))
	return q
}

func queryEvent(typeName events.TypeName) cloudevents.Event {
	evt := cloudevents.NewEvent()
	evt.SetType(string(typeName))
	evt.SetSource("main-runner")
	evt.SetID(string(typeName))
	_ = evt.SetData(cloudevents.ApplicationJSON, map[string]string{"status": "PENDING"})
	return evt
}

// handleRunnerEvent implements spec §4.7: the only runner-scoped event is
// heartbeat, which triggers a backend heartbeat and completes immediately.
func (p *Pump) handleRunnerEvent(ctx context.Context, evt cloudevents.Event) (cloudevents.Event, bool) {
	var payload events.RunnerEventPayload
	if err := evt.DataAs(&payload); err != nil {
		if p.log != nil {
			p.log.Error(ctx, err, "decoding runner event")
		}
		return cloudevents.Event{}, false
	}
	if payload.Name != events.SubtypeHeartbeat {
		if p.log != nil {
			p.log.Warnf(ctx, "dropping unknown runner event %q", payload.Name)
		}
		return cloudevents.Event{}, false
	}

	if err := p.backend.SendHeartbeat(ctx, p.runnerID); err != nil {
		if p.log != nil {
			p.log.Error(ctx, err, "send_heartbeat failed")
		}
		return cloudevents.Event{}, false
	}

	update := evt
	_ = update.SetData(cloudevents.ApplicationJSON, events.UpdatePayload{
		ID: evt.ID(), Status: events.RunStateCompleted.String(),
	})
	return update, true
}

// handleRunEvent implements spec §4.2/§4.3 dispatch: KILL/SIMULATION_STATUS
// events go to the registry's kill/status broadcast; any updates the
// registry produces directly (unknown-run cancellations) are folded into
// the shared aggregated update bundle.
func (p *Pump) handleRunEvent(ctx context.Context, evt cloudevents.Event, updates *events.Bundle) {
	update, consumed, err := p.registry.HandleRunControl(ctx, evt)
	if err != nil {
		if p.log != nil {
			p.log.Error(ctx, err, "handling run control event failed")
		}
		return
	}
	if consumed {
		updates.AddEvent(update)
	}
}

// handleStartRunEvent implements spec §4.2 step 1-7 via the registry. On
// failure, it returns an ERROR update for the start-run event so the backend
// doesn't keep resending it indefinitely; the run's own state is not
// reported through UpdateRun here.
func (p *Pump) handleStartRunEvent(ctx context.Context, evt cloudevents.Event) (cloudevents.Event, bool) {
	if err := p.registry.StartRun(ctx, evt); err != nil {
		if p.log != nil {
			p.log.Error(ctx, err, "start_run failed")
		}
		update := evt
		_ = update.SetData(cloudevents.ApplicationJSON, events.UpdatePayload{
			ID: evt.ID(), Status: events.RunStateError.String(), Message: err.Error(),
		})
		return update, true
	}
	// On success, the registry itself sends the start-run completion
	// synchronously (spec §4.4, resolved second Open Question) — nothing
	// further to fold into the pump's own aggregated update.
	return cloudevents.Event{}, false
}
