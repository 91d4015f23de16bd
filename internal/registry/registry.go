// Package registry tracks active runs: their fragment-to-handle map, each
// fragment's current RunState, and the per-run callbacks installed across
// every fragment's tables. It implements the start-run handling (spec
// §4.2), kill/status broadcast (§4.3), and the per-tick sweep that tears
// down finished runs.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mitchellh/copystructure"
	"golang.org/x/sync/errgroup"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/backend"
	"github.com/simbricks/runner/internal/callback"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/executorplugin"
	"github.com/simbricks/runner/internal/fragment"
	"github.com/simbricks/runner/pkg/apperrors"
	"github.com/simbricks/runner/pkg/logger"
)

// MainRun tracks one active run: its fragments, their states, and the
// per-run callbacks spanning them.
type MainRun struct {
	RunID         int64
	Fragments     map[int64]*fragment.Handle
	FragmentState map[int64]events.RunState

	stateCallback    callback.Callback
	artifactCallback callback.Callback

	mu sync.Mutex
}

// SetFragmentState implements callback.StateSink.
func (r *MainRun) SetFragmentState(runFragmentID int64, state events.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FragmentState[runFragmentID] = state
}

// allTerminal reports whether every tracked fragment state is terminal.
func (r *MainRun) allTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.FragmentState {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

func (r *MainRun) markAllError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.FragmentState {
		if !s.IsTerminal() {
			r.FragmentState[id] = events.RunStateError
		}
	}
}

func (r *MainRun) tables() []*callback.Table {
	var tables []*callback.Table
	for _, h := range r.Fragments {
		tables = append(tables, h.Tables()...)
	}
	return tables
}

// ExecutorResolver maps a fragment's requested executor tag (or "" for the
// default) to its plugin configuration and factory.
type ExecutorResolver interface {
	Resolve(tag string) (executorplugin.Config, executorplugin.Factory, bool)
}

// Registry owns every active MainRun, keyed by run id.
type Registry struct {
	mu   sync.Mutex
	runs map[int64]*MainRun

	backend  backend.Client
	parser   events.PayloadParser
	executors ExecutorResolver
	queue    chan<- fragment.RouterEvent
	log      logger.Logger
}

// New constructs an empty Registry.
func New(be backend.Client, parser events.PayloadParser, executors ExecutorResolver, queue chan<- fragment.RouterEvent, log logger.Logger) *Registry {
	return &Registry{
		runs:      make(map[int64]*MainRun),
		backend:   be,
		parser:    parser,
		executors: executors,
		queue:     queue,
		log:       log,
	}
}

// Get returns the run for runID, if tracked.
func (reg *Registry) Get(runID int64) (*MainRun, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	run, ok := reg.runs[runID]
	return run, ok
}

// StartRun handles a single ApiRunEventStartRunRead event (spec §4.2).
func (reg *Registry) StartRun(ctx context.Context, startEvent cloudevents.Event) error {
	desc, err := reg.parser.ParseStartRun(startEvent.Data())
	if err != nil {
		return &apperrors.StartFailedError{Stage: "parse", Err: err}
	}

	reg.mu.Lock()
	_, alreadyActive := reg.runs[desc.RunID]
	reg.mu.Unlock()
	if alreadyActive {
		return &apperrors.StartFailedError{RunID: desc.RunID, Stage: "duplicate_run",
			Err: fmt.Errorf("run %d already has an active MainRun", desc.RunID)}
	}

	var instArtifact []byte
	if desc.InstantiationInputArtifactPath != "" {
		instArtifact, err = reg.backend.GetInstInputArtifact(ctx, desc.InstID)
		if err != nil {
			return &apperrors.StartFailedError{RunID: desc.RunID, Stage: "artifact_fetch", Err: err}
		}
	}

	// Step 3: resolve every fragment's executor tag before spawning anything.
	type resolved struct {
		desc    events.FragmentDescriptor
		cfg     executorplugin.Config
		factory executorplugin.Factory
	}
	plan := make([]resolved, 0, len(desc.Fragments))
	for _, fd := range desc.Fragments {
		cfg, factory, ok := reg.executors.Resolve(fd.ExecutorTag)
		if !ok {
			return &apperrors.UnknownExecutorTagError{RunID: desc.RunID, Tag: fd.ExecutorTag}
		}
		plan = append(plan, resolved{desc: fd, cfg: cfg, factory: factory})
	}

	run := &MainRun{
		RunID:         desc.RunID,
		Fragments:     make(map[int64]*fragment.Handle, len(plan)),
		FragmentState: make(map[int64]events.RunState, len(plan)),
	}

	// Step 4: spawn a handle per fragment. On failure, tear down whatever
	// was already spawned and fail the start.
	for _, p := range plan {
		settings := []byte("{}")
		h, startErr := fragment.Start(ctx, p.factory, p.cfg, desc.RunID, p.desc.RunFragmentID,
			p.desc.ExecutorTag, settings, p.desc.Parameters, reg.queue, reg.log)
		if startErr != nil {
			reg.teardownPartial(ctx, run)
			return &apperrors.StartFailedError{RunID: desc.RunID, Stage: "executor_start", Err: startErr}
		}
		run.Fragments[p.desc.RunFragmentID] = h
		run.FragmentState[p.desc.RunFragmentID] = events.RunStateSpawned
	}

	// Step 5: install the three run-spanning callbacks.
	updateStub := startEvent
	run.stateCallback = callback.NewFragmentStateTracker(run.tables(), desc.RunID, run)
	run.artifactCallback = callback.NewArtifactUploader(run.tables(), desc.RunID, artifactBackend{reg.backend})
	aggregator := callback.NewBundleUpdateAggregator(run.tables(), startEvent.ID(), len(plan), updateStub, updateBackend{reg.backend})

	reg.mu.Lock()
	reg.runs[desc.RunID] = run
	reg.mu.Unlock()

	// Step 6-7: dispatch a per-fragment restricted start event, concurrently.
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plan {
		p := p
		h := run.Fragments[p.desc.RunFragmentID]
		g.Go(func() error {
			var fragmentArtifact []byte
			if p.desc.InputArtifactPath != "" {
				fetched, fetchErr := reg.backend.GetFragmentInputArtifact(gctx, desc.InstID, p.desc.RunFragmentID)
				if fetchErr != nil {
					return fmt.Errorf("fragment %d: fetching input artifact: %w", p.desc.RunFragmentID, fetchErr)
				}
				fragmentArtifact = fetched
			}
			cloned, cloneErr := cloneFragmentStart(startEvent, p, instArtifact, fragmentArtifact)
			if cloneErr != nil {
				return fmt.Errorf("fragment %d: cloning start event: %w", p.desc.RunFragmentID, cloneErr)
			}
			bundle := events.NewBundle()
			bundle.AddEvent(cloned)
			return h.SendEvents(gctx, string(events.TypeEventRead), bundle)
		})
	}
	if dispatchErr := g.Wait(); dispatchErr != nil {
		reg.teardownPartial(ctx, run)
		reg.mu.Lock()
		delete(reg.runs, desc.RunID)
		reg.mu.Unlock()
		aggregator.Unregister()
		return &apperrors.StartFailedError{RunID: desc.RunID, Stage: "executor_start", Err: dispatchErr}
	}

	// Every per-fragment dispatch succeeded: mark the start-run event
	// COMPLETED synchronously rather than leaving it for the aggregator to
	// resolve, so a crash between dispatch and aggregation can't cause the
	// same start event to be refetched and restarted.
	aggregator.Unregister()
	completion := events.NewBundle()
	completed := startEvent
	if err := completed.SetData(cloudevents.ApplicationJSON, events.UpdatePayload{
		ID: startEvent.ID(), Status: events.RunStateCompleted.String(),
	}); err != nil {
		return fmt.Errorf("run %d: encoding start-run completion: %w", desc.RunID, err)
	}
	completion.AddEvent(completed)
	return reg.backend.UpdateEvents(ctx, completion)
}

// cloneFragmentStart deep-copies startEvent's data, restricts its fragments
// list to a single fragment, and attaches artifacts as base64 strings
// (spec §4.2 step 6). The body is treated as an opaque JSON object (its
// schema is out of this module's scope) except for the "fragments" key,
// which the Main Runner must narrow before re-dispatching.
func cloneFragmentStart(startEvent cloudevents.Event, p struct {
	desc    events.FragmentDescriptor
	cfg     executorplugin.Config
	factory executorplugin.Factory
}, instArtifact []byte, fragmentArtifact []byte) (cloudevents.Event, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(startEvent.Data(), &body); err != nil {
		return cloudevents.Event{}, fmt.Errorf("decoding start event body: %w", err)
	}

	copied, err := copystructure.Copy(body)
	if err != nil {
		return cloudevents.Event{}, err
	}
	restricted := copied.(map[string]interface{})

	restricted["fragments"] = []map[string]interface{}{{
		"run_fragment_id":       p.desc.RunFragmentID,
		"fragment_executor_tag": p.desc.ExecutorTag,
		"parameters":            json.RawMessage(p.desc.Parameters),
	}}
	if len(instArtifact) > 0 {
		restricted["input_artifact"] = base64.StdEncoding.EncodeToString(instArtifact)
	}
	if len(fragmentArtifact) > 0 {
		restricted["fragment_input_artifact"] = base64.StdEncoding.EncodeToString(fragmentArtifact)
	}

	cloned := startEvent
	if err := cloned.SetData(cloudevents.ApplicationJSON, restricted); err != nil {
		return cloudevents.Event{}, fmt.Errorf("encoding restricted start event: %w", err)
	}
	cloned.SetID(fmt.Sprintf("%s-%d", startEvent.ID(), p.desc.RunFragmentID))
	return cloned, nil
}

// teardownPartial stops whatever fragment handles were spawned for a run
// whose start failed midway. Best-effort: errors are logged, not returned.
func (reg *Registry) teardownPartial(ctx context.Context, run *MainRun) {
	for _, h := range run.Fragments {
		if err := h.Stop(ctx); err != nil && reg.log != nil {
			reg.log.Error(ctx, err, "stopping fragment during partial teardown")
		}
	}
}

// HandleRunControl implements kill/status broadcast (spec §4.3).
func (reg *Registry) HandleRunControl(ctx context.Context, evt cloudevents.Event) (cloudevents.Event, bool, error) {
	var payload events.RunEventPayload
	if err := evt.DataAs(&payload); err != nil {
		return cloudevents.Event{}, false, err
	}

	run, ok := reg.Get(payload.RunID)
	if !ok {
		update := evt
		updatePayload := events.UpdatePayload{ID: evt.ID(), Status: events.RunStateCancelled.String()}
		if err := update.SetData(cloudevents.ApplicationJSON, updatePayload); err != nil {
			return cloudevents.Event{}, false, err
		}
		return update, true, nil
	}

	callback.NewBundleUpdateAggregator(run.tables(), evt.ID(), len(run.Fragments), evt, updateBackend{reg.backend})

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range run.Fragments {
		h := h
		g.Go(func() error {
			bundle := events.NewBundle()
			bundle.AddEvent(evt)
			return h.SendEvents(gctx, string(events.TypeEventRead), bundle)
		})
	}
	return cloudevents.Event{}, false, g.Wait()
}

// Sweep tears down every run whose fragments are all in a terminal state
// (spec §4.2: "the registry is swept"). Callbacks are removed before
// executors are stopped so trailing output is filtered before readers die.
func (reg *Registry) Sweep(ctx context.Context) {
	reg.mu.Lock()
	var done []*MainRun
	for id, run := range reg.runs {
		if run.allTerminal() {
			done = append(done, run)
			delete(reg.runs, id)
		}
	}
	reg.mu.Unlock()

	for _, run := range done {
		if run.stateCallback != nil {
			run.stateCallback.Unregister()
		}
		if run.artifactCallback != nil {
			run.artifactCallback.Unregister()
		}
		var wg sync.WaitGroup
		for _, h := range run.Fragments {
			h := h
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := h.Stop(ctx); err != nil && reg.log != nil {
					reg.log.Error(ctx, err, "stopping fragment during sweep")
				}
			}()
		}
		wg.Wait()
	}
}

// HandleReaderFailure implements the resolved first Open Question of
// spec §4.4/§9: when a fragment's reader dies, every still-non-terminal
// fragment state of its owning run is marked ERROR, its callbacks are
// removed, its peer handles are stopped, and RunState.ERROR is reported to
// the backend — rather than leaving the run in the registry with stale
// fragment states.
func (reg *Registry) HandleReaderFailure(ctx context.Context, dead *fragment.Handle) {
	run, ok := reg.Get(dead.RunID)
	if !ok {
		return
	}

	run.markAllError()

	if run.stateCallback != nil {
		run.stateCallback.Unregister()
	}
	if run.artifactCallback != nil {
		run.artifactCallback.Unregister()
	}

	reg.mu.Lock()
	delete(reg.runs, run.RunID)
	reg.mu.Unlock()

	for _, h := range run.Fragments {
		if err := h.Stop(ctx); err != nil && reg.log != nil {
			reg.log.Error(ctx, err, "stopping fragment after reader failure")
		}
	}

	if err := reg.backend.UpdateRun(ctx, run.RunID, events.RunStateError.String(), "fragment reader failed"); err != nil && reg.log != nil {
		reg.log.Error(ctx, err, "reporting run error to backend after reader failure")
	}
}

// ActiveRunCount reports the number of currently tracked runs, for the
// active_runs gauge.
func (reg *Registry) ActiveRunCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.runs)
}

// updateBackend adapts backend.Client to callback.BackendUpdater.
type updateBackend struct{ c backend.Client }

func (u updateBackend) UpdateEvents(ctx context.Context, bundle events.Bundle) error {
	return u.c.UpdateEvents(ctx, bundle)
}

// artifactBackend adapts backend.Client to callback.BackendArtifactUploader.
type artifactBackend struct{ c backend.Client }

func (a artifactBackend) SetRunFragmentOutputArtifact(ctx context.Context, runFragmentID int64, name string, data []byte) error {
	return a.c.SetRunFragmentOutputArtifact(ctx, runFragmentID, name, data)
}
