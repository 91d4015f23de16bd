// Package fragment implements the Fragment Runner Handle: the per-fragment
// pairing of an executor plugin instance with its four directional
// callback tables and a background reader task that feeds executor events
// onto the shared router queue (spec §4.4).
package fragment

import (
	"context"
	"fmt"
	"sync"

	"github.com/simbricks/runner/internal/callback"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/executorplugin"
	"github.com/simbricks/runner/pkg/apperrors"
	"github.com/simbricks/runner/pkg/logger"
)

// RouterEvent is one (handle, type, bundle) tuple pushed onto the shared
// router queue by a Handle's reader task. A non-nil Err instead marks the
// terminal event a reader pushes when it fails: Handle identifies which
// fragment died, TypeName and Bundle are unset.
type RouterEvent struct {
	Handle   *Handle
	TypeName string
	Bundle   events.Bundle
	Err      error
}

// Handle pairs one running executor instance with its callback tables and
// reader task. Owned by exactly one run; a run has one Handle per fragment.
type Handle struct {
	RunID         int64
	RunFragmentID int64
	ExecutorName  string
	ExecutorTag   string

	plugin executorplugin.Plugin
	tables map[events.Direction]*callback.Table

	queue chan<- RouterEvent
	log   logger.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	stopOnce bool
}

// Start instantiates plugin via factory, starts it for this fragment, and
// launches the background reader. queue is the shared router channel every
// Handle in the process feeds into.
func Start(
	ctx context.Context,
	factory executorplugin.Factory,
	cfg executorplugin.Config,
	runID, runFragmentID int64,
	executorTag string,
	settings, parameters []byte,
	queue chan<- RouterEvent,
	log logger.Logger,
) (*Handle, error) {
	plugin, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("fragment %d: building executor %q: %w", runFragmentID, cfg.Name, err)
	}
	if err := plugin.Start(ctx, settings, parameters); err != nil {
		return nil, fmt.Errorf("fragment %d: starting executor %q: %w", runFragmentID, cfg.Name, err)
	}

	tables := make(map[events.Direction]*callback.Table, len(events.AllDirections))
	for _, dir := range events.AllDirections {
		tables[dir] = callback.NewTable()
	}

	readerCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		RunID:         runID,
		RunFragmentID: runFragmentID,
		ExecutorName:  plugin.Name(),
		ExecutorTag:   executorTag,
		plugin:        plugin,
		tables:        tables,
		queue:         queue,
		log:           log,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	go h.read(readerCtx)
	return h, nil
}

// Table returns the callback table for dir.
func (h *Handle) Table(dir events.Direction) *callback.Table {
	return h.tables[dir]
}

// Tables returns every callback table owned by this handle, in no
// particular order, for callers registering a single callback across every
// table (e.g. state trackers, artifact uploaders).
func (h *Handle) Tables() []*callback.Table {
	out := make([]*callback.Table, 0, len(h.tables))
	for _, t := range h.tables {
		out = append(out, t)
	}
	return out
}

// SendEvents forwards a bundle to this fragment's executor as typeName.
func (h *Handle) SendEvents(ctx context.Context, typeName string, bundle events.Bundle) error {
	return h.plugin.SendEvents(ctx, typeName, bundle)
}

func (h *Handle) read(ctx context.Context) {
	defer close(h.done)
	for {
		typeName, bundle, err := h.plugin.GetEvents(ctx)
		if err != nil {
			readerErr := &apperrors.ReaderFailedError{ExecutorName: h.ExecutorName, Err: err}
			if h.log != nil {
				h.log.Error(ctx, readerErr, "fragment reader terminated")
			}
			select {
			case h.queue <- RouterEvent{Handle: h, Err: readerErr}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case h.queue <- RouterEvent{Handle: h, TypeName: typeName, Bundle: bundle}:
		case <-ctx.Done():
			return
		}
	}
}

// Stop clears all four callback tables, cancels and awaits the reader, then
// stops the executor. The executor stop gets ctx with its cancellation
// removed, so it runs to completion even if ctx is already done; the reader
// cancellation always proceeds regardless of ctx. Idempotent.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopOnce {
		h.mu.Unlock()
		return nil
	}
	h.stopOnce = true
	h.mu.Unlock()

	for _, t := range h.tables {
		clearTable(t)
	}

	h.cancel()
	<-h.done

	// Shield the executor stop from the caller's cancellation: teardown
	// must finish even if the outer context is already done.
	return h.plugin.Stop(context.WithoutCancel(ctx))
}

// clearTable unregisters every callback still present in t. Table doesn't
// expose its full key set, so this walks the known event-type vocabulary
// used across all four directions.
func clearTable(t *callback.Table) {
	for _, typeName := range events.AllTypeNames {
		for _, cb := range append([]callback.Callback(nil), t.Entries(typeName)...) {
			cb.Unregister()
		}
	}
}
