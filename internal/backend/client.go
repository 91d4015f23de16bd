// Package backend implements the HTTP client the Main Runner uses to talk
// to the central orchestration backend: presence announcement, heartbeats,
// the event-bundle fetch/create/update/delete RPCs, run state updates, and
// artifact transfer.
package backend

import (
	"context"

	"github.com/simbricks/runner/internal/events"
)

// Client is the full backend RPC surface the rest of the runner depends on.
// internal/callback and internal/pump declare their own narrower structural
// subsets of this interface so they never import this package directly.
type Client interface {
	// RunnerStarted announces presence and advertises the executor tags
	// this runner can service.
	RunnerStarted(ctx context.Context, runnerID string, tags []string) error
	// SendHeartbeat reports liveness for runnerID.
	SendHeartbeat(ctx context.Context, runnerID string) error
	// FetchEvents pulls pending work matching query for runnerID.
	FetchEvents(ctx context.Context, runnerID string, query events.Bundle) (events.Bundle, error)
	// CreateEvents submits newly-created events and returns the
	// server-assigned read-shape events (e.g. fragment state rows).
	CreateEvents(ctx context.Context, bundle events.Bundle) (events.Bundle, error)
	// UpdateEvents submits status/result updates for existing events.
	UpdateEvents(ctx context.Context, bundle events.Bundle) error
	// DeleteEvents retracts events, e.g. on fragment teardown.
	DeleteEvents(ctx context.Context, bundle events.Bundle) error
	// UpdateRun sets a run's aggregate state and an optional message.
	UpdateRun(ctx context.Context, runID int64, state, msg string) error
	// GetInstInputArtifact fetches the raw input artifact for an
	// instantiation.
	GetInstInputArtifact(ctx context.Context, instID int64) ([]byte, error)
	// GetFragmentInputArtifact fetches the raw input artifact scoped to one
	// fragment of an instantiation.
	GetFragmentInputArtifact(ctx context.Context, instID, runFragmentID int64) ([]byte, error)
	// SetRunFragmentOutputArtifact uploads a fragment's output artifact
	// stream, named by streamName.
	SetRunFragmentOutputArtifact(ctx context.Context, runFragmentID int64, streamName string, data []byte) error
}
