package callback

import (
	"context"
	"encoding/base64"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/events"
)

// BackendArtifactUploader is the slice of the backend client an
// ArtifactUploader needs.
type BackendArtifactUploader interface {
	SetRunFragmentOutputArtifact(ctx context.Context, runFragmentID int64, name string, data []byte) error
}

// ArtifactUploader matches ApiRunFragmentOutputArtifactEventCreate events
// for a specific run, base64-decodes the embedded artifact, and streams it
// to the backend's output-artifact endpoint. The event is fully consumed —
// the backend never sees the blob through the event channel.
type ArtifactUploader struct {
	tracker

	runID   int64
	backend BackendArtifactUploader
}

// NewArtifactUploader registers an uploader for runID across tables.
func NewArtifactUploader(tables []*Table, runID int64, backend BackendArtifactUploader) *ArtifactUploader {
	a := &ArtifactUploader{runID: runID, backend: backend}
	a.tracker.self = a
	a.registerIn(tables, string(events.TypeFragmentArtifactCreate))
	return a
}

// Passthrough is always false: the artifact never reaches the backend
// through the event channel, only via the dedicated upload RPC.
func (a *ArtifactUploader) Passthrough() bool { return false }

func (a *ArtifactUploader) Handle(ctx context.Context, evt cloudevents.Event) (bool, error) {
	var payload events.ArtifactPayload
	if err := evt.DataAs(&payload); err != nil {
		return false, nil
	}
	if payload.RunID != a.runID {
		return false, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload.OutputArtifact)
	if err != nil {
		return true, fmt.Errorf("decoding output artifact for fragment %d: %w", payload.RunFragmentID, err)
	}

	if err := a.backend.SetRunFragmentOutputArtifact(ctx, payload.RunFragmentID, payload.OutputArtifactName, data); err != nil {
		return true, fmt.Errorf("uploading output artifact for fragment %d: %w", payload.RunFragmentID, err)
	}
	return true, nil
}
