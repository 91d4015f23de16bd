package events

import "encoding/json"

// RunEventPayload is the data carried by a TypeRunRead event: a run-scoped
// control event (KILL or SIMULATION_STATUS).
type RunEventPayload struct {
	RunID   int64  `json:"run_id"`
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// RunnerEventPayload is the data carried by a TypeRunnerRead event.
type RunnerEventPayload struct {
	Name string `json:"name"`
}

// FragmentStatePayload is the data carried by a TypeFragmentStateCreate
// event, reported by an executor.
type FragmentStatePayload struct {
	RunID         int64  `json:"run_id"`
	RunFragmentID int64  `json:"run_fragment_id"`
	State         string `json:"state"`
}

// ArtifactPayload is the data carried by a TypeFragmentArtifactCreate event.
type ArtifactPayload struct {
	RunID              int64  `json:"run_id"`
	RunFragmentID      int64  `json:"run_fragment_id"`
	OutputArtifact     string `json:"output_artifact"`      // base64-encoded
	OutputArtifactName string `json:"output_artifact_name"`
}

// UpdatePayload is the data carried by an update event sent back to the
// backend, e.g. by a BundleUpdateAggregator.
type UpdatePayload struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StartRunDescriptor is what a PayloadParser extracts from a start-run
// event's opaque system/simulation/instantiation JSON blobs: the
// per-fragment parameter mappings and any declared input-artifact paths
// (spec step 1-2). Parsing the blobs themselves is out of this module's
// scope; PayloadParser is the seam a real parser plugs into.
type StartRunDescriptor struct {
	RunID                          int64
	InstID                         int64
	Fragments                      []FragmentDescriptor
	InstantiationInputArtifactPath string // empty if the instantiation declares none
}

// FragmentDescriptor is one run-fragment's resolved start parameters.
type FragmentDescriptor struct {
	RunFragmentID     int64
	ExecutorTag       string // empty means "use the default executor"
	Parameters        json.RawMessage
	InputArtifactPath string // empty if this fragment declares none
}

// PayloadParser extracts a StartRunDescriptor from a start-run event's raw
// JSON body. Production deployments inject a parser that understands the
// backend's system/simulation/instantiation schema; DefaultPayloadParser
// below is a minimal structural parser sufficient for fixtures and tests.
type PayloadParser interface {
	ParseStartRun(raw json.RawMessage) (*StartRunDescriptor, error)
}

// wireStartRun is the minimal JSON shape DefaultPayloadParser understands:
// a run id, a flat fragment list, and an optional instantiation-level
// artifact path. Real instantiation/system/simulation documents carry much
// more, but everything beyond this shape is opaque to the Main Runner.
type wireStartRun struct {
	RunID         int64 `json:"run_id"`
	Instantiation struct {
		ID                int64  `json:"id"`
		InputArtifactPath string `json:"input_artifact_path,omitempty"`
	} `json:"instantiation"`
	Fragments []struct {
		RunFragmentID       int64           `json:"run_fragment_id"`
		FragmentExecutorTag string          `json:"fragment_executor_tag,omitempty"`
		Parameters          json.RawMessage `json:"parameters,omitempty"`
		InputArtifactPath   string          `json:"input_artifact_path,omitempty"`
	} `json:"fragments"`
}

// DefaultPayloadParser parses the minimal start-run JSON shape directly,
// with no external simulation-description library involved.
type DefaultPayloadParser struct{}

func (DefaultPayloadParser) ParseStartRun(raw json.RawMessage) (*StartRunDescriptor, error) {
	var wire wireStartRun
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	desc := &StartRunDescriptor{
		RunID:                          wire.RunID,
		InstID:                         wire.Instantiation.ID,
		InstantiationInputArtifactPath: wire.Instantiation.InputArtifactPath,
		Fragments:                      make([]FragmentDescriptor, 0, len(wire.Fragments)),
	}
	for _, f := range wire.Fragments {
		desc.Fragments = append(desc.Fragments, FragmentDescriptor{
			RunFragmentID:     f.RunFragmentID,
			ExecutorTag:       f.FragmentExecutorTag,
			Parameters:        f.Parameters,
			InputArtifactPath: f.InputArtifactPath,
		})
	}
	return desc, nil
}
