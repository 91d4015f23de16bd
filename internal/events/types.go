// Package events defines the wire-level event representation shared by the
// backend client, callback tables, and executor plugins: a CloudEvents v1.0
// envelope for each event, and the bundle (grouped-by-type collection) that
// every backend RPC and executor exchange operates on.
package events

// TypeName is the event-type-name discriminator carried on the CloudEvents
// "type" attribute. Dispatch in the pump, registry, and router always
// switches on this string, never on a concrete Go type.
type TypeName string

const (
	// TypeRunnerRead carries runner-scoped events (currently only heartbeat).
	TypeRunnerRead TypeName = "ApiRunnerEventRead"
	// TypeRunRead carries run-scoped control events (KILL, SIMULATION_STATUS).
	TypeRunRead TypeName = "ApiRunEventRead"
	// TypeStartRunRead carries the large start-run payload, queried and
	// paginated separately from other run events.
	TypeStartRunRead TypeName = "ApiRunEventStartRunRead"
	// TypeFragmentStateCreate is emitted by executors reporting a fragment's
	// state transition.
	TypeFragmentStateCreate TypeName = "ApiRunFragmentStateEventCreate"
	// TypeFragmentArtifactCreate is emitted by executors delivering a
	// fragment's output artifact.
	TypeFragmentArtifactCreate TypeName = "ApiRunFragmentOutputArtifactEventCreate"
	// TypeEventRead is the type every event dispatched down to an executor
	// carries; an executor emitting this type back is a protocol violation.
	TypeEventRead TypeName = "ApiEventRead"
	// TypeEventCreate/Update/Delete/Query are the generic wire types used
	// when an executor reports back against a dispatched event (its
	// id identifies the original event it is replying to).
	TypeEventCreate TypeName = "ApiEventCreate"
	TypeEventUpdate TypeName = "ApiEventUpdate"
	TypeEventDelete TypeName = "ApiEventDelete"
	TypeEventQuery  TypeName = "ApiEventQuery"
)

// Subtype values carried in the "name" field of a run/runner event payload.
const (
	SubtypeHeartbeat        = "heartbeat"
	SubtypeKill             = "KILL"
	SubtypeSimulationStatus = "SIMULATION_STATUS"
)

// Direction identifies which of the four callback tables / backend RPCs an
// event belongs to.
type Direction string

const (
	DirectionCreate Direction = "create"
	DirectionUpdate Direction = "update"
	DirectionDelete Direction = "delete"
	DirectionQuery  Direction = "query"
)

// AllDirections lists the four directions in a stable order, used when
// constructing a Fragment Runner Handle's four callback tables.
var AllDirections = [...]Direction{DirectionCreate, DirectionUpdate, DirectionDelete, DirectionQuery}

// AllTypeNames lists every discriminator a callback table can be keyed on,
// used when a caller must walk a table's full contents without the table
// exposing its key set directly (e.g. tearing down a Fragment Runner
// Handle's tables on stop).
var AllTypeNames = [...]string{
	string(TypeRunnerRead),
	string(TypeRunRead),
	string(TypeStartRunRead),
	string(TypeFragmentStateCreate),
	string(TypeFragmentArtifactCreate),
	string(TypeEventRead),
	string(TypeEventCreate),
	string(TypeEventUpdate),
	string(TypeEventDelete),
	string(TypeEventQuery),
}
