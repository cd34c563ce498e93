package meshnode

import (
	"encoding/json"
	"time"

	"github.com/meshfleet/meshd/pkg/wire"
)

// Control-plane message types, the closed set carried in namespace "mesh".
const (
	TypeDeviceAnnounce    = "device:announce"
	TypeDeviceUpdate      = "device:update"
	TypeDeviceGoodbye     = "device:goodbye"
	TypeDeviceList        = "device:list"
	TypeElectionStart     = "election:start"
	TypeElectionCandidate = "election:candidate"
	TypeElectionVote      = "election:vote"
	TypeElectionResult    = "election:result"
	TypeRouteMessage      = "route:message"
	TypeRouteBroadcast    = "route:broadcast"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeError             = "error"
)

// MeshMessage is the payload of every mesh-namespace envelope except
// route:message and route:broadcast: the control-plane wrapper that carries
// the sender and timestamp alongside the message's own payload. The
// envelope's type is the same as MeshMessage.Type.
type MeshMessage struct {
	Type          string          `json:"type"`
	From          string          `json:"from"`
	To            string          `json:"to,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// RouteMessagePayload is the payload of a mesh/route:message envelope.
type RouteMessagePayload struct {
	TargetDeviceID string       `json:"targetDeviceId"`
	Envelope       wire.Envelope `json:"envelope"`
}

// RouteBroadcastPayload is the payload of a mesh/route:broadcast envelope.
type RouteBroadcastPayload struct {
	Envelope wire.Envelope `json:"envelope"`
}

// IncomingMessage is surfaced to application listeners for any non-mesh
// namespace, or as a routed broadcast's local echo.
type IncomingMessage struct {
	From         string
	ConnectionID string
	Namespace    string
	Type         string
	Payload      []byte
}
