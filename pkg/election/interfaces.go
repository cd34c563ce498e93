package election

import "io"

// Phase is a Coordinator's state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseWaiting    Phase = "waiting"
	PhaseCollecting Phase = "collecting"
	PhaseDecided    Phase = "decided"
)

// Candidate is one device's bid in a round.
type Candidate struct {
	DeviceID       string
	Uptime         int64 // milliseconds
	UserDesignated bool
}

// Result is the outcome broadcast in an election:result message.
type Result struct {
	PrimaryID string
	Reason    string
}

// Listener receives coordinator state changes. Implementations must not
// block.
type Listener interface {
	// OnBroadcastStart is called to broadcast election:start.
	OnBroadcastStart()
	// OnBroadcastCandidate is called to broadcast our own candidate bid.
	OnBroadcastCandidate(Candidate)
	// OnBroadcastResult is called to broadcast a decided election:result.
	OnBroadcastResult(Result)
	// OnDecided is called once the coordinator reaches PhaseDecided with a
	// primary id, whether local or remote.
	OnDecided(primaryID string, localIsPrimary bool)
}

// Coordinator runs the election state machine described in the mesh
// design: candidate collection, ranking, and result propagation.
type Coordinator interface {
	io.Closer

	SetListener(l Listener)

	// Phase returns the current state.
	Phase() Phase

	// PrimaryID returns the decided primary, if any.
	PrimaryID() (string, bool)

	// HandleNoPrimaryOnStartup starts a round immediately.
	HandleNoPrimaryOnStartup()

	// HandlePrimaryLost enters PhaseWaiting, arms the grace timer, then
	// starts a round.
	HandlePrimaryLost(prevID string)

	// HandleElectionStart responds to a remote election:start.
	HandleElectionStart(from string)

	// HandleCandidate records a remote election:candidate bid.
	HandleCandidate(c Candidate)

	// HandleResult adopts a remote election:result unconditionally.
	HandleResult(r Result)

	// SetPrimary is called by the mesh node when a device:list names a
	// primary out of band (bypassing a round entirely).
	SetPrimary(primaryID string)
}
