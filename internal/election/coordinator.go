// Package election implements election.Coordinator: the round protocol
// that decides a single primary among the devices currently known online.
package election

import (
	"sync"
	"time"

	"github.com/meshfleet/meshd/pkg/election"
)

// Coordinator implements election.Coordinator.
type Coordinator struct {
	mu sync.Mutex

	config         Config
	localID        string
	userDesignated bool
	startedAt      time.Time

	phase      election.Phase
	candidates map[string]election.Candidate
	primaryID  string
	hasPrimary bool

	electionTimer *time.Timer
	graceTimer    *time.Timer

	listener election.Listener
	closed   bool
}

// New builds a Coordinator for localID, seeded with the local device's
// preference and start time.
func New(config Config, localID string, userDesignated bool, startedAt time.Time) *Coordinator {
	return &Coordinator{
		config:         config.SetDefaults(),
		localID:        localID,
		userDesignated: userDesignated,
		startedAt:      startedAt,
		phase:          election.PhaseIdle,
		candidates:     make(map[string]election.Candidate),
	}
}

func (c *Coordinator) SetListener(l election.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Coordinator) Phase() election.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) PrimaryID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryID, c.hasPrimary
}

func (c *Coordinator) HandleNoPrimaryOnStartup() {
	c.startRound()
}

func (c *Coordinator) HandlePrimaryLost(prevID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.phase = election.PhaseWaiting
	c.stopTimersLocked()
	c.graceTimer = time.AfterFunc(c.config.PrimaryLossGrace, c.startRound)
	c.mu.Unlock()
}

func (c *Coordinator) HandleElectionStart(from string) {
	c.mu.Lock()
	already := c.phase == election.PhaseCollecting
	c.mu.Unlock()

	if already {
		return
	}
	c.startRound()
}

func (c *Coordinator) HandleCandidate(cand election.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != election.PhaseCollecting {
		return
	}
	c.candidates[cand.DeviceID] = cand
}

func (c *Coordinator) HandleResult(r election.Result) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	c.phase = election.PhaseDecided
	c.primaryID = r.PrimaryID
	c.hasPrimary = r.PrimaryID != ""
	c.candidates = make(map[string]election.Candidate)
	listener := c.listener
	primaryID := c.primaryID
	localIsPrimary := c.hasPrimary && c.primaryID == c.localID
	c.mu.Unlock()

	if listener != nil {
		listener.OnDecided(primaryID, localIsPrimary)
	}
}

func (c *Coordinator) SetPrimary(primaryID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	c.phase = election.PhaseDecided
	c.primaryID = primaryID
	c.hasPrimary = primaryID != ""
	c.candidates = make(map[string]election.Candidate)
	listener := c.listener
	localIsPrimary := c.hasPrimary && c.primaryID == c.localID
	hasPrimary := c.hasPrimary
	c.mu.Unlock()

	if listener != nil && hasPrimary {
		listener.OnDecided(primaryID, localIsPrimary)
	}
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimersLocked()
	return nil
}

// startRound clears candidates, seeds our own bid, and arms the decision
// timer. Used both for a fresh round and for the grace-timer callback.
func (c *Coordinator) startRound() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.phase = election.PhaseCollecting
	own := election.Candidate{
		DeviceID:       c.localID,
		Uptime:         time.Since(c.startedAt).Milliseconds(),
		UserDesignated: c.userDesignated,
	}
	c.candidates = map[string]election.Candidate{c.localID: own}
	c.stopTimersLocked()
	c.electionTimer = time.AfterFunc(c.config.ElectionTimeout, c.decide)
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener.OnBroadcastStart()
		listener.OnBroadcastCandidate(own)
	}
}

// decide ranks the collected candidates once the election timeout fires.
func (c *Coordinator) decide() {
	c.mu.Lock()
	if c.closed || c.phase != election.PhaseCollecting {
		c.mu.Unlock()
		return
	}
	winner := rank(c.candidates)
	if winner == "" {
		winner = c.localID
	}
	c.phase = election.PhaseDecided
	c.primaryID = winner
	c.hasPrimary = true
	localWon := winner == c.localID
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return
	}
	if localWon {
		listener.OnBroadcastResult(election.Result{PrimaryID: winner, Reason: "election"})
	}
	listener.OnDecided(winner, localWon)
}

// stopTimersLocked cancels any pending election or grace timers. Callers
// must hold c.mu.
func (c *Coordinator) stopTimersLocked() {
	if c.electionTimer != nil {
		c.electionTimer.Stop()
		c.electionTimer = nil
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

var _ election.Coordinator = (*Coordinator)(nil)
