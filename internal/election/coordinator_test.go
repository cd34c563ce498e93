package election

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfleet/meshd/pkg/election"
)

type recordingListener struct {
	mu         sync.Mutex
	starts     int
	candidates []election.Candidate
	results    []election.Result
	decisions  []decision
}

type decision struct {
	primaryID string
	local     bool
}

func (r *recordingListener) OnBroadcastStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}
func (r *recordingListener) OnBroadcastCandidate(c election.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
}
func (r *recordingListener) OnBroadcastResult(res election.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}
func (r *recordingListener) OnDecided(primaryID string, local bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decision{primaryID, local})
}

func (r *recordingListener) decisionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.decisions)
}

func (r *recordingListener) lastDecision() decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[len(r.decisions)-1]
}

func fastConfig() Config {
	return Config{ElectionTimeout: 20 * time.Millisecond, PrimaryLossGrace: 30 * time.Millisecond}
}

func TestElection_LocalWinsWhenAloneAfterTimeout(t *testing.T) {
	listener := &recordingListener{}
	coord := New(fastConfig(), "dev-a", false, time.Now().Add(-2*time.Minute))
	coord.SetListener(listener)

	coord.HandleNoPrimaryOnStartup()

	require.Eventually(t, func() bool {
		return coord.Phase() == election.PhaseDecided
	}, time.Second, 5*time.Millisecond)

	primaryID, hasPrimary := coord.PrimaryID()
	assert.True(t, hasPrimary)
	assert.Equal(t, "dev-a", primaryID)
	require.Len(t, listener.results, 1)
	assert.Equal(t, "election", listener.results[0].Reason)
}

func TestElection_LongerUptimeWinsOverShorterUptime(t *testing.T) {
	listener := &recordingListener{}
	coord := New(fastConfig(), "dev-b", false, time.Now().Add(-30*time.Second))
	coord.SetListener(listener)

	coord.HandleNoPrimaryOnStartup()
	coord.HandleCandidate(election.Candidate{DeviceID: "dev-a", Uptime: 120_000, UserDesignated: false})

	require.Eventually(t, func() bool {
		return coord.Phase() == election.PhaseDecided
	}, time.Second, 5*time.Millisecond)

	primaryID, _ := coord.PrimaryID()
	assert.Equal(t, "dev-a", primaryID)
	assert.Empty(t, listener.results, "only the winner broadcasts election:result")
}

func TestElection_UserDesignatedOverridesUptime(t *testing.T) {
	listener := &recordingListener{}
	coord := New(fastConfig(), "dev-b", false, time.Now().Add(-120*time.Second))
	coord.SetListener(listener)

	coord.HandleNoPrimaryOnStartup()
	coord.HandleCandidate(election.Candidate{DeviceID: "dev-a", Uptime: 10_000, UserDesignated: true})

	require.Eventually(t, func() bool {
		return coord.Phase() == election.PhaseDecided
	}, time.Second, 5*time.Millisecond)

	primaryID, _ := coord.PrimaryID()
	assert.Equal(t, "dev-a", primaryID)
}

func TestElection_HandleElectionStartEntersCollectingOnce(t *testing.T) {
	listener := &recordingListener{}
	coord := New(fastConfig(), "dev-b", false, time.Now())
	coord.SetListener(listener)

	coord.HandleElectionStart("dev-a")
	assert.Equal(t, election.PhaseCollecting, coord.Phase())

	coord.HandleElectionStart("dev-a")

	listener.mu.Lock()
	starts := listener.starts
	listener.mu.Unlock()
	assert.Equal(t, 1, starts, "already collecting: no second round is started")
}

func TestElection_HandleResultAdoptsImmediatelyAndCancelsRound(t *testing.T) {
	listener := &recordingListener{}
	coord := New(fastConfig(), "dev-b", false, time.Now())
	coord.SetListener(listener)

	coord.HandleNoPrimaryOnStartup()
	require.Equal(t, election.PhaseCollecting, coord.Phase())

	coord.HandleResult(election.Result{PrimaryID: "dev-a", Reason: "election"})

	assert.Equal(t, election.PhaseDecided, coord.Phase())
	primaryID, hasPrimary := coord.PrimaryID()
	assert.True(t, hasPrimary)
	assert.Equal(t, "dev-a", primaryID)

	// The pending decide() timer must not fire and clobber the adopted result.
	time.Sleep(40 * time.Millisecond)
	primaryID, _ = coord.PrimaryID()
	assert.Equal(t, "dev-a", primaryID)
}

func TestElection_HandlePrimaryLostEntersWaitingThenStartsRoundAfterGrace(t *testing.T) {
	coord := New(Config{ElectionTimeout: 20 * time.Millisecond, PrimaryLossGrace: 25 * time.Millisecond}, "dev-a", false, time.Now())
	coord.SetListener(&recordingListener{})

	coord.HandlePrimaryLost("dev-b")
	assert.Equal(t, election.PhaseWaiting, coord.Phase())

	require.Eventually(t, func() bool {
		return coord.Phase() == election.PhaseCollecting || coord.Phase() == election.PhaseDecided
	}, time.Second, 5*time.Millisecond)
}

func TestElection_SetPrimaryShortCircuitsWithoutBroadcastingResult(t *testing.T) {
	listener := &recordingListener{}
	coord := New(fastConfig(), "dev-b", false, time.Now())
	coord.SetListener(listener)

	coord.SetPrimary("dev-a")

	assert.Equal(t, election.PhaseDecided, coord.Phase())
	primaryID, hasPrimary := coord.PrimaryID()
	assert.True(t, hasPrimary)
	assert.Equal(t, "dev-a", primaryID)
	assert.Empty(t, listener.results)
	require.Equal(t, 1, listener.decisionCount())
	assert.Equal(t, decision{"dev-a", false}, listener.lastDecision())
}

func TestElection_CloseCancelsPendingDecision(t *testing.T) {
	listener := &recordingListener{}
	coord := New(Config{ElectionTimeout: 20 * time.Millisecond}, "dev-a", false, time.Now())
	coord.SetListener(listener)

	coord.HandleNoPrimaryOnStartup()
	require.NoError(t, coord.Close())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, listener.decisionCount())
}
