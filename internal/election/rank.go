package election

import "github.com/meshfleet/meshd/pkg/election"

// rank picks the winning candidate: user-designated beats not, longer
// uptime breaks that tie, lexicographically smallest deviceId breaks the
// rest. Returns "" for an empty candidate set.
func rank(candidates map[string]election.Candidate) string {
	var winner election.Candidate
	found := false
	for _, c := range candidates {
		if !found || outranks(c, winner) {
			winner = c
			found = true
		}
	}
	if !found {
		return ""
	}
	return winner.DeviceID
}

// outranks reports whether a ranks strictly ahead of b.
func outranks(a, b election.Candidate) bool {
	if a.UserDesignated != b.UserDesignated {
		return a.UserDesignated
	}
	if a.Uptime != b.Uptime {
		return a.Uptime > b.Uptime
	}
	return a.DeviceID < b.DeviceID
}
