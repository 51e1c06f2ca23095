package policy

import "github.com/raykavin/deskroute/pkg/core"

// RoundRobin walks the eligible accounts in id order, one per call, wrapping
// around. The cursor is derived from the most recent ledger record rather
// than held in memory, so the rotation survives process restarts.
type RoundRobin struct{}

// Method implements Policy
func (RoundRobin) Method() core.Method {
	return core.MethodRoundRobin
}

// Choose implements Policy
func (RoundRobin) Choose(snapshot Snapshot) (string, error) {
	if len(snapshot.Candidates) == 0 {
		return "", core.ErrNoEligibleAccount
	}

	if snapshot.Last == nil {
		return snapshot.Candidates[0].Account.ID, nil
	}

	// Pick the first candidate ordered after the previously assigned
	// account. When that account is no longer eligible this lands on the
	// entry holding its former sorted position; when nothing follows, wrap
	// to the start.
	for _, candidate := range snapshot.Candidates {
		if candidate.Account.ID > snapshot.Last.AccountID {
			return candidate.Account.ID, nil
		}
	}

	return snapshot.Candidates[0].Account.ID, nil
}
