// Package policy contains the account selection strategies used by the
// dispatch controller. Each strategy is a pure decision over a snapshot of
// the registry and ledger; all durable state lives outside this package, so
// a policy switch needs no migration step.
package policy

import (
	"github.com/raykavin/deskroute/pkg/core"
)

// Candidate pairs an eligible account with its current open-assignment count
type Candidate struct {
	Account core.SupportAccount
	Open    int
}

// Snapshot is the registry and ledger state a policy decides over.
// Candidates are ordered by account id ascending and already exclude
// accounts at their concurrency cap.
type Snapshot struct {
	Candidates []Candidate
	Last       *core.AssignmentRecord
}

// Policy selects exactly one account id from a snapshot
type Policy interface {
	// Method identifies the strategy in ledger records
	Method() core.Method
	// Choose returns the selected account id, or core.ErrNoEligibleAccount
	// when the candidate set is empty
	Choose(snapshot Snapshot) (string, error)
}

// New returns the policy implementation for the given method. Unknown
// methods fall back to round robin, the engine default.
func New(method core.Method) Policy {
	if method == core.MethodWeightedLeastLoaded {
		return WeightedLeastLoaded{}
	}
	return RoundRobin{}
}
