package policy

import "github.com/raykavin/deskroute/pkg/core"

// WeightedLeastLoaded picks the account with the lowest open-count to weight
// ratio, steering proportionally more traffic to higher-weight accounts.
// Ties fall to the account with the lowest lifetime served counter, then to
// the lowest id, keeping the decision deterministic.
type WeightedLeastLoaded struct{}

// Method implements Policy
func (WeightedLeastLoaded) Method() core.Method {
	return core.MethodWeightedLeastLoaded
}

// Choose implements Policy
func (WeightedLeastLoaded) Choose(snapshot Snapshot) (string, error) {
	if len(snapshot.Candidates) == 0 {
		return "", core.ErrNoEligibleAccount
	}

	best := snapshot.Candidates[0]
	bestRatio := loadRatio(best)

	for _, candidate := range snapshot.Candidates[1:] {
		ratio := loadRatio(candidate)

		switch {
		case ratio < bestRatio:
			best, bestRatio = candidate, ratio
		case ratio == bestRatio && candidate.Account.TotalServed < best.Account.TotalServed:
			best, bestRatio = candidate, ratio
		}
	}

	return best.Account.ID, nil
}

func loadRatio(candidate Candidate) float64 {
	return float64(candidate.Open) / float64(candidate.Account.Weight)
}
