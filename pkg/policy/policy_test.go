package policy

import (
	"testing"

	"github.com/raykavin/deskroute/pkg/core"
	"github.com/stretchr/testify/require"
)

func candidate(id string, weight, open int, served int64) Candidate {
	return Candidate{
		Account: core.SupportAccount{
			ID:            id,
			Weight:        weight,
			MaxConcurrent: 10,
			Status:        core.StatusAvailable,
			TotalServed:   served,
		},
		Open: open,
	}
}

func TestRoundRobin_EmptySnapshot(t *testing.T) {
	_, err := RoundRobin{}.Choose(Snapshot{})
	require.ErrorIs(t, err, core.ErrNoEligibleAccount)
}

func TestRoundRobin_FirstAssignment(t *testing.T) {
	snapshot := Snapshot{
		Candidates: []Candidate{candidate("a", 1, 0, 0), candidate("b", 1, 0, 0)},
	}

	chosen, err := RoundRobin{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "a", chosen)
}

func TestRoundRobin_AdvancesAndWraps(t *testing.T) {
	snapshot := Snapshot{
		Candidates: []Candidate{
			candidate("a", 1, 0, 0),
			candidate("b", 1, 0, 0),
			candidate("c", 1, 0, 0),
		},
	}

	snapshot.Last = &core.AssignmentRecord{AccountID: "a"}
	chosen, err := RoundRobin{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "b", chosen)

	snapshot.Last = &core.AssignmentRecord{AccountID: "c"}
	chosen, err = RoundRobin{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "a", chosen)
}

func TestRoundRobin_LastAccountNoLongerEligible(t *testing.T) {
	// "b" was assigned last but has since left the eligible set; the
	// rotation continues from its former sorted position
	snapshot := Snapshot{
		Candidates: []Candidate{candidate("a", 1, 0, 0), candidate("c", 1, 0, 0)},
		Last:       &core.AssignmentRecord{AccountID: "b"},
	}

	chosen, err := RoundRobin{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "c", chosen)

	// Nothing sorts after "z", so the rotation wraps to the start
	snapshot.Last = &core.AssignmentRecord{AccountID: "z"}
	chosen, err = RoundRobin{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "a", chosen)
}

func TestWeightedLeastLoaded_EmptySnapshot(t *testing.T) {
	_, err := WeightedLeastLoaded{}.Choose(Snapshot{})
	require.ErrorIs(t, err, core.ErrNoEligibleAccount)
}

func TestWeightedLeastLoaded_PicksLowestRatio(t *testing.T) {
	snapshot := Snapshot{
		Candidates: []Candidate{
			candidate("a", 1, 2, 2), // ratio 2.0
			candidate("b", 3, 3, 3), // ratio 1.0
			candidate("c", 2, 3, 3), // ratio 1.5
		},
	}

	chosen, err := WeightedLeastLoaded{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "b", chosen)
}

func TestWeightedLeastLoaded_TieBreakTotalServed(t *testing.T) {
	snapshot := Snapshot{
		Candidates: []Candidate{
			candidate("a", 2, 2, 9), // ratio 1.0, served 9
			candidate("b", 2, 2, 4), // ratio 1.0, served 4
		},
	}

	chosen, err := WeightedLeastLoaded{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "b", chosen)
}

func TestWeightedLeastLoaded_TieBreakLowestID(t *testing.T) {
	snapshot := Snapshot{
		Candidates: []Candidate{
			candidate("a", 1, 1, 5),
			candidate("b", 1, 1, 5),
		},
	}

	chosen, err := WeightedLeastLoaded{}.Choose(snapshot)
	require.NoError(t, err)
	require.Equal(t, "a", chosen)
}

func TestNew_SelectsImplementation(t *testing.T) {
	require.Equal(t, core.MethodRoundRobin, New(core.MethodRoundRobin).Method())
	require.Equal(t, core.MethodWeightedLeastLoaded, New(core.MethodWeightedLeastLoaded).Method())

	// Unknown methods fall back to the engine default
	require.Equal(t, core.MethodRoundRobin, New(core.Method("coin_flip")).Method())
}
