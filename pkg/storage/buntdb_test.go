package storage

import (
	"testing"
	"time"

	"github.com/raykavin/deskroute/pkg/core"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) core.Store {
	t.Helper()

	store, err := FromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testAccount(id string) core.SupportAccount {
	return core.SupportAccount{
		ID:            id,
		Handle:        id + "_support",
		DisplayName:   id,
		Weight:        1,
		MaxConcurrent: 3,
		Status:        core.StatusAvailable,
	}
}

func TestBuntStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertAccount(testAccount("alice")))

	account, err := store.GetAccount("alice")
	require.NoError(t, err)
	require.Equal(t, "alice_support", account.Handle)

	_, err = store.GetAccount("nobody")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestBuntStore_UpsertValidation(t *testing.T) {
	store := newTestStore(t)

	invalid := testAccount("alice")
	invalid.Weight = 0
	require.ErrorIs(t, store.UpsertAccount(invalid), core.ErrInvalidAccount)

	// A disabled account may be stored half-configured
	invalid.Status = core.StatusDisabled
	require.NoError(t, store.UpsertAccount(invalid))
}

func TestBuntStore_ListEligibleOrdering(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"carol", "alice", "bob"} {
		require.NoError(t, store.UpsertAccount(testAccount(id)))
	}

	disabled := testAccount("dave")
	disabled.Status = core.StatusDisabled
	require.NoError(t, store.UpsertAccount(disabled))

	eligible, err := store.ListEligible()
	require.NoError(t, err)
	require.Len(t, eligible, 3)
	require.Equal(t, "alice", eligible[0].ID)
	require.Equal(t, "bob", eligible[1].ID)
	require.Equal(t, "carol", eligible[2].ID)
}

func TestBuntStore_SetStatusAndIncrement(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertAccount(testAccount("alice")))

	require.NoError(t, store.SetAccountStatus("alice", core.StatusBusy))
	account, err := store.GetAccount("alice")
	require.NoError(t, err)
	require.Equal(t, core.StatusBusy, account.Status)

	// Same-status transition is a no-op, not an error
	require.NoError(t, store.SetAccountStatus("alice", core.StatusBusy))

	require.NoError(t, store.IncrementServed("alice"))
	require.NoError(t, store.IncrementServed("alice"))
	account, err = store.GetAccount("alice")
	require.NoError(t, err)
	require.EqualValues(t, 2, account.TotalServed)

	require.ErrorIs(t, store.SetAccountStatus("nobody", core.StatusBusy), core.ErrNotFound)
	require.ErrorIs(t, store.IncrementServed("nobody"), core.ErrNotFound)
}

func TestBuntStore_LedgerOrderingAndFilters(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, accountID := range []string{"alice", "bob", "alice"} {
		record := &core.AssignmentRecord{
			ID:          string(rune('1' + i)),
			RequesterID: "u1",
			AccountID:   accountID,
			Method:      core.MethodRoundRobin,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.CreateRecord(record))
	}

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.True(t, records[0].CreatedAt.Before(records[2].CreatedAt))

	records, err = store.Records(core.WithAccountID("alice"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	records, err = store.Records(core.WithSince(base.Add(90 * time.Second)))
	require.NoError(t, err)
	require.Len(t, records, 1)

	last, err := store.LastRecord()
	require.NoError(t, err)
	require.Equal(t, "alice", last.AccountID)
	require.Equal(t, base.Add(2*time.Minute), last.CreatedAt)
}

func TestBuntStore_LastRecordEmptyLedger(t *testing.T) {
	store := newTestStore(t)

	last, err := store.LastRecord()
	require.NoError(t, err)
	require.Nil(t, last)
}

func TestBuntStore_MethodDefaultAndSwitch(t *testing.T) {
	store := newTestStore(t)

	method, err := store.Method()
	require.NoError(t, err)
	require.Equal(t, core.MethodRoundRobin, method)

	require.NoError(t, store.SetMethod(core.MethodWeightedLeastLoaded))

	method, err = store.Method()
	require.NoError(t, err)
	require.Equal(t, core.MethodWeightedLeastLoaded, method)
}
