package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raykavin/deskroute/pkg/core"
	"github.com/raykavin/deskroute/pkg/logger"
	"github.com/raykavin/deskroute/pkg/storage"
	"github.com/stretchr/testify/require"
)

// nopLogger discards all output
type nopLogger struct{}

func (nopLogger) WithField(string, any) logger.Logger     { return nopLogger{} }
func (nopLogger) WithFields(map[string]any) logger.Logger { return nopLogger{} }
func (nopLogger) WithError(error) logger.Logger           { return nopLogger{} }
func (nopLogger) Debug(...any)                            {}
func (nopLogger) Info(...any)                             {}
func (nopLogger) Warn(...any)                             {}
func (nopLogger) Error(...any)                            {}
func (nopLogger) Fatal(...any)                            {}
func (nopLogger) Debugf(string, ...any)                   {}
func (nopLogger) Infof(string, ...any)                    {}
func (nopLogger) Warnf(string, ...any)                    {}
func (nopLogger) Errorf(string, ...any)                   {}
func (nopLogger) Fatalf(string, ...any)                   {}
func (nopLogger) SetLevel(logger.Level)                   {}
func (nopLogger) GetLevel() logger.Level                  { return logger.Disabled }

func newTestController(t *testing.T) *Controller {
	t.Helper()

	store, err := storage.FromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewController(store, nopLogger{}, &core.Settings{
		OpenWindow: 30 * time.Minute,
		LockWait:   time.Second,
	})
}

func addAccount(t *testing.T, c *Controller, id string, weight, maxConcurrent int) {
	t.Helper()

	err := c.UpsertAccount(context.Background(), core.SupportAccount{
		ID:            id,
		Handle:        id + "_support",
		DisplayName:   id,
		Weight:        weight,
		MaxConcurrent: maxConcurrent,
		Status:        core.StatusAvailable,
	})
	require.NoError(t, err)
}

func TestController_RoundRobinFairness(t *testing.T) {
	c := newTestController(t)
	for _, id := range []string{"a", "b", "c"} {
		addAccount(t, c, id, 1, 100)
	}

	var order []string
	for i := 0; i < 6; i++ {
		assignment, err := c.Assign(context.Background(), "user", "")
		require.NoError(t, err)
		order = append(order, assignment.AccountID)
		require.Equal(t, core.MethodRoundRobin, assignment.Method)
	}

	// Ascending id order, wrapping, exactly twice each
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
}

func TestController_CapacityGate(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 2)

	for i := 0; i < 2; i++ {
		_, err := c.Assign(context.Background(), "user", "")
		require.NoError(t, err)
	}

	// Two assignments remain open; the account never receives a third
	_, err := c.Assign(context.Background(), "user", "")
	require.ErrorIs(t, err, core.ErrNoEligibleAccount)

	account, err := c.Account(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, core.StatusBusy, account.Status)
}

func TestController_WindowExpiryRevivesBusyAccount(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 1)

	_, err := c.Assign(context.Background(), "user", "")
	require.NoError(t, err)

	_, err = c.Assign(context.Background(), "user", "")
	require.ErrorIs(t, err, core.ErrNoEligibleAccount)

	// Once the open window has passed, the conversation counts as closed
	// and the account returns to the rotation
	c.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	assignment, err := c.Assign(context.Background(), "user", "")
	require.NoError(t, err)
	require.Equal(t, "a", assignment.AccountID)
}

func TestController_WeightedBias(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 1000)
	addAccount(t, c, "b", 3, 1000)

	require.NoError(t, c.SetPolicy(context.Background(), core.MethodWeightedLeastLoaded))

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		assignment, err := c.Assign(context.Background(), "user", "")
		require.NoError(t, err)
		counts[assignment.AccountID]++
	}

	// The distribution settles on the 1:3 weight ratio
	require.Equal(t, 10, counts["a"])
	require.Equal(t, 30, counts["b"])
}

func TestController_DisabledExclusion(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 5)
	addAccount(t, c, "b", 100, 100)

	require.NoError(t, c.SetAccountStatus(context.Background(), "b", core.StatusDisabled))

	for i := 0; i < 5; i++ {
		assignment, err := c.Assign(context.Background(), "user", "")
		require.NoError(t, err)
		require.Equal(t, "a", assignment.AccountID)
	}
}

func TestController_NoEligibleAccountsWritesNothing(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 5)
	require.NoError(t, c.SetAccountStatus(context.Background(), "a", core.StatusDisabled))

	_, err := c.Assign(context.Background(), "user", "")
	require.ErrorIs(t, err, core.ErrNoEligibleAccount)

	records, err := c.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestController_AtomicityUnderConcurrency(t *testing.T) {
	c := newTestController(t)
	const callers = 8
	addAccount(t, c, "a", 1, callers)

	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Assign(context.Background(), "user", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := c.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, callers)

	seen := map[string]bool{}
	for _, record := range records {
		require.False(t, seen[record.ID], "duplicate ledger record")
		seen[record.ID] = true
	}
}

func TestController_ConcurrencyOverCapacity(t *testing.T) {
	c := newTestController(t)
	const callers = 8
	addAccount(t, c, "a", 1, callers-1)

	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Assign(context.Background(), "user", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, core.ErrNoEligibleAccount)
			failures++
		}
	}

	// With one slot short, exactly one caller is turned away
	require.Equal(t, 1, failures)

	records, err := c.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, callers-1)
}

func TestController_AuditCompleteness(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 100)
	addAccount(t, c, "b", 1, 100)

	var assigned []string
	for i := 0; i < 5; i++ {
		assignment, err := c.Assign(context.Background(), "user", "u")
		require.NoError(t, err)
		assigned = append(assigned, assignment.AccountID)
	}

	records, err := c.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, len(assigned))

	// Newest first, one record per call, matching what callers were told
	for i, record := range records {
		require.Equal(t, assigned[len(assigned)-1-i], record.AccountID)
		require.False(t, i > 0 && record.CreatedAt.After(records[i-1].CreatedAt))
	}
}

func TestController_PolicySwitchTakesEffectImmediately(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 5)
	addAccount(t, c, "b", 1, 5)

	// Round robin alternates in id order
	var order []string
	for i := 0; i < 4; i++ {
		assignment, err := c.Assign(context.Background(), "user", "")
		require.NoError(t, err)
		order = append(order, assignment.AccountID)
	}
	require.Equal(t, []string{"a", "b", "a", "b"}, order)

	// Close every open conversation, then reopen two on "a" only
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	for i := 0; i < 2; i++ {
		_, err := c.Assign(context.Background(), "user", "")
		require.NoError(t, err)
	}
	records, err := c.History(context.Background(), HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, "b", records[0].AccountID)
	require.Equal(t, "a", records[1].AccountID)

	// a and b both carry one open conversation now; bias a with one more
	_, _ = c.Assign(context.Background(), "user", "")

	require.NoError(t, c.SetPolicy(context.Background(), core.MethodWeightedLeastLoaded))

	assignment, err := c.Assign(context.Background(), "user", "")
	require.NoError(t, err)
	require.Equal(t, "b", assignment.AccountID)
}

func TestController_LockTimeout(t *testing.T) {
	store, err := storage.FromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := NewController(store, nopLogger{}, &core.Settings{
		OpenWindow: 30 * time.Minute,
		LockWait:   50 * time.Millisecond,
	})

	// Simulate a stuck holder of the exclusive section
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	_, err = c.Assign(context.Background(), "user", "")
	require.ErrorIs(t, err, core.ErrLockTimeout)
}

func TestController_ContextCanceledWhileWaiting(t *testing.T) {
	c := newTestController(t)
	addAccount(t, c, "a", 1, 5)

	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Assign(ctx, "user", "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestController_SetPolicyRejectsUnknownMethod(t *testing.T) {
	c := newTestController(t)

	err := c.SetPolicy(context.Background(), core.Method("coin_flip"))
	require.Error(t, err)
}

func TestController_UpsertRejectsInvalidAccount(t *testing.T) {
	c := newTestController(t)

	err := c.UpsertAccount(context.Background(), core.SupportAccount{
		ID:            "a",
		Weight:        0,
		MaxConcurrent: 5,
		Status:        core.StatusAvailable,
	})
	require.ErrorIs(t, err, core.ErrInvalidAccount)
}
