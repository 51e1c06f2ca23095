// Package dispatch implements the assignment service: the single
// synchronization point through which every assignment request and every
// administrative mutation of the support pool flows.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/raykavin/deskroute/pkg/core"
	"github.com/raykavin/deskroute/pkg/logger"
	"github.com/raykavin/deskroute/pkg/policy"
)

// Default tuning when settings leave the values unset
const (
	DefaultOpenWindow = 30 * time.Minute
	DefaultLockWait   = 5 * time.Second
)

// Assignment is the outcome returned to a requester
type Assignment struct {
	AccountID string
	Handle    string
	Method    core.Method
}

// HistoryFilter narrows ledger queries for audit and export
type HistoryFilter struct {
	AccountID string
	Since     time.Time
	Limit     int
}

// AgentLoad couples an account with its live open-assignment count, for
// administrative listings
type AgentLoad struct {
	Account core.SupportAccount
	Open    int
}

// Controller manages the support pool and routes requesters to accounts.
// All operations are serialized through one exclusive section covering the
// registry and the ledger together, so no two callers ever decide on the
// same pre-write load snapshot. The workload is human support traffic; the
// coarse lock is not a throughput concern.
type Controller struct {
	store      core.Store
	log        logger.Logger
	openWindow time.Duration
	lockWait   time.Duration
	sem        chan struct{}
	now        func() time.Time
}

// NewController creates a new dispatch controller
func NewController(store core.Store, log logger.Logger, settings *core.Settings) *Controller {
	openWindow := settings.OpenWindow
	if openWindow <= 0 {
		openWindow = DefaultOpenWindow
	}

	lockWait := settings.LockWait
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}

	return &Controller{
		store:      store,
		log:        log,
		openWindow: openWindow,
		lockWait:   lockWait,
		sem:        make(chan struct{}, 1),
		now:        time.Now,
	}
}

// acquire takes the exclusive section with a bounded wait. A stuck holder
// must surface as core.ErrLockTimeout instead of wedging all routing.
func (c *Controller) acquire(ctx context.Context) error {
	timer := time.NewTimer(c.lockWait)
	defer timer.Stop()

	select {
	case c.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return core.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() {
	<-c.sem
}

// Assign routes a requester to a support account using the currently
// persisted policy. Once the exclusive section is held the write sequence
// runs to completion even if the caller's context is canceled, so no
// half-applied assignment is ever observable.
func (c *Controller) Assign(ctx context.Context, requesterID, requesterHandle string) (Assignment, error) {
	if err := c.acquire(ctx); err != nil {
		return Assignment{}, err
	}
	defer c.release()

	snapshot, err := c.buildSnapshot()
	if err != nil {
		return Assignment{}, err
	}

	method, err := c.store.Method()
	if err != nil {
		return Assignment{}, &core.StorageError{Op: "read policy method", Err: err}
	}

	chosen, err := policy.New(method).Choose(snapshot)
	if err != nil {
		return Assignment{}, err
	}

	record := &core.AssignmentRecord{
		ID:              uuid.NewString(),
		RequesterID:     requesterID,
		RequesterHandle: requesterHandle,
		AccountID:       chosen,
		Method:          method,
		CreatedAt:       c.now(),
	}

	if err := c.store.CreateRecord(record); err != nil {
		return Assignment{}, &core.StorageError{Op: "append assignment record", Err: err}
	}

	if err := c.store.IncrementServed(chosen); err != nil {
		return Assignment{}, &core.StorageError{Op: "increment served counter", Err: err}
	}

	account, err := c.afterAssign(snapshot, chosen)
	if err != nil {
		return Assignment{}, err
	}

	c.log.WithFields(map[string]any{
		"requester": requesterID,
		"account":   chosen,
		"method":    string(method),
	}).Info("Assignment recorded")

	return Assignment{
		AccountID: account.ID,
		Handle:    account.Handle,
		Method:    method,
	}, nil
}

// buildSnapshot loads the eligible accounts and their open counts, flipping
// busy accounts back to available when their window-expired load allows it
// and gating out accounts already at their concurrency cap.
func (c *Controller) buildSnapshot() (policy.Snapshot, error) {
	if err := c.reviveBusyAccounts(); err != nil {
		return policy.Snapshot{}, err
	}

	eligible, err := c.store.ListEligible()
	if err != nil {
		return policy.Snapshot{}, &core.StorageError{Op: "list eligible accounts", Err: err}
	}

	candidates := make([]policy.Candidate, 0, len(eligible))
	for _, account := range eligible {
		open, err := c.openCount(account.ID)
		if err != nil {
			return policy.Snapshot{}, err
		}

		// Hard admission gate: a full account sits this round out
		if open >= account.MaxConcurrent {
			continue
		}

		candidates = append(candidates, policy.Candidate{Account: account, Open: open})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Account.ID < candidates[j].Account.ID
	})

	last, err := c.store.LastRecord()
	if err != nil {
		return policy.Snapshot{}, &core.StorageError{Op: "read last record", Err: err}
	}

	return policy.Snapshot{Candidates: candidates, Last: last}, nil
}

// reviveBusyAccounts returns busy accounts to the available pool once their
// open load has dropped back under the cap
func (c *Controller) reviveBusyAccounts() error {
	accounts, err := c.store.Accounts()
	if err != nil {
		return &core.StorageError{Op: "list accounts", Err: err}
	}

	for _, account := range accounts {
		if account.Status != core.StatusBusy {
			continue
		}

		open, err := c.openCount(account.ID)
		if err != nil {
			return err
		}

		if open < account.MaxConcurrent {
			if err := c.store.SetAccountStatus(account.ID, core.StatusAvailable); err != nil {
				return &core.StorageError{Op: "revive busy account", Err: err}
			}
			c.log.WithField("account", account.ID).Info("Account returned to available")
		}
	}

	return nil
}

// afterAssign reloads the chosen account and flips it to busy when this
// assignment filled its last slot
func (c *Controller) afterAssign(snapshot policy.Snapshot, chosen string) (core.SupportAccount, error) {
	account, err := c.store.GetAccount(chosen)
	if err != nil {
		return core.SupportAccount{}, &core.StorageError{Op: "reload chosen account", Err: err}
	}

	for _, candidate := range snapshot.Candidates {
		if candidate.Account.ID != chosen {
			continue
		}

		if candidate.Open+1 >= account.MaxConcurrent {
			if err := c.store.SetAccountStatus(chosen, core.StatusBusy); err != nil {
				return core.SupportAccount{}, &core.StorageError{Op: "mark account busy", Err: err}
			}
			c.log.WithField("account", chosen).Info("Account reached capacity, marked busy")
		}
		break
	}

	return account, nil
}

// openCount approximates the number of open conversations for an account as
// the ledger records younger than the configured window. The surrounding
// system has no explicit conversation-closed signal, so record age stands in
// for it.
func (c *Controller) openCount(accountID string) (int, error) {
	records, err := c.store.Records(
		core.WithAccountID(accountID),
		core.WithSince(c.now().Add(-c.openWindow)),
	)
	if err != nil {
		return 0, &core.StorageError{Op: "count open assignments", Err: err}
	}

	return len(records), nil
}

// UpsertAccount creates or updates a support account
func (c *Controller) UpsertAccount(ctx context.Context, account core.SupportAccount) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if account.Status == "" {
		account.Status = core.StatusAvailable
	}

	if err := c.store.UpsertAccount(account); err != nil {
		return err
	}

	c.log.WithField("account", account.ID).Info("Account upserted")
	return nil
}

// SetAccountStatus transitions an account between available, busy and
// disabled. Accounts are never deleted; disabling preserves ledger
// integrity.
func (c *Controller) SetAccountStatus(ctx context.Context, id string, status core.AccountStatus) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.store.SetAccountStatus(id, status); err != nil {
		return err
	}

	c.log.WithFields(map[string]any{"account": id, "status": string(status)}).
		Info("Account status changed")
	return nil
}

// SetPolicy switches the distribution policy. The change takes effect on
// the very next assignment; both policies decide from the same persisted
// state, so there is no migration step.
func (c *Controller) SetPolicy(ctx context.Context, method core.Method) error {
	if !method.Valid() {
		return fmt.Errorf("unknown policy method %q", method)
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.store.SetMethod(method); err != nil {
		return &core.StorageError{Op: "persist policy method", Err: err}
	}

	c.log.WithField("method", string(method)).Info("Assignment policy switched")
	return nil
}

// Policy returns the currently persisted distribution policy
func (c *Controller) Policy(ctx context.Context) (core.Method, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	method, err := c.store.Method()
	if err != nil {
		return "", &core.StorageError{Op: "read policy method", Err: err}
	}

	return method, nil
}

// Agents lists every account with its live open count, for administrative
// display
func (c *Controller) Agents(ctx context.Context) ([]AgentLoad, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	accounts, err := c.store.Accounts()
	if err != nil {
		return nil, &core.StorageError{Op: "list accounts", Err: err}
	}

	loads := make([]AgentLoad, 0, len(accounts))
	for _, account := range accounts {
		open, err := c.openCount(account.ID)
		if err != nil {
			return nil, err
		}
		loads = append(loads, AgentLoad{Account: account, Open: open})
	}

	return loads, nil
}

// Account retrieves a single support account by id
func (c *Controller) Account(ctx context.Context, id string) (core.SupportAccount, error) {
	if err := c.acquire(ctx); err != nil {
		return core.SupportAccount{}, err
	}
	defer c.release()

	return c.store.GetAccount(id)
}

// History returns ledger records newest first, optionally narrowed by
// account and time range
func (c *Controller) History(ctx context.Context, filter HistoryFilter) ([]*core.AssignmentRecord, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	filters := make([]core.RecordFilter, 0, 2)
	if filter.AccountID != "" {
		filters = append(filters, core.WithAccountID(filter.AccountID))
	}
	if !filter.Since.IsZero() {
		filters = append(filters, core.WithSince(filter.Since))
	}

	records, err := c.store.Records(filters...)
	if err != nil {
		return nil, &core.StorageError{Op: "read history", Err: err}
	}

	// Storage yields oldest first; audit views want newest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	return records, nil
}
