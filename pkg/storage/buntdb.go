package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raykavin/deskroute/pkg/core"
	"github.com/tidwall/buntdb"
)

// Key namespaces inside the single buntdb keyspace
const (
	accountPrefix = "account:"
	recordPrefix  = "record:"
	methodKey     = "policy:method"
)

// BuntStore implements the core.Store interface using BuntDB
type BuntStore struct {
	db *buntdb.DB
}

// FromMemory creates an in-memory store
func FromMemory() (core.Store, error) {
	return NewBuntStore(":memory:")
}

// FromFile creates a file-based store
func FromFile(file string) (core.Store, error) {
	return NewBuntStore(file)
}

// NewBuntStore creates a new BuntDB store instance
func NewBuntStore(sourceFile string) (core.Store, error) {
	db, err := buntdb.Open(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	err = db.CreateIndex("record_created", recordPrefix+"*", buntdb.IndexJSON("created_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &BuntStore{db: db}, nil
}

// Accounts returns every registered account ordered by id ascending
func (b *BuntStore) Accounts() ([]core.SupportAccount, error) {
	return b.accounts(nil)
}

// ListEligible returns the accounts in available status, ordered by id
// ascending for deterministic policy decisions
func (b *BuntStore) ListEligible() ([]core.SupportAccount, error) {
	return b.accounts(func(account core.SupportAccount) bool {
		return account.Status == core.StatusAvailable
	})
}

func (b *BuntStore) accounts(keep func(core.SupportAccount) bool) ([]core.SupportAccount, error) {
	accounts := make([]core.SupportAccount, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		var innerErr error

		// AscendKeys walks account keys in lexical order, which is id order
		err := tx.AscendKeys(accountPrefix+"*", func(_, value string) bool {
			var account core.SupportAccount
			if innerErr = json.Unmarshal([]byte(value), &account); innerErr != nil {
				return false
			}

			if keep == nil || keep(account) {
				accounts = append(accounts, account)
			}
			return true
		})
		if err != nil {
			return err
		}

		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate over accounts: %w", err)
	}

	return accounts, nil
}

// GetAccount retrieves a single account by id
func (b *BuntStore) GetAccount(id string) (core.SupportAccount, error) {
	var account core.SupportAccount

	err := b.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(accountPrefix + id)
		if err != nil {
			return err
		}

		return json.Unmarshal([]byte(value), &account)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return core.SupportAccount{}, core.ErrNotFound
	}
	if err != nil {
		return core.SupportAccount{}, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// UpsertAccount creates or replaces an account after validating it
func (b *BuntStore) UpsertAccount(account core.SupportAccount) error {
	if err := account.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}

		_, _, err = tx.Set(accountPrefix+account.ID, string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store account: %w", err)
		}

		return nil
	})
}

// SetAccountStatus transitions an account's status; no-op when unchanged
func (b *BuntStore) SetAccountStatus(id string, status core.AccountStatus) error {
	return b.mutateAccount(id, func(account *core.SupportAccount) {
		account.Status = status
	})
}

// IncrementServed bumps the lifetime assignment counter of an account
func (b *BuntStore) IncrementServed(id string) error {
	return b.mutateAccount(id, func(account *core.SupportAccount) {
		account.TotalServed++
	})
}

func (b *BuntStore) mutateAccount(id string, mutate func(*core.SupportAccount)) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		key := accountPrefix + id

		value, err := tx.Get(key)
		if err != nil {
			return err
		}

		var account core.SupportAccount
		if err := json.Unmarshal([]byte(value), &account); err != nil {
			return fmt.Errorf("failed to unmarshal account: %w", err)
		}

		mutate(&account)

		content, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}

		_, _, err = tx.Set(key, string(content), nil)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return core.ErrNotFound
	}

	return err
}

// CreateRecord appends an immutable record to the assignment ledger
func (b *BuntStore) CreateRecord(record *core.AssignmentRecord) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		content, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		_, _, err = tx.Set(recordPrefix+record.ID, string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}

		return nil
	})
}

// LastRecord returns the most recently created ledger record, or nil when
// the ledger is empty
func (b *BuntStore) LastRecord() (*core.AssignmentRecord, error) {
	var last *core.AssignmentRecord

	err := b.db.View(func(tx *buntdb.Tx) error {
		var innerErr error

		err := tx.Descend("record_created", func(_, value string) bool {
			var record core.AssignmentRecord
			if innerErr = json.Unmarshal([]byte(value), &record); innerErr == nil {
				last = &record
			}
			return false
		})
		if err != nil {
			return err
		}

		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read last record: %w", err)
	}

	return last, nil
}

// Records retrieves ledger records matching all provided filters, ordered
// oldest first
func (b *BuntStore) Records(filters ...core.RecordFilter) ([]*core.AssignmentRecord, error) {
	records := make([]*core.AssignmentRecord, 0)

	err := b.db.View(func(tx *buntdb.Tx) error {
		var innerErr error

		err := tx.Ascend("record_created", func(_, value string) bool {
			var record core.AssignmentRecord
			if innerErr = json.Unmarshal([]byte(value), &record); innerErr != nil {
				return false
			}

			for _, filter := range filters {
				if !filter(record) {
					return true
				}
			}

			records = append(records, &record)
			return true
		})
		if err != nil {
			return err
		}

		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate over records: %w", err)
	}

	return records, nil
}

// Method returns the persisted policy selector, defaulting to round_robin
// when none has been stored yet
func (b *BuntStore) Method() (core.Method, error) {
	var method core.Method

	err := b.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(methodKey)
		if err != nil {
			return err
		}

		method = core.Method(strings.TrimSpace(value))
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return core.MethodRoundRobin, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read policy method: %w", err)
	}

	return method, nil
}

// SetMethod persists the policy selector
func (b *BuntStore) SetMethod(method core.Method) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(methodKey, string(method), nil)
		return err
	})
}

// Close closes the database connection
func (b *BuntStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
