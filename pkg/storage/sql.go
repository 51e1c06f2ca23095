package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/raykavin/deskroute/pkg/core"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// policySetting is the singleton row holding the persisted policy selector
type policySetting struct {
	ID     int `gorm:"primaryKey"`
	Method string
}

// SQLStore implements the core.Store interface using a SQL database via GORM
type SQLStore struct {
	db *gorm.DB
}

// FromSQL creates a new SQL store instance
func FromSQL(dialect gorm.Dialector, opts ...gorm.Option) (core.Store, error) {
	db, err := gorm.Open(dialect, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto migrate the engine models
	err = db.AutoMigrate(&core.SupportAccount{}, &core.AssignmentRecord{}, &policySetting{})
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Accounts returns every registered account ordered by id ascending
func (s *SQLStore) Accounts() ([]core.SupportAccount, error) {
	var accounts []core.SupportAccount

	result := s.db.Order("id asc").Find(&accounts)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch accounts: %w", result.Error)
	}

	return accounts, nil
}

// ListEligible returns the accounts in available status ordered by id ascending
func (s *SQLStore) ListEligible() ([]core.SupportAccount, error) {
	var accounts []core.SupportAccount

	result := s.db.
		Where("status = ?", core.StatusAvailable).
		Order("id asc").
		Find(&accounts)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch eligible accounts: %w", result.Error)
	}

	return accounts, nil
}

// GetAccount retrieves a single account by id
func (s *SQLStore) GetAccount(id string) (core.SupportAccount, error) {
	var account core.SupportAccount

	result := s.db.First(&account, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return core.SupportAccount{}, core.ErrNotFound
	}
	if result.Error != nil {
		return core.SupportAccount{}, fmt.Errorf("failed to fetch account: %w", result.Error)
	}

	return account, nil
}

// UpsertAccount creates or replaces an account after validating it
func (s *SQLStore) UpsertAccount(account core.SupportAccount) error {
	if err := account.Validate(); err != nil {
		return err
	}

	result := s.db.Save(&account)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert account: %w", result.Error)
	}

	return nil
}

// SetAccountStatus transitions an account's status; no-op when unchanged
func (s *SQLStore) SetAccountStatus(id string, status core.AccountStatus) error {
	account, err := s.GetAccount(id)
	if err != nil {
		return err
	}

	if account.Status == status {
		return nil
	}

	result := s.db.Model(&core.SupportAccount{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update account status: %w", result.Error)
	}

	return nil
}

// IncrementServed bumps the lifetime assignment counter of an account
func (s *SQLStore) IncrementServed(id string) error {
	result := s.db.Model(&core.SupportAccount{}).
		Where("id = ?", id).
		Update("total_served", gorm.Expr("total_served + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment served counter: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}

	return nil
}

// CreateRecord appends an immutable record to the assignment ledger
func (s *SQLStore) CreateRecord(record *core.AssignmentRecord) error {
	result := s.db.Create(record)
	if result.Error != nil {
		return fmt.Errorf("failed to create record: %w", result.Error)
	}

	return nil
}

// LastRecord returns the most recently created ledger record, or nil when
// the ledger is empty
func (s *SQLStore) LastRecord() (*core.AssignmentRecord, error) {
	var record core.AssignmentRecord

	result := s.db.Order("created_at desc").First(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to fetch last record: %w", result.Error)
	}

	return &record, nil
}

// Records retrieves ledger records matching all provided filters, ordered
// oldest first
func (s *SQLStore) Records(filters ...core.RecordFilter) ([]*core.AssignmentRecord, error) {
	var records []*core.AssignmentRecord

	result := s.db.Order("created_at asc").Find(&records)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch records: %w", result.Error)
	}

	// Apply filters in memory
	// Note: This could be optimized by translating filters to SQL WHERE clauses
	filtered := lo.Filter(records, func(record *core.AssignmentRecord, _ int) bool {
		for _, filter := range filters {
			if !filter(*record) {
				return false
			}
		}
		return true
	})

	return filtered, nil
}

// Method returns the persisted policy selector, defaulting to round_robin
// when none has been stored yet
func (s *SQLStore) Method() (core.Method, error) {
	var setting policySetting

	result := s.db.First(&setting, "id = ?", 1)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return core.MethodRoundRobin, nil
	}
	if result.Error != nil {
		return "", fmt.Errorf("failed to fetch policy method: %w", result.Error)
	}

	return core.Method(setting.Method), nil
}

// SetMethod persists the policy selector
func (s *SQLStore) SetMethod(method core.Method) error {
	result := s.db.Save(&policySetting{ID: 1, Method: string(method)})
	if result.Error != nil {
		return fmt.Errorf("failed to persist policy method: %w", result.Error)
	}

	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}
