package core

import "time"

// Method identifies the distribution policy used for an assignment
type Method string

// Available assignment methods
const (
	MethodRoundRobin          Method = "round_robin"
	MethodWeightedLeastLoaded Method = "weighted_least_loaded"
)

// Valid reports whether the method is one of the known policies
func (m Method) Valid() bool {
	return m == MethodRoundRobin || m == MethodWeightedLeastLoaded
}

// AssignmentRecord is one immutable entry of the assignment ledger.
// Records are append-only; they are never updated or deleted.
type AssignmentRecord struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	RequesterID     string    `json:"requester_id"`
	RequesterHandle string    `json:"requester_handle"`
	AccountID       string    `json:"account_id" gorm:"index"`
	Method          Method    `json:"method"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecordFilter is a function that filters ledger records
type RecordFilter func(record AssignmentRecord) bool

// WithAccountID filters records assigned to a specific account
func WithAccountID(id string) RecordFilter {
	return func(record AssignmentRecord) bool {
		return record.AccountID == id
	}
}

// WithSince filters records created at or after the given time
func WithSince(t time.Time) RecordFilter {
	return func(record AssignmentRecord) bool {
		return !record.CreatedAt.Before(t)
	}
}
