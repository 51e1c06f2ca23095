package core

// AccountStatus represents the routing state of a support account
type AccountStatus string

// Available account statuses
const (
	StatusAvailable AccountStatus = "available"
	StatusBusy      AccountStatus = "busy"
	StatusDisabled  AccountStatus = "disabled"
)

// SupportAccount models a human support contact that requesters are routed to
type SupportAccount struct {
	ID            string        `json:"id" gorm:"primaryKey"`
	Handle        string        `json:"handle"`
	DisplayName   string        `json:"display_name"`
	Weight        int           `json:"weight"`
	MaxConcurrent int           `json:"max_concurrent"`
	Status        AccountStatus `json:"status"`
	TotalServed   int64         `json:"total_served"`
}

// Validate checks the account invariants. An available account must carry a
// positive weight and a positive concurrency cap; disabled accounts are
// exempt so an operator can park a half-configured entry.
func (a SupportAccount) Validate() error {
	if a.ID == "" {
		return ErrInvalidAccount
	}

	if a.Status != StatusDisabled && (a.Weight <= 0 || a.MaxConcurrent <= 0) {
		return ErrInvalidAccount
	}

	return nil
}
