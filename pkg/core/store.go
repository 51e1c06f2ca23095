package core

// Store is the durable backing for the account registry, the assignment
// ledger, and the persisted policy selector. Implementations are not
// required to be safe for concurrent writers; the dispatch controller
// serializes every access.
type Store interface {
	// Registry
	Accounts() ([]SupportAccount, error)
	ListEligible() ([]SupportAccount, error)
	GetAccount(id string) (SupportAccount, error)
	UpsertAccount(account SupportAccount) error
	SetAccountStatus(id string, status AccountStatus) error
	IncrementServed(id string) error

	// Ledger
	CreateRecord(record *AssignmentRecord) error
	LastRecord() (*AssignmentRecord, error)
	Records(filters ...RecordFilter) ([]*AssignmentRecord, error)

	// Policy selector
	Method() (Method, error)
	SetMethod(method Method) error

	Close() error
}
