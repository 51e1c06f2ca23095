package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrNoEligibleAccount = errors.New("no eligible account")
	ErrLockTimeout       = errors.New("lock acquisition timed out")
)

// StorageError wraps a durable-storage failure. Callers should treat it as
// retryable; the engine never retries on its own.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller may reasonably retry the failed call
func IsRetryable(err error) bool {
	var storageErr *StorageError
	return errors.Is(err, ErrLockTimeout) || errors.As(err, &storageErr)
}
