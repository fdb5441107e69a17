package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrConflict                  = errors.New("already exists")
	ErrInvalidInput              = errors.New("invalid input")
	ErrIncompleteDistributionSet = errors.New("distribution set is incomplete")
	ErrCancelNotAllowed          = errors.New("cancel not allowed")
	ErrForceQuitNotAllowed       = errors.New("force quit not allowed")
	ErrQuotaExceeded             = errors.New("quota exceeded")

	// ErrConcurrentModification marks optimistic-concurrency conflicts; the
	// transaction runner retries operations failing with it.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// QuotaError carries the details of an exceeded assignment quota. It unwraps
// to ErrQuotaExceeded.
type QuotaError struct {
	EntityID  string
	Kind      string
	Related   string
	Requested int
	Limit     int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: cannot assign %d %s entities to %s %q, limit is %d",
		e.Requested, e.Kind, e.Related, e.EntityID, e.Limit)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}
