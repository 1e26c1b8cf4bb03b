package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input that was rejected before any
	// transaction was opened.
	ErrValidation = errors.New("validation failed")

	// ErrEmailRequired indicates the business key was missing or blank.
	ErrEmailRequired = fmt.Errorf("%w: email is required", ErrValidation)

	// ErrInvalidEmail indicates the business key is not a bare email address.
	ErrInvalidEmail = fmt.Errorf("%w: email is not a valid address", ErrValidation)

	// ErrLicenceAlreadyExists indicates a licence is already recorded for the email.
	ErrLicenceAlreadyExists = errors.New("licence already exists")

	// ErrLicenceNotFound indicates no licence is recorded for the email.
	ErrLicenceNotFound = errors.New("licence not found")

	// ErrLedgerAnomaly indicates the ledger returned a shape that breaks an
	// invariant, such as two licences for one email.
	ErrLedgerAnomaly = errors.New("ledger data anomaly")
)

// StoreError wraps any failure of the ledger store that is not one of the
// domain errors above.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err, or returns nil when err is nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the licensing failures that
// must reach callers unwrapped.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLicenceAlreadyExists) ||
		errors.Is(err, ErrLicenceNotFound) ||
		errors.Is(err, ErrLedgerAnomaly)
}
