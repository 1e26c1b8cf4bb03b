package database

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNoRows is returned when a query expected to return a row returns none.
	ErrNoRows = errors.New("no rows in result set")

	// ErrOCCConflict indicates that a concurrent writer invalidated the
	// transaction's snapshot. Attempts failing with it are re-run from scratch.
	ErrOCCConflict = errors.New("optimistic concurrency conflict")

	// ErrRetriesExhausted is returned when every permitted attempt hit an OCC conflict.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")

	// ErrNoTransaction is returned when a transaction is required but none is in the context.
	ErrNoTransaction = errors.New("no transaction in context")
)

// IsNoRows returns true if the error indicates no rows were found.
// This handles both pgx.ErrNoRows and sql.ErrNoRows.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNoRows)
}

// ConflictClassifier reports whether a driver error is an OCC conflict.
type ConflictClassifier interface {
	IsConflict(err error) bool
}

// IsConflict reports whether err should trigger a whole-attempt retry.
// classifier may be nil, in which case only ErrOCCConflict qualifies.
func IsConflict(err error, classifier ConflictClassifier) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOCCConflict) {
		return true
	}
	return classifier != nil && classifier.IsConflict(err)
}
