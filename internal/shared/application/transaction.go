package application

import (
	"context"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

// TransactionExecutor runs an attempt inside a ledger transaction, re-running
// it from scratch on optimistic concurrency conflicts.
type TransactionExecutor interface {
	ExecuteInTransaction(ctx context.Context, fn database.AttemptFunc, onRetry database.RetryObserver) error
}

// ChainRetryObservers returns an observer that calls each non-nil observer in
// order. It returns nil when there is nothing to call.
func ChainRetryObservers(observers ...database.RetryObserver) database.RetryObserver {
	var chain []database.RetryObserver
	for _, o := range observers {
		if o != nil {
			chain = append(chain, o)
		}
	}
	if len(chain) == 0 {
		return nil
	}
	return func(attempt int, err error) {
		for _, o := range chain {
			o(attempt, err)
		}
	}
}
