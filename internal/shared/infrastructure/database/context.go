package database

import "context"

type attemptKey struct{}

type attemptScope struct {
	tx Transaction
	n  int
}

// WithAttempt binds the transaction of ledger attempt n to ctx. Repositories
// that take a context rather than a Txn, such as the outbox, write through it.
func WithAttempt(ctx context.Context, tx Transaction, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attemptScope{tx: tx, n: n})
}

func scopeFrom(ctx context.Context) (attemptScope, bool) {
	s, ok := ctx.Value(attemptKey{}).(attemptScope)
	return s, ok && s.tx != nil
}

// AttemptFromContext returns the 1-based attempt number, or 0 outside a
// ledger transaction.
func AttemptFromContext(ctx context.Context) int {
	s, _ := scopeFrom(ctx)
	return s.n
}

// InAttempt reports whether ctx belongs to a ledger transaction.
func InAttempt(ctx context.Context) bool {
	_, ok := scopeFrom(ctx)
	return ok
}

// ExecutorFromContext returns the attempt's transaction, or conn outside one.
func ExecutorFromContext(ctx context.Context, conn Executor) Executor {
	if s, ok := scopeFrom(ctx); ok {
		return s.tx
	}
	return conn
}
