package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/convert"
)

// AttemptFunc is the body of one transaction attempt. It must be safe to run
// again from scratch: nothing it does may be visible outside txn until commit.
type AttemptFunc func(ctx context.Context, txn Txn) error

// RetryObserver is told about each discarded attempt before the next one
// starts. It is for diagnostics only.
type RetryObserver func(attempt int, err error)

// RetryPolicy bounds the OCC retry loop.
type RetryPolicy struct {
	// MaxRetries is the number of re-runs after the first attempt.
	// A negative value retries until the context is done.
	MaxRetries int
	// BaseDelay is the backoff before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
	}
}

func (p RetryPolicy) backoff(retry int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	shift := convert.Shift(retry-1, 30)
	delay := p.BaseDelay * time.Duration(1<<shift)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) exhausted(retries int) bool {
	return p.MaxRetries >= 0 && retries > p.MaxRetries
}

// Ledger executes attempts inside transactions and re-runs them wholesale on
// optimistic concurrency conflicts.
type Ledger struct {
	conn   Connection
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewLedger creates a Ledger over an already connected store.
func NewLedger(conn Connection, policy RetryPolicy, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		conn:   conn,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Connection returns the store handle the ledger runs against.
func (l *Ledger) Connection() Connection {
	return l.conn
}

// ExecuteInTransaction runs fn with a fresh transaction and commits it.
// On an OCC conflict, raised anywhere in the attempt or at commit, the attempt
// is rolled back, onRetry is called, and fn runs again from the start.
// Every other failure is returned unchanged.
func (l *Ledger) ExecuteInTransaction(ctx context.Context, fn AttemptFunc, onRetry RetryObserver) error {
	for attempt := 1; ; attempt++ {
		err := l.runAttempt(ctx, attempt, fn)
		if err == nil {
			return nil
		}
		if !IsConflict(err, l.conn) {
			return err
		}

		retries := attempt
		if l.policy.exhausted(retries) {
			l.logger.Warn("ledger transaction gave up after OCC conflicts",
				"attempts", attempt,
				"error", err,
			)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, asConflict(err))
		}

		if onRetry != nil {
			onRetry(retries, err)
		}

		if err := l.sleep(ctx, l.policy.backoff(retries)); err != nil {
			return err
		}
	}
}

func (l *Ledger) runAttempt(ctx context.Context, attempt int, fn AttemptFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := l.conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			l.logger.Debug("rollback after failed attempt", "attempt", attempt, "error", rbErr)
		}
	}()

	if err := fn(WithAttempt(ctx, tx, attempt), NewTxn(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func asConflict(err error) error {
	if errors.Is(err, ErrOCCConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOCCConflict, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
