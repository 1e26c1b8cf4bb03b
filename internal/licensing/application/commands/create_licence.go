package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	sharedApplication "github.com/mlewis7127/licenceledger/internal/shared/application"
	sharedDomain "github.com/mlewis7127/licenceledger/internal/shared/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/outbox"
)

// LicenceLedger is the set of ledger steps a licence creation runs. Every call
// is scoped to the transaction of the current attempt.
type LicenceLedger interface {
	CountByEmail(ctx context.Context, txn database.Txn, email string) (int, error)
	Insert(ctx context.Context, txn database.Txn, email string) (string, error)
	StampLicenceID(ctx context.Context, txn database.Txn, licenceID, email string) (int, error)
}

// CreateLicenceCommand contains the data needed to create a licence.
type CreateLicenceCommand struct {
	Email string
	// Source names the surface that issued the command, e.g. "api".
	Source string
}

// CommandName implements sharedApplication.Command.
func (CreateLicenceCommand) CommandName() string { return "licensing.create_licence" }

// CreateLicenceResult contains the result of creating a licence.
type CreateLicenceResult struct {
	LicenceID string
	Email     string
}

// CreateLicenceHandler handles the CreateLicenceCommand.
type CreateLicenceHandler struct {
	ledger     sharedApplication.TransactionExecutor
	licences   LicenceLedger
	outboxRepo outbox.Writer
	cache      domain.LicenceCache
	logger     *slog.Logger
	onRetry    database.RetryObserver
}

var _ sharedApplication.CommandHandler[CreateLicenceCommand, *CreateLicenceResult] = (*CreateLicenceHandler)(nil)

// NewCreateLicenceHandler creates a new CreateLicenceHandler. outboxRepo and
// cache may be nil.
func NewCreateLicenceHandler(
	ledger sharedApplication.TransactionExecutor,
	licences LicenceLedger,
	outboxRepo outbox.Writer,
	cache domain.LicenceCache,
	logger *slog.Logger,
) *CreateLicenceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateLicenceHandler{
		ledger:     ledger,
		licences:   licences,
		outboxRepo: outboxRepo,
		cache:      cache,
		logger:     logger,
	}
}

// WithRetryObserver registers an extra observer called once per OCC retry.
func (h *CreateLicenceHandler) WithRetryObserver(observer database.RetryObserver) *CreateLicenceHandler {
	h.onRetry = observer
	return h
}

// Handle executes the CreateLicenceCommand.
func (h *CreateLicenceHandler) Handle(ctx context.Context, cmd CreateLicenceCommand) (*CreateLicenceResult, error) {
	email, err := domain.NormalizeEmail(cmd.Email)
	if err != nil {
		return nil, err
	}

	var licence *domain.Licence
	err = h.ledger.ExecuteInTransaction(ctx, func(txCtx context.Context, txn database.Txn) error {
		created, err := h.createInAttempt(txCtx, txn, email, cmd.Source)
		if err != nil {
			return err
		}
		licence = created
		return nil
	}, sharedApplication.ChainRetryObservers(h.logRetry(email), h.onRetry))
	if err != nil {
		if domain.IsDomainError(err) {
			return nil, err
		}
		return nil, domain.NewStoreError("create licence", err)
	}

	h.logger.Info("licence created", "licence_id", licence.LicenceID, "email", licence.Email)

	if h.cache != nil {
		if err := h.cache.Set(ctx, licence); err != nil {
			h.logger.Warn("failed to cache licence", "email", licence.Email, "error", err)
		}
	}

	return &CreateLicenceResult{LicenceID: licence.LicenceID, Email: licence.Email}, nil
}

// createInAttempt is one attempt: probe, insert, stamp, then queue the event.
// It is re-run from the top on an OCC conflict, so it must not touch anything
// outside txn.
func (h *CreateLicenceHandler) createInAttempt(ctx context.Context, txn database.Txn, email, source string) (*domain.Licence, error) {
	attempt := database.AttemptFromContext(ctx)

	count, err := h.licences.CountByEmail(ctx, txn, email)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("probed licences", "email", email, "count", count, "attempt", attempt)
	switch {
	case count == 1:
		return nil, domain.ErrLicenceAlreadyExists
	case count > 1:
		return nil, fmt.Errorf("%w: %d licences recorded for %s", domain.ErrLedgerAnomaly, count, email)
	}

	licenceID, err := h.licences.Insert(ctx, txn, email)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("inserted licence document", "email", email, "document_id", licenceID, "attempt", attempt)

	updated, err := h.licences.StampLicenceID(ctx, txn, licenceID, email)
	if err != nil {
		return nil, err
	}
	if updated != 1 {
		return nil, fmt.Errorf("%w: stamping %s updated %d documents, want 1", domain.ErrLedgerAnomaly, licenceID, updated)
	}
	h.logger.Debug("stamped licence id", "email", email, "licence_id", licenceID, "attempt", attempt)

	licence := &domain.Licence{Email: email}
	licence.Stamp(licenceID)

	if err := h.queueCreated(ctx, licence, source); err != nil {
		return nil, err
	}
	return licence, nil
}

func (h *CreateLicenceHandler) queueCreated(ctx context.Context, licence *domain.Licence, source string) error {
	if h.outboxRepo == nil {
		return nil
	}

	events := []sharedDomain.DomainEvent{domain.NewLicenceCreated(licence)}
	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(ctx, source))

	msgs, err := outbox.NewMessages(events)
	if err != nil {
		return fmt.Errorf("encode licence event: %w", err)
	}
	return h.outboxRepo.SaveBatch(ctx, msgs)
}

func (h *CreateLicenceHandler) logRetry(email string) database.RetryObserver {
	return func(attempt int, err error) {
		h.logger.Info("retrying licence creation after OCC conflict",
			"email", email,
			"attempt", attempt,
			"error", err,
		)
	}
}

// IsRetryableConflict reports whether err ended in exhausted OCC retries, as
// opposed to a terminal store failure.
func IsRetryableConflict(err error) bool {
	return errors.Is(err, database.ErrRetriesExhausted)
}
