package queries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	sharedApplication "github.com/mlewis7127/licenceledger/internal/shared/application"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

// LicenceFinder loads a licence inside a ledger transaction.
type LicenceFinder interface {
	FindByEmail(ctx context.Context, txn database.Txn, email string) (*domain.Licence, error)
}

// GetLicenceQuery asks for the licence recorded for an email.
type GetLicenceQuery struct {
	Email string
}

// QueryName implements sharedApplication.Query.
func (GetLicenceQuery) QueryName() string { return "licensing.get_licence" }

// GetLicenceHandler reads licences through the cache, falling back to the ledger.
type GetLicenceHandler struct {
	ledger   sharedApplication.TransactionExecutor
	licences LicenceFinder
	cache    domain.LicenceCache
	logger   *slog.Logger
}

var _ sharedApplication.QueryHandler[GetLicenceQuery, *domain.Licence] = (*GetLicenceHandler)(nil)

// NewGetLicenceHandler creates a new GetLicenceHandler. cache may be nil.
func NewGetLicenceHandler(
	ledger sharedApplication.TransactionExecutor,
	licences LicenceFinder,
	cache domain.LicenceCache,
	logger *slog.Logger,
) *GetLicenceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLicenceHandler{
		ledger:   ledger,
		licences: licences,
		cache:    cache,
		logger:   logger,
	}
}

// Handle returns the stamped licence for the email or domain.ErrLicenceNotFound.
func (h *GetLicenceHandler) Handle(ctx context.Context, query GetLicenceQuery) (*domain.Licence, error) {
	email, err := domain.NormalizeEmail(query.Email)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		cached, err := h.cache.Get(ctx, email)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			h.logger.Warn("licence cache read failed", "email", email, "error", err)
		}
	}

	var licence *domain.Licence
	err = h.ledger.ExecuteInTransaction(ctx, func(txCtx context.Context, txn database.Txn) error {
		found, err := h.licences.FindByEmail(txCtx, txn, email)
		if err != nil {
			return err
		}
		licence = found
		return nil
	}, nil)
	if err != nil {
		if domain.IsDomainError(err) {
			return nil, err
		}
		return nil, domain.NewStoreError("get licence", err)
	}

	// A committed licence is always stamped.
	if !licence.IsComplete() {
		return nil, fmt.Errorf("%w: licence for %s has no licence id", domain.ErrLedgerAnomaly, email)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, licence); err != nil {
			h.logger.Warn("failed to cache licence", "email", email, "error", err)
		}
	}
	return licence, nil
}
