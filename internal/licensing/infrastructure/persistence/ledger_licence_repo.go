package persistence

import (
	"context"
	"fmt"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

// LedgerLicenceRepository runs the licence statements against a ledger
// transaction. It holds no connection of its own; every call is scoped to the
// Txn of the attempt that invokes it.
type LedgerLicenceRepository struct {
	stmts statements
}

// NewLedgerLicenceRepository creates a repository for the given driver.
func NewLedgerLicenceRepository(driver database.Driver) (*LedgerLicenceRepository, error) {
	stmts, err := statementsFor(driver)
	if err != nil {
		return nil, err
	}
	return &LedgerLicenceRepository{stmts: stmts}, nil
}

// CountByEmail returns how many licence documents carry email, as seen by the
// transaction's snapshot.
func (r *LedgerLicenceRepository) CountByEmail(ctx context.Context, txn database.Txn, email string) (int, error) {
	result, err := txn.Query(ctx, r.stmts.countByEmail, email)
	if err != nil {
		return 0, err
	}
	return result.Len(), nil
}

// Insert adds an unstamped licence document and returns the identifier the
// store assigned to it.
func (r *LedgerLicenceRepository) Insert(ctx context.Context, txn database.Txn, email string) (string, error) {
	result, err := txn.Execute(ctx, r.stmts.insert, email)
	if err != nil {
		return "", err
	}

	ids := result.DocumentIDs()
	if len(ids) != 1 {
		return "", fmt.Errorf("%w: insert returned %d document ids, want 1", domain.ErrLedgerAnomaly, len(ids))
	}
	if ids[0] == "" {
		return "", fmt.Errorf("%w: insert returned an empty document id", domain.ErrLedgerAnomaly)
	}
	return ids[0], nil
}

// StampLicenceID writes licenceID into the document keyed by email and returns
// the number of documents updated.
func (r *LedgerLicenceRepository) StampLicenceID(ctx context.Context, txn database.Txn, licenceID, email string) (int, error) {
	result, err := txn.Execute(ctx, r.stmts.stamp, licenceID, email)
	if err != nil {
		return 0, err
	}
	return len(result.DocumentIDs()), nil
}

// FindByEmail loads the licence document for email.
func (r *LedgerLicenceRepository) FindByEmail(ctx context.Context, txn database.Txn, email string) (*domain.Licence, error) {
	result, err := txn.Query(ctx, r.stmts.findByEmail, email)
	if err != nil {
		return nil, err
	}

	docs := result.Documents()
	switch len(docs) {
	case 0:
		return nil, domain.ErrLicenceNotFound
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d licences recorded for one email", domain.ErrLedgerAnomaly, len(docs))
	}

	doc := docs[0]
	storedEmail, _ := doc.String("email")
	licenceID, _ := doc.String("licence_id")
	return &domain.Licence{LicenceID: licenceID, Email: storedEmail}, nil
}
