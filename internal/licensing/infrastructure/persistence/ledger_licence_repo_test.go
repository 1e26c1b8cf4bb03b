package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database/sqlite"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/migrations"
)

// setupLedger opens a migrated SQLite ledger in a temp directory.
func setupLedger(t *testing.T) *database.Ledger {
	t.Helper()

	ctx := context.Background()
	conn, err := sqlite.NewConnection(ctx, database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn))
	return database.NewLedger(conn, database.DefaultRetryPolicy(), nil)
}

// stubTxn returns canned result sets.
type stubTxn struct {
	query   *database.ResultSet
	execute *database.ResultSet
}

func (s *stubTxn) Query(ctx context.Context, statement string, args ...any) (*database.ResultSet, error) {
	return s.query, nil
}

func (s *stubTxn) Execute(ctx context.Context, statement string, args ...any) (*database.ResultSet, error) {
	return s.execute, nil
}

func TestNewLedgerLicenceRepository_UnknownDriver(t *testing.T) {
	_, err := NewLedgerLicenceRepository(database.Driver("oracle"))
	assert.Error(t, err)
}

func TestLedgerLicenceRepository_InsertProbeStamp(t *testing.T) {
	ledger := setupLedger(t)
	repo, err := NewLedgerLicenceRepository(database.DriverSQLite)
	require.NoError(t, err)
	ctx := context.Background()

	var documentID string
	err = ledger.ExecuteInTransaction(ctx, func(ctx context.Context, txn database.Txn) error {
		count, err := repo.CountByEmail(ctx, txn, "dana@example.com")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		documentID, err = repo.Insert(ctx, txn, "dana@example.com")
		require.NoError(t, err)
		assert.NotEmpty(t, documentID)

		unstamped, err := repo.FindByEmail(ctx, txn, "dana@example.com")
		require.NoError(t, err)
		assert.False(t, unstamped.IsComplete())

		updated, err := repo.StampLicenceID(ctx, txn, documentID, "dana@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, updated)
		return nil
	}, nil)
	require.NoError(t, err)

	err = ledger.ExecuteInTransaction(ctx, func(ctx context.Context, txn database.Txn) error {
		count, err := repo.CountByEmail(ctx, txn, "dana@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		licence, err := repo.FindByEmail(ctx, txn, "dana@example.com")
		require.NoError(t, err)
		assert.Equal(t, documentID, licence.LicenceID)
		assert.Equal(t, "dana@example.com", licence.Email)
		assert.True(t, licence.IsComplete())
		return nil
	}, nil)
	require.NoError(t, err)
}

func TestLedgerLicenceRepository_StampWithoutDocument(t *testing.T) {
	ledger := setupLedger(t)
	repo, err := NewLedgerLicenceRepository(database.DriverSQLite)
	require.NoError(t, err)

	err = ledger.ExecuteInTransaction(context.Background(), func(ctx context.Context, txn database.Txn) error {
		updated, err := repo.StampLicenceID(ctx, txn, "doc-1", "nobody@example.com")
		require.NoError(t, err)
		assert.Equal(t, 0, updated)
		return nil
	}, nil)
	require.NoError(t, err)
}

func TestLedgerLicenceRepository_FindByEmailNotFound(t *testing.T) {
	ledger := setupLedger(t)
	repo, err := NewLedgerLicenceRepository(database.DriverSQLite)
	require.NoError(t, err)

	err = ledger.ExecuteInTransaction(context.Background(), func(ctx context.Context, txn database.Txn) error {
		_, err := repo.FindByEmail(ctx, txn, "ghost@example.com")
		return err
	}, nil)
	assert.ErrorIs(t, err, domain.ErrLicenceNotFound)
}

func TestLedgerLicenceRepository_InsertRequiresExactlyOneID(t *testing.T) {
	repo, err := NewLedgerLicenceRepository(database.DriverPostgres)
	require.NoError(t, err)

	tests := []struct {
		name string
		ids  []string
	}{
		{name: "no ids", ids: nil},
		{name: "two ids", ids: []string{"a", "b"}},
		{name: "empty id", ids: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := &stubTxn{execute: database.NewResultSet(nil, tt.ids)}

			id, err := repo.Insert(context.Background(), txn, "erin@example.com")

			assert.ErrorIs(t, err, domain.ErrLedgerAnomaly)
			assert.Empty(t, id)
		})
	}
}

func TestLedgerLicenceRepository_FindByEmailDuplicate(t *testing.T) {
	repo, err := NewLedgerLicenceRepository(database.DriverSQLite)
	require.NoError(t, err)

	txn := &stubTxn{query: database.NewResultSet([]database.Document{
		{"document_id": "a", "email": "x@example.com", "licence_id": "a"},
		{"document_id": "b", "email": "x@example.com", "licence_id": "b"},
	}, nil)}

	_, err = repo.FindByEmail(context.Background(), txn, "x@example.com")
	assert.ErrorIs(t, err, domain.ErrLedgerAnomaly)
}
