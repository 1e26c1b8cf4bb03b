package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"wrapped", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSerializationFailure(tt.err))
			assert.Equal(t, tt.want, (&Connection{}).IsConflict(tt.err))
		})
	}
}

func TestNewConnection_RequiresURL(t *testing.T) {
	_, err := NewConnection(context.Background(), database.Config{Driver: database.DriverPostgres})
	require.ErrorContains(t, err, "DATABASE_URL is required")
}

func TestNewConnection_BadURL(t *testing.T) {
	_, err := NewConnection(context.Background(), database.Config{
		Driver: database.DriverPostgres,
		URL:    "postgres://user@host:notaport/db",
	})
	require.ErrorContains(t, err, "parse DATABASE_URL")
}

func TestCommandTag_RowsAffected(t *testing.T) {
	var _ database.Rows = pgxRows{}
	var _ database.Result = commandTag{}

	n, err := commandTag(pgconn.NewCommandTag("INSERT 0 3")).RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
