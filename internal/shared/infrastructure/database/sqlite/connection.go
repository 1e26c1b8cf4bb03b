// Package sqlite is the single-file ledger store used in local mode.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/security"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// pragmas applied to every connection. WAL lets readers run beside the
// writer; busy_timeout makes a held write lock wait before reporting BUSY.
var pragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

func init() {
	database.Register(database.DriverSQLite, NewConnection)
}

// querier is the statement surface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	return e.q.ExecContext(ctx, query, args...)
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return e.q.QueryRowContext(ctx, query, args...)
}

func (e executor) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Connection is a SQLite database limited to one open connection, so
// concurrent attempts queue for the writer instead of failing with BUSY.
type Connection struct {
	executor
	db *sql.DB
}

// NewConnection opens cfg.SQLitePath, or the default path under the user's
// home directory when it is empty.
func NewConnection(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = database.DefaultSQLitePath()
	}

	if path != MemoryPath {
		var err error
		if path, err = preparePath(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return &Connection{executor: executor{db}, db: db}, nil
}

// preparePath validates the file part of path and creates its directory.
// Any query string is carried through untouched.
func preparePath(path string) (string, error) {
	file, params, hasParams := strings.Cut(path, "?")
	file, err := security.ValidateDatabasePath(file)
	if err != nil {
		return "", err
	}
	if err := database.EnsureDirectory(file); err != nil {
		return "", fmt.Errorf("sqlite: create directory: %w", err)
	}
	if hasParams {
		return file + "?" + params, nil
	}
	return file, nil
}

func dataSourceName(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func (c *Connection) Driver() database.Driver { return database.DriverSQLite }

func (c *Connection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Connection) Close() error { return c.db.Close() }

// BeginTx starts a transaction. SQLite transactions are serializable.
func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Transaction{executor: executor{tx}, tx: tx}, nil
}

// IsConflict reports BUSY and LOCKED results, which is how SQLite signals
// that another writer got there first.
func (c *Connection) IsConflict(err error) bool {
	return IsBusy(err)
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended result codes.
func IsBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Transaction is one ledger attempt.
type Transaction struct {
	executor
	tx *sql.Tx
}

func (t *Transaction) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Transaction) Rollback(context.Context) error { return t.tx.Rollback() }
