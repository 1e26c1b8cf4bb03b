package database

import "context"

// Row, Rows and Result are satisfied directly by database/sql values and by
// the pgx adapters in the postgres package.
type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Close() error
	Err() error
}

type Result interface {
	RowsAffected() (int64, error)
}

// Executor runs statements against a connection or an open transaction.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	// Query is also used for writes with RETURNING.
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Transaction is one attempt's store transaction.
type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a ledger store handle. It is constructed once by the process
// entry point and closed on shutdown.
type Connection interface {
	Executor
	ConflictClassifier
	// BeginTx starts a new transaction at the isolation level the driver uses
	// for optimistic conflict detection.
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
	Ping(ctx context.Context) error
	Driver() Driver
}
