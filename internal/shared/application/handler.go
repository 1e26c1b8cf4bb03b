package application

import "context"

// Command is a request that writes to the ledger. Its name is used as the
// metric and log label for the operation.
type Command interface {
	CommandName() string
}

// Query is a read-only request against the ledger.
type Query interface {
	QueryName() string
}

// CommandHandler runs C inside a ledger transaction and returns R.
type CommandHandler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// QueryHandler answers Q with R. Reads still run in a transaction so they
// observe a committed snapshot.
type QueryHandler[Q Query, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}
