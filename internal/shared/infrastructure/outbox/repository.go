package outbox

import (
	"context"
	"time"
)

// Writer queues messages. When ctx carries a ledger transaction the rows are
// written inside it, so an event is only queued if its licence commits.
type Writer interface {
	Save(ctx context.Context, msg *Message) error
	SaveBatch(ctx context.Context, msgs []*Message) error
}

// Store is the processor's view of the outbox table.
type Store interface {
	Writer

	// GetUnpublished returns pending messages whose retry time has passed,
	// oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error
	// MarkDead parks a message; it is never retried.
	MarkDead(ctx context.Context, id int64, reason string) error
	// DeleteOld removes published messages older than olderThanDays.
	DeleteOld(ctx context.Context, olderThanDays int) (int64, error)
}
