package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

// timeLayout is fixed width so that timestamps stored as TEXT sort and compare
// chronologically on every driver.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `id, event_id, aggregate_type, aggregate_id, event_type, routing_key,
	payload, metadata, created_at, published_at, next_retry_at, retry_count,
	last_error, dead_lettered_at, dead_letter_reason`

type statements struct {
	insert         string
	getUnpublished string
	markPublished  string
	markFailed     string
	markDead       string
	deleteOld      string
}

var sqliteStatements = statements{
	insert: `INSERT INTO outbox (
			event_id, aggregate_type, aggregate_id, event_type, routing_key,
			payload, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
	getUnpublished: `SELECT ` + selectColumns + ` FROM outbox
		WHERE published_at IS NULL AND dead_lettered_at IS NULL
		AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY id LIMIT ?`,
	markPublished: `UPDATE outbox SET published_at = ?, next_retry_at = NULL WHERE id = ?`,
	markFailed:    `UPDATE outbox SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
	markDead:      `UPDATE outbox SET retry_count = retry_count + 1, dead_lettered_at = ?, dead_letter_reason = ? WHERE id = ?`,
	deleteOld: `DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?`,
}

var postgresStatements = statements{
	insert: `INSERT INTO outbox (
			event_id, aggregate_type, aggregate_id, event_type, routing_key,
			payload, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
	getUnpublished: `SELECT ` + selectColumns + ` FROM outbox
		WHERE published_at IS NULL AND dead_lettered_at IS NULL
		AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY id LIMIT $2`,
	markPublished: `UPDATE outbox SET published_at = $1, next_retry_at = NULL WHERE id = $2`,
	markFailed:    `UPDATE outbox SET retry_count = retry_count + 1, last_error = $1, next_retry_at = $2 WHERE id = $3`,
	markDead:      `UPDATE outbox SET retry_count = retry_count + 1, dead_lettered_at = $1, dead_letter_reason = $2 WHERE id = $3`,
	deleteOld: `DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < $1`,
}

// SQLRepository implements Store on a ledger connection. Writes made with
// a context carrying a ledger transaction go through that transaction, so an
// outbox message commits or rolls back with the attempt that produced it.
type SQLRepository struct {
	conn  database.Connection
	stmts statements
	now   func() time.Time
}

// NewSQLRepository creates an outbox repository for the connection's driver.
func NewSQLRepository(conn database.Connection) (*SQLRepository, error) {
	var stmts statements
	switch conn.Driver() {
	case database.DriverSQLite:
		stmts = sqliteStatements
	case database.DriverPostgres:
		stmts = postgresStatements
	default:
		return nil, fmt.Errorf("no outbox statements for driver %q", conn.Driver())
	}
	return &SQLRepository{conn: conn, stmts: stmts, now: time.Now}, nil
}

// Save stores a new outbox message.
func (r *SQLRepository) Save(ctx context.Context, msg *Message) error {
	return r.insert(ctx, database.ExecutorFromContext(ctx, r.conn), msg)
}

// SaveBatch stores multiple outbox messages atomically.
func (r *SQLRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	// Inside an attempt the ledger owns commit.
	if database.InAttempt(ctx) {
		return r.insertAll(ctx, database.ExecutorFromContext(ctx, r.conn), msgs)
	}

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := r.insertAll(ctx, tx, msgs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *SQLRepository) insertAll(ctx context.Context, exec database.Executor, msgs []*Message) error {
	for _, msg := range msgs {
		if err := r.insert(ctx, exec, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) insert(ctx context.Context, exec database.Executor, msg *Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	var metadata any
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}

	return exec.QueryRow(ctx, r.stmts.insert,
		msg.EventID.String(),
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.RoutingKey,
		string(msg.Payload),
		metadata,
		formatTime(createdAt),
	).Scan(&msg.ID)
}

// GetUnpublished retrieves messages that are due for publishing, oldest first.
func (r *SQLRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	return r.query(ctx, r.stmts.getUnpublished, formatTime(r.now()), limit)
}

// MarkPublished marks a message as successfully published.
func (r *SQLRepository) MarkPublished(ctx context.Context, id int64) error {
	return r.exec(ctx, r.stmts.markPublished, formatTime(r.now()), id)
}

// MarkFailed records a publish failure with error message.
func (r *SQLRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	return r.exec(ctx, r.stmts.markFailed, errMsg, formatTime(nextRetryAt), id)
}

// MarkDead marks a message as dead-lettered.
func (r *SQLRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	return r.exec(ctx, r.stmts.markDead, formatTime(r.now()), reason, id)
}

// DeleteOld removes successfully published messages older than the retention period.
func (r *SQLRepository) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -olderThanDays)
	exec := database.ExecutorFromContext(ctx, r.conn)
	result, err := exec.Exec(ctx, r.stmts.deleteOld, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	_, err := exec.Exec(ctx, query, args...)
	return err
}

func (r *SQLRepository) query(ctx context.Context, query string, args ...any) ([]*Message, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func scanMessage(row database.Row) (*Message, error) {
	var (
		msg              Message
		eventID          string
		payload          string
		metadata         sql.NullString
		createdAt        string
		publishedAt      sql.NullString
		nextRetryAt      sql.NullString
		retryCount       int64
		lastError        sql.NullString
		deadLetteredAt   sql.NullString
		deadLetterReason sql.NullString
	)

	err := row.Scan(
		&msg.ID,
		&eventID,
		&msg.AggregateType,
		&msg.AggregateID,
		&msg.EventType,
		&msg.RoutingKey,
		&payload,
		&metadata,
		&createdAt,
		&publishedAt,
		&nextRetryAt,
		&retryCount,
		&lastError,
		&deadLetteredAt,
		&deadLetterReason,
	)
	if err != nil {
		return nil, err
	}

	msg.EventID, _ = uuid.Parse(eventID)
	msg.Payload = json.RawMessage(payload)
	msg.CreatedAt = parseTime(createdAt)
	msg.RetryCount = int(retryCount)

	if metadata.Valid {
		msg.Metadata = json.RawMessage(metadata.String)
	}
	msg.PublishedAt = parseNullTime(publishedAt)
	msg.NextRetryAt = parseNullTime(nextRetryAt)
	msg.DeadLetteredAt = parseNullTime(deadLetteredAt)
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if deadLetterReason.Valid {
		msg.DeadLetterReason = &deadLetterReason.String
	}

	return &msg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
