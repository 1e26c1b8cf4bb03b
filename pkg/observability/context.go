package observability

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationIDCtx ctxKey = iota
	requestIDCtx
)

// Attribute keys shared by log records and metric tags.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	OperationKey     = "operation"
	OutcomeKey       = "outcome"
	DurationKey      = "duration_ms"
	StatusKey        = "status"
)

// WithCorrelationID stores id on ctx, minting one when id is empty. The
// correlation id follows a licence from the request or CLI invocation
// through the outbox to every consumer.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDCtx, orNewID(id))
}

// CorrelationIDFromContext returns the correlation id, or "" if none is set.
func CorrelationIDFromContext(ctx context.Context) string {
	return idFrom(ctx, correlationIDCtx)
}

// WithRequestID stores id on ctx, minting one when id is empty. Unlike the
// correlation id it is never propagated past the HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtx, orNewID(id))
}

// RequestIDFromContext returns the request id, or "" if none is set.
func RequestIDFromContext(ctx context.Context) string {
	return idFrom(ctx, requestIDCtx)
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func idFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key).(string)
	return id
}
