package eventbus

import (
	"context"
	"log/slog"
)

// Publisher delivers an envelope to subscribers. A nil error means the event
// has been handed off for good; the outbox marks it published on that basis.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// PublisherFunc adapts a function to Publisher. Close is a no-op.
type PublisherFunc func(ctx context.Context, routingKey string, payload []byte) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, routingKey string, payload []byte) error {
	return f(ctx, routingKey, payload)
}

// Close does nothing.
func (f PublisherFunc) Close() error { return nil }

// NoopPublisher accepts and discards every event. The worker falls back to it
// in development when RabbitMQ is unreachable.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs the message but doesn't actually publish.
func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.DebugContext(ctx, "noop publish",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error {
	return nil
}
