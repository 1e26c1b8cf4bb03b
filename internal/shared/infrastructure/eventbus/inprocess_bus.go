package eventbus

import (
	"context"
	"log/slog"
)

// InProcessBus is a Publisher that dispatches synchronously to local
// subscribers. Local mode uses it in place of RabbitMQ.
type InProcessBus struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewInProcessBus creates a new in-process bus.
func NewInProcessBus(logger *slog.Logger) *InProcessBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessBus{
		dispatcher: NewDispatcher(logger),
		logger:     logger,
	}
}

// Subscribe registers s with the bus.
func (b *InProcessBus) Subscribe(s Subscriber) {
	b.dispatcher.Subscribe(s)
}

// Publish decodes payload and dispatches it before returning. Subscriber
// failures are returned so the outbox retries the event; malformed payloads
// are logged and dropped.
func (b *InProcessBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	env, err := DecodeEnvelope(routingKey, payload)
	if err != nil {
		b.logger.ErrorContext(ctx, "dropping malformed event", "routing_key", routingKey, "error", err)
		return nil
	}
	return b.dispatcher.Dispatch(ctx, env)
}

// Close is a no-op for in-process bus.
func (b *InProcessBus) Close() error {
	return nil
}
