package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNacked is returned when the broker refuses a confirmed publish.
var ErrPublishNacked = errors.New("broker did not confirm publish")

// RabbitMQPublisherConfig configures the RabbitMQ publisher.
type RabbitMQPublisherConfig struct {
	URL      string
	Exchange string
	// ConfirmTimeout bounds the wait for a broker confirm. Zero waits for the
	// caller's context only.
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// RabbitMQPublisher publishes outbox envelopes on a confirm-mode channel.
// Publish returns nil only once the broker has taken the message, which is
// what lets the outbox mark it published.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	session *session
	cfg     RabbitMQPublisherConfig
	logger  *slog.Logger
}

// NewRabbitMQPublisher connects and switches the channel to confirm mode.
func NewRabbitMQPublisher(cfg RabbitMQPublisherConfig) (*RabbitMQPublisher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}

	s, err := openSession(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	if err := s.ch.Confirm(false); err != nil {
		s.abort()
		return nil, fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}

	logger := cfg.Logger.With("component", "rabbitmq_publisher", "exchange", cfg.Exchange)
	logger.Info("publisher connected")
	return &RabbitMQPublisher{session: s, cfg: cfg, logger: logger}, nil
}

// Publish sends body persistently and waits for the broker's confirm.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
		defer cancel()
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	// not mandatory, not immediate
	confirm, err := p.session.ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("rabbitmq: await confirm for %s: %w", routingKey, err)
	case !acked:
		return fmt.Errorf("%w: routing key %s", ErrPublishNacked, routingKey)
	}

	p.logger.DebugContext(ctx, "published", "routing_key", routingKey, "bytes", len(body))
	return nil
}

// Close closes the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.session.close(p.logger); err != nil {
		return err
	}
	p.logger.Info("publisher closed")
	return nil
}
