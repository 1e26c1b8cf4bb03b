package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultConsumerQueueName is the durable queue the worker consumes from.
const DefaultConsumerQueueName = "licenceledger.consumer"

// ErrConsumerRunning is returned by Start when the consumer already runs.
var ErrConsumerRunning = errors.New("consumer already running")

// RabbitMQConsumerConfig configures the RabbitMQ consumer.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	Exchange  string
	// Prefetch is the number of unacknowledged deliveries the broker may push.
	Prefetch int
	Logger   *slog.Logger
}

// RabbitMQConsumer feeds deliveries from a durable queue into a Dispatcher.
// The queue is bound to the dispatcher's routing keys when Start is called.
type RabbitMQConsumer struct {
	session    *session
	cfg        RabbitMQConsumerConfig
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	closed  chan struct{}
}

// NewRabbitMQConsumer connects to the broker and declares the exchange and queue.
func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig, dispatcher *Dispatcher) (*RabbitMQConsumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultConsumerQueueName
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	s, err := openSession(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	// durable, not auto-deleted, not exclusive, wait
	if _, err := s.ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		s.abort()
		return nil, fmt.Errorf("rabbitmq: declare queue %s: %w", cfg.QueueName, err)
	}

	logger := cfg.Logger.With("component", "rabbitmq_consumer", "queue", cfg.QueueName)
	logger.Info("consumer connected", "exchange", cfg.Exchange)

	return &RabbitMQConsumer{
		session:    s,
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		closed:     make(chan struct{}),
	}, nil
}

// Subscribe registers s with the dispatcher. Call it before Start.
func (c *RabbitMQConsumer) Subscribe(s Subscriber) {
	c.dispatcher.Subscribe(s)
}

// Start binds the queue and consumes until ctx is cancelled or Close is
// called. It blocks.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConsumerRunning
	}
	c.running = true
	c.mu.Unlock()

	for _, key := range c.dispatcher.RoutingKeys() {
		if err := c.session.ch.QueueBind(c.cfg.QueueName, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: bind %s: %w", key, err)
		}
		c.logger.Debug("queue bound", "routing_key", key)
	}

	if err := c.session.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: set prefetch: %w", err)
	}

	// manual ack, not exclusive
	deliveries, err := c.session.ch.Consume(c.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume: %w", err)
	}

	c.logger.Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle acks a delivery once it is dispatched. A failed dispatch is
// requeued once; a second failure drops it so a poison message cannot spin
// forever. Malformed bodies are acked and dropped.
func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery) {
	env, err := DecodeEnvelope(d.RoutingKey, d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping malformed event", "routing_key", d.RoutingKey, "error", err)
		c.ack(d)
		return
	}

	if err := c.dispatcher.Dispatch(ctx, env); err != nil {
		requeue := !d.Redelivered
		if !requeue {
			c.logger.WarnContext(env.Context(ctx), "dropping event after redelivery failed", "event_id", env.EventID)
		}
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			c.logger.Error("nack failed", "error", nackErr)
		}
		return
	}
	c.ack(d)
}

func (c *RabbitMQConsumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "error", err)
	}
}

// Close stops Start and closes the connection. It is safe to call twice.
func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil
	default:
	}
	close(c.closed)
	c.running = false

	if err := c.session.close(c.logger); err != nil {
		return err
	}
	c.logger.Info("consumer closed")
	return nil
}
