package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mlewis7127/licenceledger/pkg/observability"
)

// Dispatcher routes envelopes to the subscribers of their routing key.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	logger      *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

// Subscribe adds s for each of its routing keys.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range s.RoutingKeys() {
		d.subscribers[key] = append(d.subscribers[key], s)
		d.logger.Debug("subscribed", "routing_key", key)
	}
}

// RoutingKeys returns every key with at least one subscriber, sorted.
func (d *Dispatcher) RoutingKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.subscribers))
	for key := range d.subscribers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SubscriberCount returns the number of subscribers for key.
func (d *Dispatcher) SubscriberCount(key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[key])
}

// Dispatch hands env to every subscriber of its routing key. All subscribers
// run even when one fails; their errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) error {
	d.mu.RLock()
	subscribers := d.subscribers[env.RoutingKey]
	d.mu.RUnlock()

	ctx = env.Context(ctx)
	if len(subscribers) == 0 {
		d.logger.DebugContext(ctx, "no subscribers", "routing_key", env.RoutingKey)
		return nil
	}

	start := time.Now()
	var errs []error
	for _, s := range subscribers {
		if err := s.Handle(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	err := errors.Join(errs...)

	attrs := []any{
		"routing_key", env.RoutingKey,
		"event_id", env.EventID,
		observability.DurationKey, time.Since(start).Milliseconds(),
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "event dispatch failed", append(attrs, "error", err)...)
		return err
	}
	d.logger.DebugContext(ctx, "event dispatched", attrs...)
	return nil
}
