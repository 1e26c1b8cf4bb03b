package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/convert"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/eventbus"
)

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries counts failed publishes, the last of which dead-letters the
	// message.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// RetentionDays is how long published rows are kept. Zero keeps them.
	RetentionDays   int
	CleanupInterval time.Duration
	Breaker         BreakerConfig
}

// DefaultProcessorConfig returns the settings used when OUTBOX_* variables
// are unset.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		RetentionDays:    7,
		CleanupInterval:  time.Hour,
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomePublished
	outcomeRetry
	outcomeDead
	outcomeDeferred
)

// Processor delivers queued licence events to a publisher: RabbitMQ in the
// worker, the in-process bus in local mode.
type Processor struct {
	store     Store
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger
	guard     publishGuard
	stats     statsRecorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor creates a processor. It does nothing until Start or
// ProcessOnce is called.
func NewProcessor(store Store, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "outbox")
	return &Processor{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger,
		guard:     newPublishGuard(config.Breaker, logger),
	}
}

// Start polls in the background until ctx is cancelled or Stop is called.
// Starting a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("outbox processor stopped")
}

// IsRunning reports whether the background loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Processor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()

	var cleanup <-chan time.Time
	if p.config.RetentionDays > 0 && p.config.CleanupInterval > 0 {
		t := time.NewTicker(p.config.CleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox poll failed", "error", err)
			}
		case <-cleanup:
			if _, err := p.Cleanup(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox cleanup failed", "error", err)
			}
		}
	}
}

// ProcessOnce delivers one batch of due messages. Publish failures are
// recorded on the rows rather than returned; only store errors are returned.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	batch, err := p.store.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.stats.errored(err)
		return fmt.Errorf("load outbox batch: %w", err)
	}
	p.stats.polled(batch)

	for i, msg := range batch {
		if p.deliver(ctx, msg) == outcomeDeferred {
			p.logger.Warn("publisher circuit open, deferring batch", "remaining", len(batch)-i)
			return nil
		}
	}
	return nil
}

func (p *Processor) deliver(ctx context.Context, msg *Message) outcome {
	env, err := msg.envelope()
	if err == nil {
		err = p.publish(ctx, env)
	}

	switch {
	case err == nil:
		if markErr := p.store.MarkPublished(ctx, msg.ID); markErr != nil {
			// Redelivered on the next poll; consumers are idempotent.
			p.logger.ErrorContext(ctx, "mark published failed", "id", msg.ID, "error", markErr)
			p.stats.errored(markErr)
			return outcomeNone
		}
		p.stats.delivered(outcomePublished, nil)
		return outcomePublished

	case errors.Is(err, ErrPublisherUnavailable):
		p.stats.errored(err)
		return outcomeDeferred

	case msg.FinalAttempt(p.config.MaxRetries):
		p.logFailure(ctx, msg, env, err, "dead-lettering outbox message")
		if markErr := p.store.MarkDead(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.ErrorContext(ctx, "mark dead failed", "id", msg.ID, "error", markErr)
		}
		p.stats.delivered(outcomeDead, err)
		return outcomeDead

	default:
		p.logFailure(ctx, msg, env, err, "outbox publish failed")
		next := time.Now().Add(p.backoff(msg.RetryCount + 1))
		if markErr := p.store.MarkFailed(ctx, msg.ID, err.Error(), next); markErr != nil {
			p.logger.ErrorContext(ctx, "schedule retry failed", "id", msg.ID, "error", markErr)
		}
		p.stats.delivered(outcomeRetry, err)
		return outcomeRetry
	}
}

func (p *Processor) publish(ctx context.Context, env *eventbus.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.guard.do(func() error {
		return p.publisher.Publish(ctx, env.RoutingKey, body)
	})
}

func (p *Processor) logFailure(ctx context.Context, msg *Message, env *eventbus.Envelope, err error, text string) {
	attrs := []any{
		"id", msg.ID,
		"routing_key", msg.RoutingKey,
		"event_id", msg.EventID,
		"retry_count", msg.RetryCount,
		"error", err,
	}
	if env != nil {
		ctx = env.Context(ctx)
		attrs = append(attrs, "causation_id", env.Metadata.CausationID, "source", env.Metadata.Source)
	}
	p.logger.WarnContext(ctx, text, attrs...)
}

// backoff doubles from RetryBackoffBase per failure, capped at RetryBackoffMax.
func (p *Processor) backoff(failures int) time.Duration {
	base := p.config.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	ceiling := p.config.RetryBackoffMax
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	return min(base*time.Duration(1<<convert.Shift(failures-1, 30)), ceiling)
}

// Cleanup deletes published messages past the retention period.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}
	deleted, err := p.store.DeleteOld(ctx, p.config.RetentionDays)
	if err != nil {
		p.stats.errored(err)
		return 0, err
	}
	if deleted > 0 {
		p.logger.InfoContext(ctx, "outbox cleanup", "deleted", deleted, "retention_days", p.config.RetentionDays)
	}
	return deleted, nil
}

// GetStats returns a snapshot of processor progress.
func (p *Processor) GetStats() Stats {
	s := p.stats.snapshot()
	s.IsRunning = p.IsRunning()
	s.BreakerState = p.guard.state()
	return s
}
