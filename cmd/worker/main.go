// Command worker relays the licence outbox to RabbitMQ and warms the
// licence cache from the events it publishes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlewis7127/licenceledger/adapter/cli"
	"github.com/mlewis7127/licenceledger/internal/app"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/subscribers"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/eventbus"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/outbox"
	"github.com/mlewis7127/licenceledger/pkg/config"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, cli.Version)).
		With("component", "worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.LocalMode {
		return errors.New("local mode delivers the outbox in process; set DATABASE_URL to run the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("starting")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize container: %w", err)
	}
	defer container.Close()

	publisher, broker, err := connectPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	processor := container.NewOutboxProcessor(publisher)
	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("start outbox processor: %w", err)
	}
	defer processor.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if broker {
		g.Go(func() error { return warmCache(gctx, cfg, container, logger) })
	}
	if cfg.WorkerHealthAddr != "" {
		g.Go(func() error { return serveHealth(gctx, cfg.WorkerHealthAddr, container.Health, logger) })
	}
	g.Go(func() error {
		logStats(gctx, processor, cfg.OutboxStatsInterval, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// connectPublisher dials RabbitMQ. Outside production a broker that is down
// falls back to a publisher that drops everything; broker reports which one
// was returned.
func connectPublisher(cfg *config.Config, logger *slog.Logger) (publisher eventbus.Publisher, broker bool, err error) {
	p, err := eventbus.NewRabbitMQPublisher(eventbus.RabbitMQPublisherConfig{
		URL:            cfg.RabbitMQURL,
		Exchange:       cfg.RabbitMQExchange,
		ConfirmTimeout: cfg.RabbitMQConfirmTimeout,
		Logger:         logger,
	})
	switch {
	case err == nil:
		return p, true, nil
	case !cfg.IsDevelopment():
		return nil, false, err
	}
	logger.Warn("rabbitmq unavailable, dropping published events", "error", err)
	return eventbus.NewNoopPublisher(logger), false, nil
}

// warmCache consumes LicenceCreated events back off the exchange and writes
// them into the licence cache. A consumer that cannot connect only disables
// warming.
func warmCache(ctx context.Context, cfg *config.Config, container *app.Container, logger *slog.Logger) error {
	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL:      cfg.RabbitMQURL,
		Exchange: cfg.RabbitMQExchange,
		Prefetch: cfg.RabbitMQPrefetch,
		Logger:   logger,
	}, eventbus.NewDispatcher(logger))
	if err != nil {
		logger.Warn("cache warming disabled", "error", err)
		return nil
	}
	defer consumer.Close()
	consumer.Subscribe(subscribers.NewCacheWarmingSubscriber(container.LicenceCache, logger))

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cache warming consumer: %w", err)
	}
	return nil
}

func serveHealth(ctx context.Context, addr string, health *observability.HealthRegistry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown", "error", err)
		}
	}()

	logger.Info("health server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func logStats(ctx context.Context, processor *outbox.Processor, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := processor.GetStats()
			logger.Info("outbox stats",
				"running", s.IsRunning,
				"breaker", s.BreakerState,
				"published", s.PublishedCount,
				"failed", s.FailedCount,
				"dead", s.DeadCount,
				"lag_seconds", s.LagSeconds,
				"oldest_message_at", s.OldestMessageAt,
				"last_processed_at", s.LastProcessedAt,
				"last_error_at", s.LastErrorAt,
				"last_error", s.LastError,
			)
		}
	}
}
