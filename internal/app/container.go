package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mlewis7127/licenceledger/internal/licensing/application/commands"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/queries"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/subscribers"
	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/internal/licensing/infrastructure/persistence"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/convert"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
	_ "github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/eventbus"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/migrations"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/outbox"
	"github.com/mlewis7127/licenceledger/pkg/config"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Metrics *observability.InMemoryMetrics
	Health  *observability.HealthRegistry

	// Ledger store
	DBConn   database.Connection
	DBDriver database.Driver
	Ledger   *database.Ledger

	// Redis
	RedisClient *redis.Client

	// Repositories
	LicenceRepo  *persistence.LedgerLicenceRepository
	LicenceCache domain.LicenceCache
	OutboxRepo   *outbox.SQLRepository

	// Command and query handlers
	CreateLicenceHandler *commands.CreateLicenceHandler
	GetLicenceHandler    *queries.GetLicenceHandler

	// Local mode event delivery. Nil unless Config.LocalMode is set; outside
	// local mode the worker owns publishing.
	InProcessBus    *eventbus.InProcessBus
	EventPublisher  eventbus.Publisher
	OutboxProcessor *outbox.Processor
}

// NewContainer connects to the ledger store, applies migrations and wires the
// licensing handlers. In local mode it also wires an in-process outbox
// processor that warms the licence cache.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	if err := c.initLedger(ctx); err != nil {
		return nil, err
	}

	if err := c.initCache(ctx); err != nil {
		c.Close()
		return nil, err
	}

	licences, err := persistence.NewLedgerLicenceRepository(c.DBDriver)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.LicenceRepo = licences

	outboxRepo, err := outbox.NewSQLRepository(c.DBConn)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.OutboxRepo = outboxRepo

	c.CreateLicenceHandler = commands.NewCreateLicenceHandler(
		c.Ledger, c.LicenceRepo, c.OutboxRepo, c.LicenceCache, logger,
	).WithRetryObserver(func(int, error) {
		c.Metrics.Counter(observability.MetricLedgerRetries, 1)
	})
	c.GetLicenceHandler = queries.NewGetLicenceHandler(c.Ledger, c.LicenceRepo, c.LicenceCache, logger)

	if cfg.LocalMode && cfg.OutboxProcessorEnabled {
		c.InProcessBus = eventbus.NewInProcessBus(logger)
		c.InProcessBus.Subscribe(subscribers.NewCacheWarmingSubscriber(c.LicenceCache, logger))
		c.EventPublisher = c.InProcessBus
		c.OutboxProcessor = c.NewOutboxProcessor(c.EventPublisher)
		logger.Info("local mode: outbox delivered in process")
	}

	c.Health.Register("ledger", observability.DatabaseHealthChecker(c.DBConn.Ping))
	if c.RedisClient != nil {
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return c.RedisClient.Ping(ctx).Err()
		}))
	}
	c.Health.Register("metrics", observability.StatsHealthChecker(c.Metrics.Snapshot))

	return c, nil
}

func (c *Container) initLedger(ctx context.Context) error {
	cfg := c.Config

	driver, err := database.ParseDriver(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if cfg.LocalMode {
		driver = database.DriverSQLite
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     driver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
		MaxConns:   cfg.DatabaseMaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ledger store: %w", err)
	}

	if err := migrations.Run(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	c.DBConn = conn
	c.DBDriver = conn.Driver()
	c.Ledger = database.NewLedger(conn, database.RetryPolicy{
		MaxRetries: cfg.LedgerMaxRetries,
		BaseDelay:  cfg.LedgerRetryBaseDelay,
		MaxDelay:   cfg.LedgerRetryMaxDelay,
	}, c.Logger)

	c.Logger.Info("ledger store ready", "driver", c.DBDriver)
	return nil
}

// initCache uses Redis when configured. An unreachable Redis is reported and
// replaced by an in-memory cache: the ledger stays the source of truth.
func (c *Container) initCache(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		c.LicenceCache = persistence.NewInMemoryLicenceCache()
		return nil
	}

	client, err := persistence.NewRedisClient(c.Config.RedisURL)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		c.Logger.Warn("redis unavailable, using in-memory licence cache", "error", err)
		_ = client.Close()
		c.LicenceCache = persistence.NewInMemoryLicenceCache()
		return nil
	}

	c.RedisClient = client
	c.LicenceCache = persistence.NewRedisLicenceCache(client, c.Config.LicenceCacheTTL)
	return nil
}

// ProcessorConfig maps configuration onto the outbox processor settings.
func (c *Container) ProcessorConfig() outbox.ProcessorConfig {
	cfg := c.Config
	pc := outbox.DefaultProcessorConfig()
	if cfg.OutboxPollInterval > 0 {
		pc.PollInterval = cfg.OutboxPollInterval
	}
	if cfg.OutboxBatchSize > 0 {
		pc.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxMaxRetries > 0 {
		pc.MaxRetries = cfg.OutboxMaxRetries
	}
	pc.RetentionDays = cfg.OutboxRetentionDays
	if cfg.OutboxCleanupInterval > 0 {
		pc.CleanupInterval = cfg.OutboxCleanupInterval
	}
	pc.Breaker.Enabled = cfg.PublisherBreakerEnabled
	if cfg.PublisherBreakerFailureThreshold > 0 {
		pc.Breaker.FailureThreshold = convert.Uint32(cfg.PublisherBreakerFailureThreshold)
	}
	if cfg.PublisherBreakerTimeout > 0 {
		pc.Breaker.Timeout = cfg.PublisherBreakerTimeout
	}
	return pc
}

// NewOutboxProcessor creates a processor that drains this container's outbox
// into publisher.
func (c *Container) NewOutboxProcessor(publisher eventbus.Publisher) *outbox.Processor {
	processor := outbox.NewProcessor(c.OutboxRepo, publisher, c.ProcessorConfig(), c.Logger)
	c.Health.Register("outbox", observability.StatsHealthChecker(func() map[string]any {
		stats := processor.GetStats()
		return map[string]any{
			"running":   stats.IsRunning,
			"breaker":   stats.BreakerState,
			"published": stats.PublishedCount,
			"failed":    stats.FailedCount,
			"dead":      stats.DeadCount,
		}
	}))
	return processor
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Error("failed to close event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Error("failed to close redis client", "error", err)
		}
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Error("failed to close ledger store", "error", err)
		}
	}
}
