package subscribers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/eventbus"
)

// CacheWarmingSubscriber fills the licence cache from LicenceCreated events so
// that readers on other nodes find new licences without a ledger read.
type CacheWarmingSubscriber struct {
	cache  domain.LicenceCache
	logger *slog.Logger
}

// NewCacheWarmingSubscriber creates a new cache warming subscriber.
func NewCacheWarmingSubscriber(cache domain.LicenceCache, logger *slog.Logger) *CacheWarmingSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheWarmingSubscriber{cache: cache, logger: logger}
}

// RoutingKeys returns the events this subscriber handles.
func (s *CacheWarmingSubscriber) RoutingKeys() []string {
	return []string{domain.RoutingKeyLicenceCreated}
}

type licenceCreatedPayload struct {
	LicenceID string `json:"licence_id"`
	Email     string `json:"email"`
}

// Handle processes an event.
func (s *CacheWarmingSubscriber) Handle(ctx context.Context, env *eventbus.Envelope) error {
	var payload licenceCreatedPayload
	if err := env.DecodePayload(&payload); err != nil {
		// Undecodable events will never succeed; drop them.
		s.logger.ErrorContext(ctx, "invalid licence created payload",
			"event_id", env.EventID,
			"error", err,
		)
		return nil
	}

	licence := &domain.Licence{LicenceID: payload.LicenceID, Email: payload.Email}
	if !licence.IsComplete() {
		s.logger.WarnContext(ctx, "licence created event without licence id",
			"event_id", env.EventID,
			"aggregate_id", env.AggregateID,
		)
		return nil
	}

	if err := s.cache.Set(ctx, licence); err != nil {
		return fmt.Errorf("warm licence cache: %w", err)
	}

	s.logger.DebugContext(ctx, "licence cache warmed", "licence_id", licence.LicenceID)
	return nil
}
