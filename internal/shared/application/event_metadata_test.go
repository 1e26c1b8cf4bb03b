package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlewis7127/licenceledger/internal/shared/domain"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

func TestNewEventMetadata(t *testing.T) {
	t.Run("uses correlation id from context", func(t *testing.T) {
		ctx := observability.WithCorrelationID(context.Background(), "req-42")

		metadata := NewEventMetadata(ctx, "api")

		assert.Equal(t, "api", metadata.Source)
		assert.Equal(t, "req-42", metadata.CorrelationID)
		assert.NotEqual(t, uuid.Nil, metadata.CausationID)
	})

	t.Run("mints correlation id when context has none", func(t *testing.T) {
		metadata1 := NewEventMetadata(context.Background(), "cli")
		metadata2 := NewEventMetadata(context.Background(), "cli")

		assert.NotEmpty(t, metadata1.CorrelationID)
		assert.NotEqual(t, metadata1.CorrelationID, metadata2.CorrelationID)
	})

	t.Run("causation id differs per call", func(t *testing.T) {
		ctx := observability.WithCorrelationID(context.Background(), "req-42")

		metadata1 := NewEventMetadata(ctx, "api")
		metadata2 := NewEventMetadata(ctx, "api")

		assert.Equal(t, metadata1.CorrelationID, metadata2.CorrelationID)
		assert.NotEqual(t, metadata1.CausationID, metadata2.CausationID)
	})
}

// testEvent is a concrete implementation of DomainEvent with metadata setter.
type testEvent struct {
	domain.BaseEvent
}

// nonSetterEvent is a domain event that doesn't implement SetMetadata.
type nonSetterEvent struct {
	eventID uuid.UUID
}

func (e nonSetterEvent) EventID() uuid.UUID             { return e.eventID }
func (e nonSetterEvent) AggregateID() string            { return "" }
func (e nonSetterEvent) AggregateType() string          { return "test" }
func (e nonSetterEvent) RoutingKey() string             { return "test.event" }
func (e nonSetterEvent) OccurredAt() time.Time          { return time.Time{} }
func (e nonSetterEvent) Metadata() domain.EventMetadata { return domain.EventMetadata{} }

func TestApplyEventMetadata(t *testing.T) {
	t.Run("applies metadata to events with setter", func(t *testing.T) {
		event := &testEvent{
			BaseEvent: domain.NewBaseEvent("doc-1", "test", "test.created"),
		}

		metadata := NewEventMetadata(context.Background(), "api")

		ApplyEventMetadata([]domain.DomainEvent{event}, metadata)

		assert.Equal(t, "api", event.Metadata().Source)
		assert.Equal(t, metadata.CorrelationID, event.Metadata().CorrelationID)
		assert.Equal(t, metadata.CausationID, event.Metadata().CausationID)
	})

	t.Run("applies metadata to multiple events", func(t *testing.T) {
		event1 := &testEvent{
			BaseEvent: domain.NewBaseEvent("doc-1", "test", "test.event1"),
		}
		event2 := &testEvent{
			BaseEvent: domain.NewBaseEvent("doc-2", "test", "test.event2"),
		}

		metadata := NewEventMetadata(context.Background(), "cli")

		ApplyEventMetadata([]domain.DomainEvent{event1, event2}, metadata)

		assert.Equal(t, metadata.CorrelationID, event1.Metadata().CorrelationID)
		assert.Equal(t, metadata.CorrelationID, event2.Metadata().CorrelationID)
	})

	t.Run("skips events without setter", func(t *testing.T) {
		event := nonSetterEvent{eventID: uuid.New()}

		require.NotPanics(t, func() {
			ApplyEventMetadata([]domain.DomainEvent{event}, NewEventMetadata(context.Background(), "api"))
		})
		assert.Equal(t, domain.EventMetadata{}, event.Metadata())
	})

	t.Run("handles nil event list", func(t *testing.T) {
		require.NotPanics(t, func() {
			ApplyEventMetadata(nil, NewEventMetadata(context.Background(), "api"))
		})
	})
}
