package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mlewis7127/licenceledger/internal/shared/domain"
)

func TestNewBaseEvent(t *testing.T) {
	before := time.Now().UTC()

	event := domain.NewBaseEvent("doc-123", "Licence", "licensing.licence.created")

	after := time.Now().UTC()

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, "doc-123", event.AggregateID())
	assert.Equal(t, "Licence", event.AggregateType())
	assert.Equal(t, "licensing.licence.created", event.RoutingKey())
	assert.False(t, event.OccurredAt().Before(before))
	assert.False(t, event.OccurredAt().After(after))
}

func TestBaseEvent_WithMetadata(t *testing.T) {
	correlationID := "req-123"
	causationID := uuid.New()

	event := domain.NewBaseEvent("doc-123", "Licence", "licensing.licence.created")
	event.SetMetadata(domain.EventMetadata{
		CorrelationID: correlationID,
		CausationID:   causationID,
		Source:        "api",
	})

	metadata := event.Metadata()
	assert.Equal(t, correlationID, metadata.CorrelationID)
	assert.Equal(t, causationID, metadata.CausationID)
	assert.Equal(t, "api", metadata.Source)
}

func TestEventRecorder(t *testing.T) {
	var recorder domain.EventRecorder
	assert.Empty(t, recorder.DomainEvents())

	first := domain.NewBaseEvent("a", "Licence", "licensing.licence.created")
	second := domain.NewBaseEvent("b", "Licence", "licensing.licence.created")
	recorder.Record(first)
	recorder.Record(second)

	events := recorder.DomainEvents()
	assert.Len(t, events, 2)
	assert.Equal(t, "a", events[0].AggregateID())

	recorder.ClearDomainEvents()
	assert.Empty(t, recorder.DomainEvents())
}
