package domain

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent represents something that happened in the domain.
type DomainEvent interface {
	EventID() uuid.UUID
	AggregateID() string
	AggregateType() string
	RoutingKey() string
	OccurredAt() time.Time
	Metadata() EventMetadata
}

// EventMetadata carries tracing information for an event.
type EventMetadata struct {
	CorrelationID string    `json:"correlation_id"`
	CausationID   uuid.UUID `json:"causation_id"`
	// Source names the surface that issued the command, e.g. "api" or "cli".
	Source string `json:"source,omitempty"`
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	eventID       uuid.UUID
	aggregateID   string
	aggregateType string
	routingKey    string
	occurredAt    time.Time
	metadata      EventMetadata
}

// NewBaseEvent creates a new base event. aggregateID is the store-assigned
// identifier of the aggregate the event belongs to.
func NewBaseEvent(aggregateID, aggregateType, routingKey string) BaseEvent {
	return BaseEvent{
		eventID:       uuid.New(),
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		routingKey:    routingKey,
		occurredAt:    time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID      { return e.eventID }
func (e BaseEvent) AggregateID() string     { return e.aggregateID }
func (e BaseEvent) AggregateType() string   { return e.aggregateType }
func (e BaseEvent) RoutingKey() string      { return e.routingKey }
func (e BaseEvent) OccurredAt() time.Time   { return e.occurredAt }
func (e BaseEvent) Metadata() EventMetadata { return e.metadata }

// SetMetadata sets the event metadata.
func (e *BaseEvent) SetMetadata(metadata EventMetadata) {
	e.metadata = metadata
}

// EventRecorder buffers the events an aggregate raised until they are
// written to the outbox.
type EventRecorder struct {
	events []DomainEvent
}

// Record appends an event.
func (r *EventRecorder) Record(event DomainEvent) {
	r.events = append(r.events, event)
}

// DomainEvents returns the recorded events.
func (r *EventRecorder) DomainEvents() []DomainEvent {
	return r.events
}

// ClearDomainEvents drops the recorded events.
func (r *EventRecorder) ClearDomainEvents() {
	r.events = nil
}
