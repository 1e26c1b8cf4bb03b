package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlewis7127/licenceledger/internal/shared/domain"
	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/eventbus"
)

// Message is one queued event. A row is pending until it is either
// published or dead-lettered; NextRetryAt holds it back after a failure.
type Message struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	RoutingKey    string
	Payload       json.RawMessage
	Metadata      json.RawMessage
	CreatedAt     time.Time

	PublishedAt *time.Time
	NextRetryAt *time.Time
	RetryCount  int
	LastError   *string

	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage queues event under its routing key.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	msg := &Message{
		EventID:       event.EventID(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		EventType:     event.RoutingKey(),
		RoutingKey:    event.RoutingKey(),
		CreatedAt:     event.OccurredAt(),
	}
	var err error
	if msg.Payload, err = json.Marshal(event); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.RoutingKey, err)
	}
	if msg.Metadata, err = json.Marshal(event.Metadata()); err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", msg.RoutingKey, err)
	}
	return msg, nil
}

// NewMessages converts events in order, stopping at the first that fails.
func NewMessages(events []domain.DomainEvent) ([]*Message, error) {
	msgs := make([]*Message, len(events))
	for i, event := range events {
		var err error
		if msgs[i], err = NewMessage(event); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// Pending reports whether the message still awaits delivery.
func (m *Message) Pending() bool {
	return m.PublishedAt == nil && m.DeadLetteredAt == nil
}

// FinalAttempt reports whether one more failure uses up maxRetries. With a
// non-positive maxRetries every failure is final.
func (m *Message) FinalAttempt(maxRetries int) bool {
	return m.RetryCount+1 >= maxRetries
}

// Envelope encodes the message in the wire shape consumers decode.
func (m *Message) Envelope() ([]byte, error) {
	env, err := m.envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (m *Message) envelope() (*eventbus.Envelope, error) {
	var metadata domain.EventMetadata
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("outbox message %d metadata: %w", m.ID, err)
		}
	}
	env := eventbus.NewEnvelope(m.AggregateType, m.AggregateID, m.RoutingKey, m.Payload, eventbus.EnvelopeMetadata{
		CorrelationID: metadata.CorrelationID,
		Source:        metadata.Source,
	})
	env.EventID = m.EventID
	env.OccurredAt = m.CreatedAt
	if metadata.CausationID != uuid.Nil {
		env.Metadata.CausationID = metadata.CausationID.String()
	}
	return env, nil
}
