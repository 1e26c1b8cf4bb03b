package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlewis7127/licenceledger/pkg/observability"
)

// ErrMalformedEnvelope is returned for message bodies that are not an
// envelope. Such messages can never be delivered and are dropped.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope is the wire shape of every published event: the event payload
// wrapped with its identity and metadata.
type Envelope struct {
	EventID       uuid.UUID        `json:"event_id"`
	AggregateID   string           `json:"aggregate_id"`
	AggregateType string           `json:"aggregate_type"`
	RoutingKey    string           `json:"routing_key"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Payload       json.RawMessage  `json:"payload"`
	Metadata      EnvelopeMetadata `json:"metadata,omitempty"`
}

// EnvelopeMetadata traces an event back to the request that caused it.
type EnvelopeMetadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// NewEnvelope wraps payload for routingKey.
func NewEnvelope(aggregateType, aggregateID, routingKey string, payload json.RawMessage, metadata EnvelopeMetadata) *Envelope {
	return &Envelope{
		EventID:       uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		RoutingKey:    routingKey,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
		Metadata:      metadata,
	}
}

// DecodeEnvelope parses a message body. The transport routing key is used
// when the body does not carry one.
func DecodeEnvelope(routingKey string, body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.RoutingKey == "" {
		env.RoutingKey = routingKey
	}
	if env.RoutingKey == "" {
		return nil, fmt.Errorf("%w: no routing key", ErrMalformedEnvelope)
	}
	return &env, nil
}

// DecodePayload unmarshals the event payload into v.
func (e *Envelope) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Context returns ctx carrying the envelope's correlation id, so subscriber
// logs join up with the request that produced the event.
func (e *Envelope) Context(ctx context.Context) context.Context {
	if e.Metadata.CorrelationID == "" {
		return ctx
	}
	return observability.WithCorrelationID(ctx, e.Metadata.CorrelationID)
}

// Subscriber handles the events published under a set of routing keys.
type Subscriber interface {
	// RoutingKeys returns the keys this subscriber handles,
	// e.g. ["licensing.licence.created"].
	RoutingKeys() []string

	Handle(ctx context.Context, env *Envelope) error
}
