package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/mlewis7127/licenceledger/internal/shared/domain"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

type metadataSetter interface {
	SetMetadata(metadata domain.EventMetadata)
}

// NewEventMetadata creates command-scoped metadata for domain events. The
// correlation id is taken from ctx so events can be traced back to the
// request or CLI invocation that caused them; a fresh one is minted when
// ctx carries none. Every call gets its own causation id.
func NewEventMetadata(ctx context.Context, source string) domain.EventMetadata {
	correlationID := observability.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return domain.EventMetadata{
		CorrelationID: correlationID,
		CausationID:   uuid.New(),
		Source:        source,
	}
}

// ApplyEventMetadata sets metadata on all events that support it.
func ApplyEventMetadata(events []domain.DomainEvent, metadata domain.EventMetadata) {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
}
