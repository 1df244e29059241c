package eventbus

import (
	"context"

	"github.com/loopkit/loopkit/pkg/events"
)

// ProcessedAcker publishes processed-acks back to the topic the tracker
// connections listen on.
type ProcessedAcker struct {
	bus EventPublisher
}

func NewProcessedAcker(bus EventPublisher) *ProcessedAcker {
	return &ProcessedAcker{bus: bus}
}

func (a *ProcessedAcker) AckProcessed(ctx context.Context, customerID, eventID string) error {
	event := events.CustomerEventProcessed{
		BaseEvent:  events.NewBaseEvent(events.CustomerEventProcessedType),
		CustomerID: customerID,
		EventID:    eventID,
	}

	return a.bus.Publish(ctx, events.ProcessedTopic, customerID, event)
}
