// Package events defines the normalized inbound event record and the bus
// event types exchanged between the intake, matcher and worker processes.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "loopkit.events"                  // Inbound customer events
const ProcessedTopic = "loopkit.events.processed" // Acks back to tracker connections
const JourneysTopic = "loopkit.journeys"        // Journey lifecycle / graph changes

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	CustomerEventReceivedType  EventType = "customer.event.received"
	CustomerEventProcessedType EventType = "customer.event.processed"

	JourneyActivatedType    EventType = "journey.activated"
	JourneyDeactivatedType  EventType = "journey.deactivated"
	JourneyGraphChangedType EventType = "journey.graph.changed"
)

// Source tags where an inbound event entered the system.
type Source string

const (
	SourceTracker           Source = "tracker"
	SourceProviderAnalytics Source = "provider-analytics"
	SourceMobile            Source = "mobile"
	SourceMessageDelivery   Source = "message-delivery"
	SourceAttributeChange   Source = "attribute-change"
)

// Element is one DOM element captured with an autocapture-style event,
// in document order.
type Element struct {
	TagName string `json:"tag_name"`
	Text    string `json:"text"`
}

// IngestedEvent is the normalized inbound record, already resolved to a
// customer identity by the intake layer.
type IngestedEvent struct {
	ID               string         `json:"id"`
	Source           Source         `json:"source"`
	Provider         string         `json:"provider,omitempty"`
	Channel          string         `json:"channel,omitempty"`
	Event            string         `json:"event"`
	Payload          map[string]any `json:"payload,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	Elements         []Element      `json:"elements,omitempty"`
	CorrelationKey   string         `json:"correlation_key"`
	CorrelationValue string         `json:"correlation_value"`
	CustomerID       string         `json:"customer_id"`
	WorkspaceID      string         `json:"workspace_id"`
	Timestamp        time.Time      `json:"timestamp"`

	// attribute-change events
	Attribute      string `json:"attribute,omitempty"`
	AttributeValue string `json:"attribute_value,omitempty"`

	// message-delivery events
	JourneyID string `json:"journey_id,omitempty"`
	StepID    string `json:"step_id,omitempty"`
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// CustomerEventReceived wraps an IngestedEvent for transport on the bus.
type CustomerEventReceived struct {
	BaseEvent

	Event IngestedEvent `json:"event"`
}

func (c CustomerEventReceived) GetType() EventType { return CustomerEventReceivedType }

// CustomerEventProcessed acknowledges a tracker-sourced event back to the
// real-time client connection so it does not retry sending.
type CustomerEventProcessed struct {
	BaseEvent

	CustomerID string `json:"customer_id"`
	EventID    string `json:"event_id"`
}

func (c CustomerEventProcessed) GetType() EventType { return CustomerEventProcessedType }

// JourneyActivated invalidates workspace-level journey caches.
type JourneyActivated struct {
	BaseEvent

	JourneyID   string `json:"journey_id"`
	WorkspaceID string `json:"workspace_id"`
}

func (j JourneyActivated) GetType() EventType { return JourneyActivatedType }

// JourneyDeactivated covers pause, stop and delete.
type JourneyDeactivated struct {
	BaseEvent

	JourneyID   string `json:"journey_id"`
	WorkspaceID string `json:"workspace_id"`
	Status      string `json:"status"`
}

func (j JourneyDeactivated) GetType() EventType { return JourneyDeactivatedType }

// JourneyGraphChanged invalidates the wait-step cache for a journey.
type JourneyGraphChanged struct {
	BaseEvent

	JourneyID   string `json:"journey_id"`
	WorkspaceID string `json:"workspace_id"`
}

func (j JourneyGraphChanged) GetType() EventType { return JourneyGraphChangedType }
