// Package protocol defines the interfaces between the orchestrator, step
// handlers and external collaborators.
package protocol

import (
	"context"

	"github.com/loopkit/loopkit/pkg/queue"
)

// Handler processes one queue's jobs. Implementations must be idempotent
// with respect to being invoked twice for the same logical transition; the
// location lock is what makes duplicate side effects avoidable, not the
// queue.
type Handler interface {
	// Process executes the job. Returned errors are classified by the
	// orchestrator's per-queue retry policy.
	Process(ctx context.Context, job *queue.Envelope) error

	// OnComplete runs after a successful Process, before the ack.
	OnComplete(ctx context.Context, job *queue.Envelope) error
}

// HandlerFunc adapts a function to Handler with a no-op OnComplete.
type HandlerFunc func(ctx context.Context, job *queue.Envelope) error

func (f HandlerFunc) Process(ctx context.Context, job *queue.Envelope) error { return f(ctx, job) }

func (f HandlerFunc) OnComplete(ctx context.Context, job *queue.Envelope) error { return nil }

// SendAdapter is the provider-specific delivery contract. A send failure is
// terminal for its job.
type SendAdapter interface {
	Send(ctx context.Context, channel, templateID, customerID string) error
}

// AnalyticsRecord is one audit row durably recorded for every inbound event
// and message-delivery callback.
type AnalyticsRecord struct {
	Kind        string         `json:"kind"`
	WorkspaceID string         `json:"workspace_id"`
	CustomerID  string         `json:"customer_id"`
	JourneyID   string         `json:"journey_id,omitempty"`
	StepID      string         `json:"step_id,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// AnalyticsSink records audit rows. Callers fire the write and move on; they
// must not block on sink durability.
type AnalyticsSink interface {
	Record(ctx context.Context, record AnalyticsRecord) error
}

// ProcessedAcker acknowledges a tracker-sourced event back to the real-time
// client connection.
type ProcessedAcker interface {
	AckProcessed(ctx context.Context, customerID, eventID string) error
}
