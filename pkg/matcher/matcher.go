package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/loopkit/loopkit/pkg/eventbus"
	"github.com/loopkit/loopkit/pkg/events"
	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/otelhelper"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Matcher consumes inbound events and decides, per journey a customer
// occupies, whether their current step is satisfied. On a match it publishes
// an advance job and keeps the location lock; the worker consuming the job
// releases it.
type Matcher struct {
	journeys  *journeys.Service
	locations location.Store
	producer  queue.Producer
	acker     protocol.ProcessedAcker
	sink      protocol.AnalyticsSink
	logger    *slog.Logger
	tracer    trace.Tracer
}

func New(
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	acker protocol.ProcessedAcker,
	sink protocol.AnalyticsSink,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Matcher {
	return &Matcher{
		journeys:  journeyService,
		locations: locations,
		producer:  producer,
		acker:     acker,
		sink:      sink,
		logger:    logger.With("module", "matcher"),
		tracer:    tracer,
	}
}

// RegisterIngestion subscribes the matcher to the inbound event topic. The
// handler only enqueues; evaluation happens on the events queue so its retry
// policy owns transient failures.
func (m *Matcher) RegisterIngestion(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.CustomerEventReceivedType, func(ctx context.Context, event any) error {
		received, ok := event.(*events.CustomerEventReceived)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		_, err := m.producer.Add(ctx, queue.QueueEvents, received.Event, string(events.CustomerEventReceivedType))

		return err
	})
}

// Process implements the events-queue handler. A still-moving customer
// surfaces as an error so the queue's retry policy re-runs the whole
// evaluation.
func (m *Matcher) Process(ctx context.Context, job *queue.Envelope) error {
	var event events.IngestedEvent

	if err := job.Decode(&event); err != nil {
		return fmt.Errorf("failed to decode inbound event: %w", err)
	}

	return m.ProcessEvent(ctx, &event)
}

// OnComplete acknowledges tracker-sourced events back to the client
// connection once the whole evaluation settled.
func (m *Matcher) OnComplete(ctx context.Context, job *queue.Envelope) error {
	var event events.IngestedEvent

	if err := job.Decode(&event); err != nil {
		return err
	}

	if event.Source != events.SourceTracker {
		return nil
	}

	return m.acker.AckProcessed(ctx, event.CustomerID, event.ID)
}

// ProcessEvent evaluates one inbound event against every evaluable journey
// of the event's workspace.
func (m *Matcher) ProcessEvent(ctx context.Context, event *events.IngestedEvent) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "matcher.process_event",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.CustomerIDKey, event.CustomerID),
	)
	defer span.End()

	m.record(ctx, event)

	journeyList, err := m.journeys.ActiveJourneys(ctx, event.WorkspaceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load active journeys: %w", err)
	}

	workspace := models.WorkspaceContext{WorkspaceID: event.WorkspaceID}

	for _, journey := range journeyList {
		if !journey.Evaluable() {
			continue
		}

		if err := m.evaluateJourney(ctx, journey, event, workspace); err != nil {
			otelhelper.SetError(span, err)

			return err
		}
	}

	return nil
}

func (m *Matcher) evaluateJourney(ctx context.Context, journey *models.Journey, event *events.IngestedEvent, workspace models.WorkspaceContext) error {
	loc, err := m.locations.FindForWrite(ctx, journey.ID, event.CustomerID, workspace)
	if err != nil {
		return fmt.Errorf("failed to find location: %w", err)
	}

	if loc == nil {
		return nil
	}

	session := uuid.NewString()

	if err := m.locations.Lock(ctx, loc, session); err != nil {
		if errors.Is(err, location.ErrNotEnrolled) {
			return nil
		}

		return fmt.Errorf("failed to lock location for journey %s: %w", journey.ID, err)
	}

	matched := m.matchCurrentStep(journey, loc, event)
	if matched == nil {
		if err := m.locations.Unlock(ctx, loc, ""); err != nil {
			return fmt.Errorf("failed to unlock after no match: %w", err)
		}

		return nil
	}

	destination := journey.StepByID(matched.Destination)
	if destination == nil {
		m.logger.WarnContext(ctx, "Matched branch points at missing step",
			"journey_id", journey.ID, "step_id", loc.StepID, "destination", matched.Destination)

		return m.locations.Unlock(ctx, loc, "")
	}

	job := models.AdvanceJob{
		JourneyID:   journey.ID,
		CustomerID:  loc.CustomerID,
		WorkspaceID: workspace.WorkspaceID,
		SessionID:   session,
		StepID:      loc.StepID,
		Destination: matched.Destination,
		StepDepth:   stepDepth(journey, matched.Destination),
		EventID:     event.ID,
		Event:       event,
	}

	target, err := queue.QueueForStep(destination.Type)
	if err != nil {
		if unlockErr := m.locations.Unlock(ctx, loc, ""); unlockErr != nil {
			m.logger.ErrorContext(ctx, "Failed to unlock after queue resolution failure",
				"journey_id", journey.ID, "customer_id", loc.CustomerID, "error", unlockErr)
		}

		return fmt.Errorf("failed to resolve queue for step %s: %w", destination.ID, err)
	}

	if _, err := m.producer.Add(ctx, target, job, "advance"); err != nil {
		if unlockErr := m.locations.Unlock(ctx, loc, ""); unlockErr != nil {
			m.logger.ErrorContext(ctx, "Failed to unlock after publish failure",
				"journey_id", journey.ID, "customer_id", loc.CustomerID, "error", unlockErr)
		}

		return fmt.Errorf("failed to publish advance job: %w", err)
	}

	m.logger.InfoContext(ctx, "Advance job published",
		"journey_id", journey.ID,
		"customer_id", loc.CustomerID,
		"step_id", loc.StepID,
		"destination", matched.Destination)

	return nil
}

// matchCurrentStep finds the matched branch of the customer's current step.
// Other steps of the journey may also match the event; they are ignored. A
// customer only advances from where they currently stand.
func (m *Matcher) matchCurrentStep(journey *models.Journey, loc *models.Location, event *events.IngestedEvent) *models.Branch {
	for _, step := range m.journeys.WaitRelevantSteps(journey) {
		if step.ID != loc.StepID {
			continue
		}

		for _, branch := range step.Metadata.Branches {
			if BranchMatches(branch, event) {
				return branch
			}
		}
	}

	return nil
}

// record fires the audit write without holding up evaluation.
func (m *Matcher) record(ctx context.Context, event *events.IngestedEvent) {
	record := protocol.AnalyticsRecord{
		Kind:        string(event.Source),
		WorkspaceID: event.WorkspaceID,
		CustomerID:  event.CustomerID,
		JourneyID:   event.JourneyID,
		StepID:      event.StepID,
		EventID:     event.ID,
		Fields: map[string]any{
			"event":    event.Event,
			"provider": event.Provider,
		},
	}

	if err := m.sink.Record(ctx, record); err != nil {
		m.logger.WarnContext(ctx, "Failed to record analytics event", "event_id", event.ID, "error", err)
	}
}

// stepDepth approximates how far into the journey the customer stands, for
// priority banding. Steps are stored in creation order; depth 1 is the entry
// step.
func stepDepth(journey *models.Journey, stepID string) int {
	for i, step := range journey.Steps {
		if step.ID == stepID {
			return i + 1
		}
	}

	return 1
}
