package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
)

// MessageHandler performs a message step: it publishes a send job unless the
// journey's quiet hours or max-message-sends setting suppress it, then moves
// the customer on. Suppression skips the send, not the transition.
type MessageHandler struct {
	deps

	now func() time.Time
}

func NewMessageHandler(
	journeyService *journeys.Service,
	locations location.Store,
	producer queue.Producer,
	sink protocol.AnalyticsSink,
	logger *slog.Logger,
) *MessageHandler {
	return &MessageHandler{
		deps: deps{
			journeys:  journeyService,
			locations: locations,
			producer:  producer,
			sink:      sink,
			logger:    logger.With("module", "message_handler"),
		},
		now: time.Now,
	}
}

func (h *MessageHandler) Process(ctx context.Context, envelope *queue.Envelope) error {
	a, err := h.load(ctx, envelope)
	if err != nil || a == nil {
		return err
	}

	if reason := h.suppressed(a); reason != "" {
		h.recordSuppression(ctx, a, reason)

		return h.advance(ctx, a, a.step.Metadata.Destination)
	}

	send := models.SendJob{
		JourneyID:   a.job.JourneyID,
		StepID:      a.step.ID,
		CustomerID:  a.job.CustomerID,
		WorkspaceID: a.job.WorkspaceID,
		Channel:     a.step.Metadata.Channel,
		TemplateID:  a.step.Metadata.TemplateID,
		StepDepth:   a.job.StepDepth,
	}

	if _, err := h.producer.Add(ctx, queue.QueueMessageSend, send, "send"); err != nil {
		return fmt.Errorf("failed to publish send job: %w", err)
	}

	if err := h.locations.TouchLastMessage(ctx, a.loc); err != nil {
		return fmt.Errorf("failed to record message send: %w", err)
	}

	return h.advance(ctx, a, a.step.Metadata.Destination)
}

func (h *MessageHandler) OnComplete(ctx context.Context, envelope *queue.Envelope) error {
	return nil
}

func (h *MessageHandler) suppressed(a *arrival) string {
	settings := a.journey.Settings

	if settings.MaxMessageSends > 0 && a.loc.MessagesSent >= settings.MaxMessageSends {
		return "max_message_sends"
	}

	if inQuietHours(settings.QuietHours, h.now().UTC()) {
		return "quiet_hours"
	}

	return ""
}

// inQuietHours checks the daily suppression window; a start hour after the
// end hour means the window spans midnight.
func inQuietHours(quiet *models.QuietHours, now time.Time) bool {
	if quiet == nil || quiet.StartHour == quiet.EndHour {
		return false
	}

	hour := now.Hour()

	if quiet.StartHour < quiet.EndHour {
		return hour >= quiet.StartHour && hour < quiet.EndHour
	}

	return hour >= quiet.StartHour || hour < quiet.EndHour
}

func (h *MessageHandler) recordSuppression(ctx context.Context, a *arrival, reason string) {
	record := protocol.AnalyticsRecord{
		Kind:        "message.suppressed",
		WorkspaceID: a.job.WorkspaceID,
		CustomerID:  a.job.CustomerID,
		JourneyID:   a.job.JourneyID,
		StepID:      a.step.ID,
		Fields:      map[string]any{"reason": reason},
	}

	if err := h.sink.Record(ctx, record); err != nil {
		h.logger.WarnContext(ctx, "Failed to record suppression",
			"journey_id", a.job.JourneyID, "customer_id", a.job.CustomerID, "error", err)
	}
}

// SendHandler delivers one send job through the provider adapter. Its queue
// never retries: a duplicate send is worse than a dropped one, so a failure
// here is terminal for the job.
type SendHandler struct {
	adapter protocol.SendAdapter
	sink    protocol.AnalyticsSink
	logger  *slog.Logger
}

func NewSendHandler(adapter protocol.SendAdapter, sink protocol.AnalyticsSink, logger *slog.Logger) *SendHandler {
	return &SendHandler{
		adapter: adapter,
		sink:    sink,
		logger:  logger.With("module", "send_handler"),
	}
}

func (h *SendHandler) Process(ctx context.Context, envelope *queue.Envelope) error {
	var job models.SendJob

	if err := envelope.Decode(&job); err != nil {
		return fmt.Errorf("failed to decode send job: %w", err)
	}

	if err := h.adapter.Send(ctx, job.Channel, job.TemplateID, job.CustomerID); err != nil {
		return fmt.Errorf("failed to send %s message: %w", job.Channel, err)
	}

	return nil
}

func (h *SendHandler) OnComplete(ctx context.Context, envelope *queue.Envelope) error {
	var job models.SendJob

	if err := envelope.Decode(&job); err != nil {
		return err
	}

	record := protocol.AnalyticsRecord{
		Kind:        "message.sent",
		WorkspaceID: job.WorkspaceID,
		CustomerID:  job.CustomerID,
		JourneyID:   job.JourneyID,
		StepID:      job.StepID,
		Fields: map[string]any{
			"channel":     job.Channel,
			"template_id": job.TemplateID,
		},
	}

	if err := h.sink.Record(ctx, record); err != nil {
		h.logger.WarnContext(ctx, "Failed to record sent message",
			"journey_id", job.JourneyID, "customer_id", job.CustomerID, "error", err)
	}

	return nil
}
