// Package handlers implements the per-step-type consumers of advance jobs.
// Each handler performs the action of the step a customer is arriving at,
// then either parks the customer there (releasing the location lock) or
// chains a follow-up job for the next step while keeping the lock held.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
)

type deps struct {
	journeys  *journeys.Service
	locations location.Store
	producer  queue.Producer
	sink      protocol.AnalyticsSink
	logger    *slog.Logger
}

// arrival is one decoded advance job with its journey, location and the step
// being arrived at resolved.
type arrival struct {
	job     models.AdvanceJob
	journey *models.Journey
	loc     *models.Location
	step    *models.Step
}

// load resolves an envelope into an arrival. A nil arrival with nil error
// means the job is stale and must be dropped: the customer was un-enrolled
// mid-flight, the step is gone, or the lock was reclaimed by someone else
// after the move timeout. Dropping instead of acting is what keeps redelivered
// jobs from advancing a customer twice.
func (d *deps) load(ctx context.Context, envelope *queue.Envelope) (*arrival, error) {
	var job models.AdvanceJob

	if err := envelope.Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode advance job: %w", err)
	}

	journey, err := d.journeys.Journey(ctx, job.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey %s: %w", job.JourneyID, err)
	}

	loc, err := d.locations.FindForWrite(ctx, job.JourneyID, job.CustomerID,
		models.WorkspaceContext{WorkspaceID: job.WorkspaceID})
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}

	if loc == nil {
		d.logger.InfoContext(ctx, "Dropping advance job for un-enrolled customer",
			"journey_id", job.JourneyID, "customer_id", job.CustomerID)

		return nil, nil
	}

	if !loc.Moving() || loc.MoveSession != job.SessionID {
		d.logger.WarnContext(ctx, "Dropping advance job with stale lock session",
			"journey_id", job.JourneyID, "customer_id", job.CustomerID, "session", job.SessionID)

		return nil, nil
	}

	step := journey.StepByID(job.Destination)
	if step == nil {
		d.logger.WarnContext(ctx, "Advance job points at missing step",
			"journey_id", job.JourneyID, "destination", job.Destination)

		return nil, d.locations.Unlock(ctx, loc, "")
	}

	return &arrival{job: job, journey: journey, loc: loc, step: step}, nil
}

// park settles the customer at the arrived step and releases the lock. Used
// by wait-type steps and by any immediate step with no outgoing destination;
// the kept row at a terminal step is how completion is represented.
func (d *deps) park(ctx context.Context, a *arrival) error {
	if err := d.locations.Unlock(ctx, a.loc, a.step.ID); err != nil {
		return fmt.Errorf("failed to unlock at step %s: %w", a.step.ID, err)
	}

	d.recordTransition(ctx, a)

	return nil
}

// advance chains the transition to the next step, keeping the lock held so
// the whole multi-hop move stays a single MOVING window.
func (d *deps) advance(ctx context.Context, a *arrival, next string) error {
	if next == "" {
		return d.park(ctx, a)
	}

	nextStep := a.journey.StepByID(next)
	if nextStep == nil {
		d.logger.WarnContext(ctx, "Step destination missing, parking customer",
			"journey_id", a.journey.ID, "step_id", a.step.ID, "destination", next)

		return d.park(ctx, a)
	}

	target, err := queue.QueueForStep(nextStep.Type)
	if err != nil {
		return fmt.Errorf("failed to resolve queue for step %s: %w", nextStep.ID, err)
	}

	job := models.AdvanceJob{
		JourneyID:   a.job.JourneyID,
		CustomerID:  a.job.CustomerID,
		WorkspaceID: a.job.WorkspaceID,
		SessionID:   a.job.SessionID,
		StepID:      a.step.ID,
		Destination: next,
		StepDepth:   a.job.StepDepth + 1,
		EventID:     a.job.EventID,
		Event:       a.job.Event,
	}

	if _, err := d.producer.Add(ctx, target, job, "advance"); err != nil {
		return fmt.Errorf("failed to chain advance job: %w", err)
	}

	d.recordTransition(ctx, a)

	return nil
}

func (d *deps) recordTransition(ctx context.Context, a *arrival) {
	record := protocol.AnalyticsRecord{
		Kind:        "transition",
		WorkspaceID: a.job.WorkspaceID,
		CustomerID:  a.job.CustomerID,
		JourneyID:   a.job.JourneyID,
		StepID:      a.step.ID,
		EventID:     a.job.EventID,
		Fields: map[string]any{
			"step_type": string(a.step.Type),
			"from_step": a.job.StepID,
		},
	}

	if err := d.sink.Record(ctx, record); err != nil {
		d.logger.WarnContext(ctx, "Failed to record transition",
			"journey_id", a.job.JourneyID, "customer_id", a.job.CustomerID, "error", err)
	}
}
