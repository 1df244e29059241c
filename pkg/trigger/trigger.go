// Package trigger synthesizes time-based advancement for delay and window
// steps: a periodic scan finds customers whose wait has elapsed and feeds
// them through the same lock-then-publish path the matcher uses.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/queue"
	"github.com/robfig/cron/v3"
)

const defaultSchedule = "@every 1m"

// Scheduler runs the minute scan. Locked rows are excluded from the scan and
// locking is what admits a row, so each satisfied customer is enqueued once
// per cycle even with multiple scheduler processes.
type Scheduler struct {
	repo      journeys.Repository
	locations location.Store
	producer  queue.Producer
	logger    *slog.Logger

	schedule string
	cron     *cron.Cron
	now      func() time.Time
}

func NewScheduler(repo journeys.Repository, locations location.Store, producer queue.Producer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		locations: locations,
		producer:  producer,
		logger:    logger.With("module", "time_trigger"),
		schedule:  defaultSchedule,
		now:       time.Now,
	}
}

// WithSchedule overrides the scan cadence.
func (s *Scheduler) WithSchedule(expr string) *Scheduler {
	s.schedule = expr

	return s
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting time trigger", "schedule", s.schedule)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Scan(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Scan failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.logger.Info("Time trigger stopped")
	}
}

// Scan walks every active journey's time steps and fires the customers whose
// wait is over.
func (s *Scheduler) Scan(ctx context.Context) error {
	journeyList, err := s.repo.AllActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active journeys: %w", err)
	}

	for _, journey := range journeyList {
		if err := s.scanJourney(ctx, journey); err != nil {
			s.logger.ErrorContext(ctx, "Failed to scan journey", "journey_id", journey.ID, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) scanJourney(ctx context.Context, journey *models.Journey) error {
	timeSteps := make(map[string]*models.Step)
	stepIDs := make([]string, 0)

	for _, step := range journey.Steps {
		if step.Type != models.StepTypeTimeDelay && step.Type != models.StepTypeTimeWindow {
			continue
		}

		if step.Metadata.Destination == "" {
			continue
		}

		timeSteps[step.ID] = step
		stepIDs = append(stepIDs, step.ID)
	}

	if len(stepIDs) == 0 {
		return nil
	}

	locations, err := s.locations.AtSteps(ctx, journey.ID, stepIDs)
	if err != nil {
		return fmt.Errorf("failed to load locations at time steps: %w", err)
	}

	now := s.now().UTC()

	for _, loc := range locations {
		step := timeSteps[loc.StepID]

		if !Satisfied(step, loc, now) {
			continue
		}

		if err := s.fire(ctx, journey, step, loc); err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire time step",
				"journey_id", journey.ID, "customer_id", loc.CustomerID, "step_id", step.ID, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) fire(ctx context.Context, journey *models.Journey, step *models.Step, loc *models.Location) error {
	destination := journey.StepByID(step.Metadata.Destination)
	if destination == nil {
		return fmt.Errorf("step %s destination %s not found", step.ID, step.Metadata.Destination)
	}

	target, err := queue.QueueForStep(destination.Type)
	if err != nil {
		return fmt.Errorf("failed to resolve queue for step %s: %w", destination.ID, err)
	}

	session := uuid.NewString()

	if err := s.locations.Lock(ctx, loc, session); err != nil {
		// Another process owns this transition; it will be scanned again
		// next cycle if it ends up parked here.
		if errors.Is(err, location.ErrCustomerStillMoving) || errors.Is(err, location.ErrNotEnrolled) {
			return nil
		}

		return fmt.Errorf("failed to lock location: %w", err)
	}

	job := models.AdvanceJob{
		JourneyID:   journey.ID,
		CustomerID:  loc.CustomerID,
		WorkspaceID: loc.WorkspaceID,
		SessionID:   session,
		StepID:      step.ID,
		Destination: destination.ID,
		StepDepth:   depthOf(journey, destination.ID),
	}

	if _, err := s.producer.Add(ctx, target, job, "advance"); err != nil {
		if unlockErr := s.locations.Unlock(ctx, loc, ""); unlockErr != nil {
			s.logger.ErrorContext(ctx, "Failed to unlock after publish failure",
				"journey_id", journey.ID, "customer_id", loc.CustomerID, "error", unlockErr)
		}

		return fmt.Errorf("failed to publish advance job: %w", err)
	}

	s.logger.InfoContext(ctx, "Time step fired",
		"journey_id", journey.ID, "customer_id", loc.CustomerID,
		"step_id", step.ID, "destination", destination.ID)

	return nil
}

// Satisfied reports whether a customer parked at a time step may pass now.
func Satisfied(step *models.Step, loc *models.Location, now time.Time) bool {
	switch step.Type {
	case models.StepTypeTimeDelay:
		return delayElapsed(step.Metadata.DelaySeconds, loc.StepEntryAt, now)
	case models.StepTypeTimeWindow:
		return WindowOpen(step.Metadata.Window, now)
	default:
		return false
	}
}

func delayElapsed(delaySeconds int64, stepEntryAt, now time.Time) bool {
	return !now.Before(stepEntryAt.Add(time.Duration(delaySeconds) * time.Second))
}

// WindowOpen checks a time window's constraints against now. Absolute range
// and recurring weekly range both apply when both are declared; a window with
// no constraints is always open.
func WindowOpen(window *models.TimeWindow, now time.Time) bool {
	if window == nil {
		return true
	}

	if window.From != nil {
		from, err := time.Parse(time.RFC3339, *window.From)
		if err != nil || now.Before(from) {
			return false
		}
	}

	if window.To != nil {
		to, err := time.Parse(time.RFC3339, *window.To)
		if err != nil || now.After(to) {
			return false
		}
	}

	if len(window.OnDays) > 0 && !containsDay(window.OnDays, int(now.Weekday())) {
		return false
	}

	if window.FromTime != "" && window.ToTime != "" {
		return timeOfDayWithin(window.FromTime, window.ToTime, now)
	}

	return true
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}

	return false
}

// timeOfDayWithin checks "HH:MM" bounds; a start after the end means the
// range spans midnight.
func timeOfDayWithin(fromTime, toTime string, now time.Time) bool {
	from, err := minutesOfDay(fromTime)
	if err != nil {
		return false
	}

	to, err := minutesOfDay(toTime)
	if err != nil {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()

	if from <= to {
		return minutes >= from && minutes < to
	}

	return minutes >= from || minutes < to
}

func minutesOfDay(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}

	return parsed.Hour()*60 + parsed.Minute(), nil
}

func depthOf(journey *models.Journey, stepID string) int {
	for i, step := range journey.Steps {
		if step.ID == stepID {
			return i + 1
		}
	}

	return 1
}
