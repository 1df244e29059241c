package journeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/loopkit/loopkit/pkg/eventbus"
	"github.com/loopkit/loopkit/pkg/events"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
)

// ErrNotDraft indicates an activation attempt on a journey that already left
// draft; only draft journeys may have their step graph edited or validated.
var ErrNotDraft = errors.New("journey is not a draft")

// ErrMaxEntriesReached indicates the journey's max-entries setting blocks
// further enrollment.
var ErrMaxEntriesReached = errors.New("journey max entries reached")

// Service fronts the repository with the read-mostly caches and owns
// activation and enrollment.
type Service struct {
	repo      Repository
	locations location.Store
	bus       eventbus.EventPublisher
	validate  *validator.Validate
	logger    *slog.Logger

	active    *workspaceCache
	waitSteps *waitStepCache
}

func NewService(repo Repository, locations location.Store, bus eventbus.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		locations: locations,
		bus:       bus,
		validate:  validator.New(),
		logger:    logger.With("module", "journeys_service"),
		active:    newWorkspaceCache(),
		waitSteps: newWaitStepCache(),
	}
}

// ActiveJourneys returns the evaluable journeys of a workspace, cached until
// an activation-state change invalidates the workspace.
func (s *Service) ActiveJourneys(ctx context.Context, workspaceID string) ([]*models.Journey, error) {
	if journeys, ok := s.active.get(workspaceID); ok {
		return journeys, nil
	}

	journeys, err := s.repo.ActiveByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	s.active.set(workspaceID, journeys)

	return journeys, nil
}

// Journey loads one journey with its steps.
func (s *Service) Journey(ctx context.Context, journeyID string) (*models.Journey, error) {
	return s.repo.ByID(ctx, journeyID)
}

// WaitRelevantSteps returns the journey's wait-until steps that declare at
// least one branch, cached until the journey's graph changes.
func (s *Service) WaitRelevantSteps(journey *models.Journey) []*models.Step {
	if steps, ok := s.waitSteps.get(journey.ID); ok {
		return steps
	}

	steps := journey.WaitSteps()
	s.waitSteps.set(journey.ID, steps)

	return steps
}

// Activate validates the journey (struct fields, step metadata shapes,
// acyclic graph — checked once here, never per event) and transitions it
// draft -> active.
func (s *Service) Activate(ctx context.Context, journeyID string) error {
	journey, err := s.repo.ByID(ctx, journeyID)
	if err != nil {
		return err
	}

	if journey.Status != models.JourneyStatusDraft {
		return fmt.Errorf("%w: %s is %s", ErrNotDraft, journeyID, journey.Status)
	}

	if err := s.validate.Struct(journey); err != nil {
		return fmt.Errorf("journey %s failed validation: %w", journeyID, err)
	}

	if err := journey.ValidateForActivation(); err != nil {
		return fmt.Errorf("journey %s failed activation checks: %w", journeyID, err)
	}

	if err := s.repo.UpdateStatus(ctx, journeyID, models.JourneyStatusActive); err != nil {
		return err
	}

	s.active.invalidate(journey.WorkspaceID)
	s.waitSteps.invalidate(journeyID)

	event := events.JourneyActivated{
		BaseEvent:   events.NewBaseEvent(events.JourneyActivatedType),
		JourneyID:   journeyID,
		WorkspaceID: journey.WorkspaceID,
	}

	if err := s.bus.Publish(ctx, events.JourneysTopic, journey.WorkspaceID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish activation event", "journey_id", journeyID, "error", err)
	}

	return nil
}

// Deactivate moves an active journey to paused or stopped. Only new
// evaluations stop; already-locked transitions complete on their own.
func (s *Service) Deactivate(ctx context.Context, journeyID string, status models.JourneyStatus) error {
	if status != models.JourneyStatusPaused && status != models.JourneyStatusStopped {
		return fmt.Errorf("invalid deactivation status %q", status)
	}

	journey, err := s.repo.ByID(ctx, journeyID)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateStatus(ctx, journeyID, status); err != nil {
		return err
	}

	s.active.invalidate(journey.WorkspaceID)

	event := events.JourneyDeactivated{
		BaseEvent:   events.NewBaseEvent(events.JourneyDeactivatedType),
		JourneyID:   journeyID,
		WorkspaceID: journey.WorkspaceID,
		Status:      string(status),
	}

	if err := s.bus.Publish(ctx, events.JourneysTopic, journey.WorkspaceID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish deactivation event", "journey_id", journeyID, "error", err)
	}

	return nil
}

// EnrollBulk enrolls customers at the journey's entry step in one batch,
// avoiding one lock acquisition per customer.
func (s *Service) EnrollBulk(ctx context.Context, journey *models.Journey, customerIDs []string) error {
	if len(journey.Steps) == 0 {
		return fmt.Errorf("journey %s has no steps", journey.ID)
	}

	if journey.Settings.MaxEntries > 0 {
		enrolled, err := s.locations.GetCustomerIDs(ctx, journey.ID)
		if err != nil {
			return err
		}

		if len(enrolled)+len(customerIDs) > journey.Settings.MaxEntries {
			return fmt.Errorf("%w: journey %s", ErrMaxEntriesReached, journey.ID)
		}
	}

	entryStep := journey.Steps[0]
	locations := make([]*models.Location, 0, len(customerIDs))

	for _, customerID := range customerIDs {
		locations = append(locations, &models.Location{
			JourneyID:   journey.ID,
			CustomerID:  customerID,
			WorkspaceID: journey.WorkspaceID,
			StepID:      entryStep.ID,
		})
	}

	return s.locations.CreateBulk(ctx, locations)
}

// Unenroll removes a customer's location row. This is the only path that
// deletes locations; journey completion keeps the row.
func (s *Service) Unenroll(ctx context.Context, journeyID, customerID string) error {
	return s.locations.Delete(ctx, journeyID, customerID)
}

// RegisterInvalidation subscribes the caches to journey lifecycle events so
// other processes' changes invalidate them too.
func (s *Service) RegisterInvalidation(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.JourneyActivatedType, func(ctx context.Context, event any) error {
		if activated, ok := event.(*events.JourneyActivated); ok {
			s.active.invalidate(activated.WorkspaceID)
			s.waitSteps.invalidate(activated.JourneyID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = bus.Handle(events.JourneyDeactivatedType, func(ctx context.Context, event any) error {
		if deactivated, ok := event.(*events.JourneyDeactivated); ok {
			s.active.invalidate(deactivated.WorkspaceID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Handle(events.JourneyGraphChangedType, func(ctx context.Context, event any) error {
		if changed, ok := event.(*events.JourneyGraphChanged); ok {
			s.active.invalidate(changed.WorkspaceID)
			s.waitSteps.invalidate(changed.JourneyID)
		}

		return nil
	})
}
