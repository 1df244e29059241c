package trigger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	journeys []*models.Journey
}

func (r *fakeRepo) ActiveByWorkspace(ctx context.Context, workspaceID string) ([]*models.Journey, error) {
	return r.journeys, nil
}

func (r *fakeRepo) AllActive(ctx context.Context) ([]*models.Journey, error) {
	return r.journeys, nil
}

func (r *fakeRepo) ByID(ctx context.Context, id string) (*models.Journey, error) {
	for _, journey := range r.journeys {
		if journey.ID == id {
			return journey, nil
		}
	}

	return nil, journeys.ErrJourneyNotFound
}

func (r *fakeRepo) Save(ctx context.Context, journey *models.Journey) error { return nil }

func (r *fakeRepo) UpdateStatus(ctx context.Context, id string, status models.JourneyStatus) error {
	return nil
}

type fakeStore struct {
	atSteps []*models.Location
	lockErr error

	locked   []string
	unlocked []string
}

func (s *fakeStore) FindForWrite(ctx context.Context, journeyID, customerID string, workspace models.WorkspaceContext) (*models.Location, error) {
	return nil, nil
}

func (s *fakeStore) FindForWriteBulk(ctx context.Context, journeyID string, customerIDs []string, workspace models.WorkspaceContext) ([]*models.Location, error) {
	return nil, nil
}

func (s *fakeStore) GetCustomerIDs(ctx context.Context, journeyID string) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) Lock(ctx context.Context, loc *models.Location, session string) error {
	if s.lockErr != nil {
		return s.lockErr
	}

	s.locked = append(s.locked, loc.CustomerID)
	loc.MoveSession = session

	return nil
}

func (s *fakeStore) Unlock(ctx context.Context, loc *models.Location, stepID string) error {
	s.unlocked = append(s.unlocked, loc.CustomerID)

	return nil
}

func (s *fakeStore) TouchLastMessage(ctx context.Context, loc *models.Location) error { return nil }

func (s *fakeStore) CreateBulk(ctx context.Context, locations []*models.Location) error { return nil }

func (s *fakeStore) Delete(ctx context.Context, journeyID, customerID string) error { return nil }

func (s *fakeStore) AtSteps(ctx context.Context, journeyID string, stepIDs []string) ([]*models.Location, error) {
	out := make([]*models.Location, 0)

	for _, loc := range s.atSteps {
		for _, id := range stepIDs {
			if loc.StepID == id {
				out = append(out, loc)
			}
		}
	}

	return out, nil
}

type fakeProducer struct {
	added  map[queue.QueueID][]models.AdvanceJob
	addErr error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{added: make(map[queue.QueueID][]models.AdvanceJob)}
}

func (p *fakeProducer) Add(ctx context.Context, q queue.QueueID, payload any, jobName string) (*queue.Envelope, error) {
	if p.addErr != nil {
		return nil, p.addErr
	}

	job, _ := payload.(models.AdvanceJob)
	p.added[q] = append(p.added[q], job)

	return &queue.Envelope{ID: "env-1"}, nil
}

func (p *fakeProducer) AddBulk(ctx context.Context, q queue.QueueID, payloads []any, jobName string) ([]*queue.Envelope, error) {
	return nil, nil
}

func (p *fakeProducer) Requeue(ctx context.Context, q queue.QueueID, envelope *queue.Envelope) error {
	return nil
}

func delayJourney(delaySeconds int64) *models.Journey {
	return &models.Journey{
		ID:          "j1",
		WorkspaceID: "ws1",
		Name:        "Winback",
		Status:      models.JourneyStatusActive,
		Steps: []*models.Step{
			{ID: "s1", JourneyID: "j1", Type: models.StepTypeTimeDelay, Metadata: models.StepMetadata{
				DelaySeconds: delaySeconds,
				Destination:  "s2",
			}},
			{ID: "s2", JourneyID: "j1", Type: models.StepTypeMessage, Metadata: models.StepMetadata{
				Channel: "email", TemplateID: "tpl-1",
			}},
		},
	}
}

func newTestScheduler(repo *fakeRepo, store *fakeStore, producer *fakeProducer, now time.Time) *Scheduler {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := NewScheduler(repo, store, producer, logger)
	scheduler.now = func() time.Time { return now }

	return scheduler
}

func TestScan_FiresElapsedDelay(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	journey := delayJourney(300)
	loc := &models.Location{
		JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1",
		StepID: "s1", StepEntryAt: now.Add(-10 * time.Minute),
	}

	store := &fakeStore{atSteps: []*models.Location{loc}}
	producer := newFakeProducer()
	scheduler := newTestScheduler(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, now)

	require.NoError(t, scheduler.Scan(context.Background()))

	require.Len(t, store.locked, 1)
	require.Len(t, producer.added[queue.QueueMessageStep], 1)

	job := producer.added[queue.QueueMessageStep][0]
	assert.Equal(t, "s1", job.StepID)
	assert.Equal(t, "s2", job.Destination)
	assert.Equal(t, loc.MoveSession, job.SessionID)
	assert.Nil(t, job.Event)
}

func TestScan_SkipsUnelapsedDelay(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	journey := delayJourney(3600)
	loc := &models.Location{
		JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1",
		StepID: "s1", StepEntryAt: now.Add(-10 * time.Minute),
	}

	store := &fakeStore{atSteps: []*models.Location{loc}}
	producer := newFakeProducer()
	scheduler := newTestScheduler(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, now)

	require.NoError(t, scheduler.Scan(context.Background()))

	assert.Empty(t, store.locked)
	assert.Empty(t, producer.added)
}

func TestScan_LockContentionIsSkipped(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	journey := delayJourney(60)
	loc := &models.Location{
		JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1",
		StepID: "s1", StepEntryAt: now.Add(-10 * time.Minute),
	}

	store := &fakeStore{atSteps: []*models.Location{loc}, lockErr: location.ErrCustomerStillMoving}
	producer := newFakeProducer()
	scheduler := newTestScheduler(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, now)

	require.NoError(t, scheduler.Scan(context.Background()))
	assert.Empty(t, producer.added)
}

func TestScan_PublishFailureUnlocks(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	journey := delayJourney(60)
	loc := &models.Location{
		JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1",
		StepID: "s1", StepEntryAt: now.Add(-10 * time.Minute),
	}

	store := &fakeStore{atSteps: []*models.Location{loc}}
	producer := newFakeProducer()
	producer.addErr = errors.New("broker down")

	scheduler := newTestScheduler(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, now)

	// Per-journey fire errors are logged, not surfaced, so the scan still
	// reports success; the lock must be released.
	require.NoError(t, scheduler.Scan(context.Background()))
	assert.Equal(t, []string{"c1"}, store.unlocked)
}

func TestDelayElapsed(t *testing.T) {
	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	assert.False(t, delayElapsed(300, entry, entry.Add(4*time.Minute)))
	assert.True(t, delayElapsed(300, entry, entry.Add(5*time.Minute)))
	assert.True(t, delayElapsed(0, entry, entry))
}

func TestWindowOpen_Absolute(t *testing.T) {
	from := "2026-03-01T00:00:00Z"
	to := "2026-03-31T23:59:59Z"
	window := &models.TimeWindow{From: &from, To: &to}

	assert.True(t, WindowOpen(window, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, WindowOpen(window, time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, WindowOpen(window, time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)))
}

func TestWindowOpen_Recurring(t *testing.T) {
	window := &models.TimeWindow{
		OnDays:   []int{1, 2, 3, 4, 5}, // weekdays
		FromTime: "09:00",
		ToTime:   "17:00",
	}

	// 2026-03-02 is a Monday.
	assert.True(t, WindowOpen(window, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	assert.False(t, WindowOpen(window, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)))
	// 2026-03-01 is a Sunday.
	assert.False(t, WindowOpen(window, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestWindowOpen_MidnightWrap(t *testing.T) {
	window := &models.TimeWindow{FromTime: "22:00", ToTime: "06:00"}

	assert.True(t, WindowOpen(window, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)))
	assert.True(t, WindowOpen(window, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)))
	assert.False(t, WindowOpen(window, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))
}

func TestWindowOpen_NoConstraints(t *testing.T) {
	assert.True(t, WindowOpen(nil, time.Now()))
	assert.True(t, WindowOpen(&models.TimeWindow{}, time.Now()))
}

func TestWindowOpen_MalformedBounds(t *testing.T) {
	bad := "not-a-timestamp"

	assert.False(t, WindowOpen(&models.TimeWindow{From: &bad}, time.Now()))
	assert.False(t, WindowOpen(&models.TimeWindow{FromTime: "9am", ToTime: "17:00"}, time.Now()))
}

func TestSatisfied_IgnoresOtherStepTypes(t *testing.T) {
	step := &models.Step{ID: "s1", Type: models.StepTypeWaitUntil}
	loc := &models.Location{StepID: "s1"}

	assert.False(t, Satisfied(step, loc, time.Now()))
}
