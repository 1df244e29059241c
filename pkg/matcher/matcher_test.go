package matcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/loopkit/loopkit/pkg/events"
	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
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
	locations map[string]*models.Location

	lockErr   error
	locked    []string
	unlocked  []string
	unlockTo  []string
}

func newFakeStore(locs ...*models.Location) *fakeStore {
	store := &fakeStore{locations: make(map[string]*models.Location)}
	for _, loc := range locs {
		store.locations[loc.JourneyID+"/"+loc.CustomerID] = loc
	}

	return store
}

func (s *fakeStore) FindForWrite(ctx context.Context, journeyID, customerID string, workspace models.WorkspaceContext) (*models.Location, error) {
	return s.locations[journeyID+"/"+customerID], nil
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
	s.unlockTo = append(s.unlockTo, stepID)

	return nil
}

func (s *fakeStore) TouchLastMessage(ctx context.Context, loc *models.Location) error { return nil }

func (s *fakeStore) CreateBulk(ctx context.Context, locations []*models.Location) error { return nil }

func (s *fakeStore) Delete(ctx context.Context, journeyID, customerID string) error { return nil }

func (s *fakeStore) AtSteps(ctx context.Context, journeyID string, stepIDs []string) ([]*models.Location, error) {
	return nil, nil
}

type fakeProducer struct {
	added map[queue.QueueID][]any
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{added: make(map[queue.QueueID][]any)}
}

func (p *fakeProducer) Add(ctx context.Context, q queue.QueueID, payload any, jobName string) (*queue.Envelope, error) {
	p.added[q] = append(p.added[q], payload)

	return &queue.Envelope{ID: "env-1"}, nil
}

func (p *fakeProducer) AddBulk(ctx context.Context, q queue.QueueID, payloads []any, jobName string) ([]*queue.Envelope, error) {
	return nil, nil
}

func (p *fakeProducer) Requeue(ctx context.Context, q queue.QueueID, envelope *queue.Envelope) error {
	return nil
}

type fakeAcker struct {
	acked []string
}

func (a *fakeAcker) AckProcessed(ctx context.Context, customerID, eventID string) error {
	a.acked = append(a.acked, eventID)

	return nil
}

type fakeSink struct {
	records []protocol.AnalyticsRecord
}

func (s *fakeSink) Record(ctx context.Context, record protocol.AnalyticsRecord) error {
	s.records = append(s.records, record)

	return nil
}

func signupJourney() *models.Journey {
	return &models.Journey{
		ID:          "j1",
		WorkspaceID: "ws1",
		Name:        "Welcome flow",
		Status:      models.JourneyStatusActive,
		Steps: []*models.Step{
			{ID: "s1", JourneyID: "j1", Type: models.StepTypeWaitUntil, Metadata: models.StepMetadata{
				Branches: []*models.Branch{{
					ID:          "b1",
					Relation:    models.RelationAnd,
					Destination: "s2",
					Events:      []*models.BranchEvent{{Kind: models.BranchEventAnalytics, Event: "signup"}},
				}},
			}},
			{ID: "s2", JourneyID: "j1", Type: models.StepTypeMessage, Metadata: models.StepMetadata{
				Channel:    "email",
				TemplateID: "tpl-1",
			}},
		},
	}
}

func newTestMatcher(repo *fakeRepo, store *fakeStore, producer *fakeProducer, acker *fakeAcker, sink *fakeSink) *Matcher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	service := journeys.NewService(repo, store, nil, logger)

	return New(service, store, producer, acker, sink, logger, noop.NewTracerProvider().Tracer("test"))
}

func TestProcessEvent_SignupAdvancesCustomer(t *testing.T) {
	journey := signupJourney()
	loc := &models.Location{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"}

	store := newFakeStore(loc)
	producer := newFakeProducer()
	m := newTestMatcher(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, &fakeAcker{}, &fakeSink{})

	err := m.ProcessEvent(context.Background(), analyticsEvent("signup"))
	require.NoError(t, err)

	// The destination is a message step, so the job lands on its queue.
	jobs := producer.added[queue.QueueMessageStep]
	require.Len(t, jobs, 1)

	job, ok := jobs[0].(models.AdvanceJob)
	require.True(t, ok)
	assert.Equal(t, "s1", job.StepID)
	assert.Equal(t, "s2", job.Destination)
	assert.Equal(t, loc.MoveSession, job.SessionID)

	// The lock stays held for the consumer.
	assert.Equal(t, []string{"c1"}, store.locked)
	assert.Empty(t, store.unlocked)
}

func TestProcessEvent_NoMatchUnlocksWithoutSideEffects(t *testing.T) {
	journey := signupJourney()
	loc := &models.Location{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"}

	store := newFakeStore(loc)
	producer := newFakeProducer()
	m := newTestMatcher(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, &fakeAcker{}, &fakeSink{})

	err := m.ProcessEvent(context.Background(), analyticsEvent("page_view"))
	require.NoError(t, err)

	assert.Empty(t, producer.added)
	assert.Equal(t, []string{"c1"}, store.unlocked)
	assert.Equal(t, []string{""}, store.unlockTo)
}

func TestProcessEvent_OnlyCurrentStepAdvances(t *testing.T) {
	journey := signupJourney()

	// A second wait step matching the same event; the customer stands at s1,
	// which does not match, so nothing may advance.
	journey.Steps[0].Metadata.Branches[0].Events[0].Event = "purchase"
	journey.Steps = append(journey.Steps, &models.Step{
		ID: "s3", JourneyID: "j1", Type: models.StepTypeWaitUntil, Metadata: models.StepMetadata{
			Branches: []*models.Branch{{
				ID:          "b2",
				Relation:    models.RelationAnd,
				Destination: "s2",
				Events:      []*models.BranchEvent{{Kind: models.BranchEventAnalytics, Event: "signup"}},
			}},
		},
	})

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"}
	store := newFakeStore(loc)
	producer := newFakeProducer()
	m := newTestMatcher(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, &fakeAcker{}, &fakeSink{})

	err := m.ProcessEvent(context.Background(), analyticsEvent("signup"))
	require.NoError(t, err)

	assert.Empty(t, producer.added)
	assert.Equal(t, []string{"c1"}, store.unlocked)
}

func TestProcessEvent_NotEnrolledIsNoOp(t *testing.T) {
	journey := signupJourney()
	store := newFakeStore()
	producer := newFakeProducer()
	m := newTestMatcher(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, &fakeAcker{}, &fakeSink{})

	err := m.ProcessEvent(context.Background(), analyticsEvent("signup"))
	require.NoError(t, err)

	assert.Empty(t, store.locked)
	assert.Empty(t, producer.added)
}

func TestProcessEvent_StillMovingSurfacesRetryableError(t *testing.T) {
	journey := signupJourney()
	loc := &models.Location{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"}

	store := newFakeStore(loc)
	store.lockErr = location.ErrCustomerStillMoving

	m := newTestMatcher(&fakeRepo{journeys: []*models.Journey{journey}}, store, newFakeProducer(), &fakeAcker{}, &fakeSink{})

	err := m.ProcessEvent(context.Background(), analyticsEvent("signup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, location.ErrCustomerStillMoving)
}

func TestProcessEvent_SkipsPausedJourneys(t *testing.T) {
	journey := signupJourney()
	journey.Status = models.JourneyStatusPaused

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"}
	store := newFakeStore(loc)
	producer := newFakeProducer()
	m := newTestMatcher(&fakeRepo{journeys: []*models.Journey{journey}}, store, producer, &fakeAcker{}, &fakeSink{})

	err := m.ProcessEvent(context.Background(), analyticsEvent("signup"))
	require.NoError(t, err)

	assert.Empty(t, store.locked)
	assert.Empty(t, producer.added)
}

func TestProcessEvent_RecordsAnalytics(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMatcher(&fakeRepo{}, newFakeStore(), newFakeProducer(), &fakeAcker{}, sink)

	require.NoError(t, m.ProcessEvent(context.Background(), analyticsEvent("signup")))
	require.Len(t, sink.records, 1)
	assert.Equal(t, string(events.SourceTracker), sink.records[0].Kind)
}

func TestOnComplete_AcksTrackerEventsOnly(t *testing.T) {
	acker := &fakeAcker{}
	m := newTestMatcher(&fakeRepo{}, newFakeStore(), newFakeProducer(), acker, &fakeSink{})

	tracker := analyticsEvent("signup")
	envelope := encodeEnvelope(t, tracker)
	require.NoError(t, m.OnComplete(context.Background(), envelope))
	assert.Equal(t, []string{"e1"}, acker.acked)

	backend := analyticsEvent("signup")
	backend.Source = events.SourceProviderAnalytics
	require.NoError(t, m.OnComplete(context.Background(), encodeEnvelope(t, backend)))
	assert.Len(t, acker.acked, 1)
}

func encodeEnvelope(t *testing.T, event *events.IngestedEvent) *queue.Envelope {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	return &queue.Envelope{ID: "env-1", Payload: payload}
}
