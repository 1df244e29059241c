package location

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &PostgresStore{
		db:          db,
		logger:      slog.New(slog.NewTextHandler(os.Stdout, nil)),
		moveTimeout: defaultMoveTimeout,
	}

	return store, mock
}

func locationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"journey_id", "customer_id", "workspace_id", "step_id",
		"journey_entry_at", "step_entry_at", "move_started_at",
		"move_session", "last_message_at", "messages_sent",
	})
}

func TestFindForWrite_NotEnrolledReturnsNil(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("FROM journey_locations").
		WithArgs("j1", "c1", "ws1").
		WillReturnRows(locationRows())

	loc, err := store.FindForWrite(context.Background(), "j1", "c1",
		models.WorkspaceContext{WorkspaceID: "ws1"})

	require.NoError(t, err)
	assert.Nil(t, loc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindForWrite_ScansRow(t *testing.T) {
	store, mock := newTestStore(t)

	entered := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	moving := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM journey_locations").
		WithArgs("j1", "c1", "ws1").
		WillReturnRows(locationRows().
			AddRow("j1", "c1", "ws1", "s2", entered, entered, moving, "sess-1", nil, 3))

	loc, err := store.FindForWrite(context.Background(), "j1", "c1",
		models.WorkspaceContext{WorkspaceID: "ws1"})

	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "s2", loc.StepID)
	assert.True(t, loc.Moving())
	assert.Equal(t, "sess-1", loc.MoveSession)
	assert.Nil(t, loc.LastMessageAt)
	assert.Equal(t, 3, loc.MessagesSent)
}

func TestLock_AcquiresAndMarksRow(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE journey_locations").
		WithArgs("j1", "c1", defaultMoveTimeout.Seconds(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1"}

	require.NoError(t, store.Lock(context.Background(), loc, "sess-1"))
	assert.True(t, loc.Moving())
	assert.Equal(t, "sess-1", loc.MoveSession)
}

func TestLock_StillMovingWhenRowExists(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE journey_locations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("j1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1"}

	err := store.Lock(context.Background(), loc, "sess-1")
	assert.ErrorIs(t, err, ErrCustomerStillMoving)
	assert.False(t, loc.Moving())
}

func TestLock_NotEnrolledWhenRowGone(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE journey_locations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("j1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1"}

	err := store.Lock(context.Background(), loc, "sess-1")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestUnlock_AdvancesStep(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE journey_locations").
		WithArgs("j1", "c1", "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	moving := time.Now().UTC()
	loc := &models.Location{
		JourneyID: "j1", CustomerID: "c1", StepID: "s1",
		MoveStartedAt: &moving, MoveSession: "sess-1",
	}

	require.NoError(t, store.Unlock(context.Background(), loc, "s2"))
	assert.False(t, loc.Moving())
	assert.Empty(t, loc.MoveSession)
	assert.Equal(t, "s2", loc.StepID)
}

func TestUnlock_KeepsStepWhenEmpty(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE journey_locations").
		WithArgs("j1", "c1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	moving := time.Now().UTC()
	loc := &models.Location{
		JourneyID: "j1", CustomerID: "c1", StepID: "s1",
		MoveStartedAt: &moving,
	}

	require.NoError(t, store.Unlock(context.Background(), loc, ""))
	assert.Equal(t, "s1", loc.StepID)
}

func TestUnlock_MissingRowIsNotEnrolled(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE journey_locations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1"}

	err := store.Unlock(context.Background(), loc, "s2")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestTouchLastMessage_IncrementsCounter(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("messages_sent = messages_sent").
		WithArgs("j1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	loc := &models.Location{JourneyID: "j1", CustomerID: "c1", MessagesSent: 1}

	require.NoError(t, store.TouchLastMessage(context.Background(), loc))
	assert.Equal(t, 2, loc.MessagesSent)
	assert.NotNil(t, loc.LastMessageAt)
}

func TestCreateBulk_DuplicateSurfacesAlreadyEnrolled(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO journey_locations").
		WithArgs("j1", "c1", "ws1", "s1").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.CreateBulk(context.Background(), []*models.Location{
		{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"},
	})

	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBulk_EnrollsAll(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO journey_locations").
		WithArgs("j1", "c1", "ws1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO journey_locations").
		WithArgs("j1", "c2", "ws1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.CreateBulk(context.Background(), []*models.Location{
		{JourneyID: "j1", CustomerID: "c1", WorkspaceID: "ws1", StepID: "s1"},
		{JourneyID: "j1", CustomerID: "c2", WorkspaceID: "ws1", StepID: "s1"},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtSteps_EmptyStepListSkipsQuery(t *testing.T) {
	store, mock := newTestStore(t)

	locations, err := store.AtSteps(context.Background(), "j1", nil)

	require.NoError(t, err)
	assert.Nil(t, locations)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtSteps_ReturnsUnlockedRows(t *testing.T) {
	store, mock := newTestStore(t)

	entered := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("move_started_at IS NULL").
		WithArgs("j1", pq.Array([]string{"s1", "s3"})).
		WillReturnRows(locationRows().
			AddRow("j1", "c1", "ws1", "s1", entered, entered, nil, "", nil, 0).
			AddRow("j1", "c2", "ws1", "s3", entered, entered, nil, "", nil, 0))

	locations, err := store.AtSteps(context.Background(), "j1", []string{"s1", "s3"})

	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "c1", locations[0].CustomerID)
	assert.False(t, locations[0].Moving())
}
