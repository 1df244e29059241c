package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/sqlbase"
)

const defaultMoveTimeout = 5 * time.Minute

const locationColumns = `
	journey_id
  , customer_id
  , workspace_id
  , step_id
  , journey_entry_at
  , step_entry_at
  , move_started_at
  , move_session
  , last_message_at
  , messages_sent
`

// PostgresStore implements Store on PostgreSQL. The lock is a guarded update
// of the move_started_at marker: the single-statement guard makes concurrent
// acquisition attempts serialize on the row, so exactly one wins.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	// moveTimeout bounds how long MOVING may last with no progress before
	// the lock is considered stuck and reclaimable.
	moveTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*PostgresStore, error) {
	store := &PostgresStore{
		db:          db,
		logger:      logger.With("module", "location_store"),
		moveTimeout: defaultMoveTimeout,
	}

	manager := sqlbase.NewMigrationManager(logger, db, "location_schema_migrations", migrations())

	err := manager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run location migrations: %w", err)
	}

	return store, nil
}

// WithMoveTimeout overrides the stuck-lock bound.
func (s *PostgresStore) WithMoveTimeout(d time.Duration) *PostgresStore {
	s.moveTimeout = d

	return s
}

func (s *PostgresStore) FindForWrite(ctx context.Context, journeyID, customerID string, workspace models.WorkspaceContext) (*models.Location, error) {
	query := `
		SELECT ` + locationColumns + `
		FROM journey_locations
		WHERE journey_id = $1 AND customer_id = $2 AND workspace_id = $3
	`

	row := s.db.QueryRowContext(ctx, query, journeyID, customerID, workspace.WorkspaceID)

	loc, err := scanLocation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan location: %w", err)
	}

	return loc, nil
}

func (s *PostgresStore) FindForWriteBulk(ctx context.Context, journeyID string, customerIDs []string, workspace models.WorkspaceContext) ([]*models.Location, error) {
	query := `
		SELECT ` + locationColumns + `
		FROM journey_locations
		WHERE journey_id = $1 AND workspace_id = $2 AND customer_id = ANY($3)
	`

	rows, err := s.db.QueryContext(ctx, query, journeyID, workspace.WorkspaceID, pq.Array(customerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}

	defer s.closeRows(ctx, rows)

	return collectLocations(rows)
}

func (s *PostgresStore) GetCustomerIDs(ctx context.Context, journeyID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT customer_id FROM journey_locations WHERE journey_id = $1", journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer ids: %w", err)
	}

	defer s.closeRows(ctx, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan customer id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customer ids: %w", err)
	}

	return ids, nil
}

func (s *PostgresStore) Lock(ctx context.Context, loc *models.Location, session string) error {
	query := `
		UPDATE journey_locations
		SET move_started_at = NOW(), move_session = $4
		WHERE journey_id = $1 AND customer_id = $2
		  AND (move_started_at IS NULL OR move_started_at < NOW() - make_interval(secs => $3))
	`

	result, err := s.db.ExecContext(ctx, query,
		loc.JourneyID, loc.CustomerID, s.moveTimeout.Seconds(), session)
	if err != nil {
		return fmt.Errorf("failed to lock location: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read lock result: %w", err)
	}

	if affected == 0 {
		return s.classifyLockFailure(ctx, loc)
	}

	now := time.Now().UTC()
	loc.MoveStartedAt = &now
	loc.MoveSession = session

	return nil
}

// classifyLockFailure distinguishes "enrolled but still moving" from "row
// gone"; the two error kinds drive different caller behavior.
func (s *PostgresStore) classifyLockFailure(ctx context.Context, loc *models.Location) error {
	var exists bool

	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM journey_locations WHERE journey_id = $1 AND customer_id = $2)",
		loc.JourneyID, loc.CustomerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to classify lock failure: %w", err)
	}

	if exists {
		return fmt.Errorf("%w: journey %s customer %s", ErrCustomerStillMoving, loc.JourneyID, loc.CustomerID)
	}

	return fmt.Errorf("%w: journey %s customer %s", ErrNotEnrolled, loc.JourneyID, loc.CustomerID)
}

func (s *PostgresStore) Unlock(ctx context.Context, loc *models.Location, stepID string) error {
	query := `
		UPDATE journey_locations
		SET move_started_at = NULL
		  , move_session = ''
		  , step_id = CASE WHEN $3 <> '' THEN $3 ELSE step_id END
		  , step_entry_at = CASE WHEN $3 <> '' AND $3 <> step_id THEN NOW() ELSE step_entry_at END
		WHERE journey_id = $1 AND customer_id = $2
	`

	result, err := s.db.ExecContext(ctx, query, loc.JourneyID, loc.CustomerID, stepID)
	if err != nil {
		return fmt.Errorf("failed to unlock location: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read unlock result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: journey %s customer %s", ErrNotEnrolled, loc.JourneyID, loc.CustomerID)
	}

	loc.MoveStartedAt = nil
	loc.MoveSession = ""

	if stepID != "" {
		loc.StepID = stepID
	}

	return nil
}

func (s *PostgresStore) TouchLastMessage(ctx context.Context, loc *models.Location) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE journey_locations SET last_message_at = NOW(), messages_sent = messages_sent + 1 WHERE journey_id = $1 AND customer_id = $2",
		loc.JourneyID, loc.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to touch last message: %w", err)
	}

	now := time.Now().UTC()
	loc.LastMessageAt = &now
	loc.MessagesSent++

	return nil
}

func (s *PostgresStore) CreateBulk(ctx context.Context, locations []*models.Location) error {
	if len(locations) == 0 {
		return nil
	}

	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enrollment transaction: %w", err)
	}

	query := `
		INSERT INTO journey_locations
			(journey_id, customer_id, workspace_id, step_id, journey_entry_at, step_entry_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`

	for _, loc := range locations {
		_, err := transaction.ExecContext(ctx, query,
			loc.JourneyID, loc.CustomerID, loc.WorkspaceID, loc.StepID)
		if err != nil {
			_ = transaction.Rollback()

			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				s.logger.WarnContext(ctx, "Duplicate enrollment",
					"journey_id", loc.JourneyID, "customer_id", loc.CustomerID)

				return fmt.Errorf("%w: journey %s customer %s",
					ErrAlreadyEnrolled, loc.JourneyID, loc.CustomerID)
			}

			return fmt.Errorf("failed to enroll customer %s: %w", loc.CustomerID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrollment: %w", err)
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, journeyID, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM journey_locations WHERE journey_id = $1 AND customer_id = $2",
		journeyID, customerID)
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}

	return nil
}

func (s *PostgresStore) AtSteps(ctx context.Context, journeyID string, stepIDs []string) ([]*models.Location, error) {
	if len(stepIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + locationColumns + `
		FROM journey_locations
		WHERE journey_id = $1 AND step_id = ANY($2) AND move_started_at IS NULL
	`

	rows, err := s.db.QueryContext(ctx, query, journeyID, pq.Array(stepIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query locations at steps: %w", err)
	}

	defer s.closeRows(ctx, rows)

	return collectLocations(rows)
}

func (s *PostgresStore) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (*models.Location, error) {
	var (
		loc           models.Location
		moveStartedAt sql.NullTime
		moveSession   sql.NullString
		lastMessageAt sql.NullTime
	)

	err := row.Scan(
		&loc.JourneyID,
		&loc.CustomerID,
		&loc.WorkspaceID,
		&loc.StepID,
		&loc.JourneyEntryAt,
		&loc.StepEntryAt,
		&moveStartedAt,
		&moveSession,
		&lastMessageAt,
		&loc.MessagesSent,
	)
	if err != nil {
		return nil, err
	}

	if moveStartedAt.Valid {
		loc.MoveStartedAt = &moveStartedAt.Time
	}

	if moveSession.Valid {
		loc.MoveSession = moveSession.String
	}

	if lastMessageAt.Valid {
		loc.LastMessageAt = &lastMessageAt.Time
	}

	return &loc, nil
}

func collectLocations(rows *sql.Rows) ([]*models.Location, error) {
	locations := make([]*models.Location, 0)

	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}

		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}

	return locations, nil
}
