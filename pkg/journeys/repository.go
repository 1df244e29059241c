// Package journeys provides read access to journeys and their step graphs,
// the read-mostly caches in front of them, and the enrollment path.
package journeys

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopkit/loopkit/pkg/models"
	"github.com/loopkit/loopkit/pkg/sqlbase"
)

// ErrJourneyNotFound indicates a journey was not found by the given id.
var ErrJourneyNotFound = errors.New("journey not found")

// Repository is read access to journeys plus write access restricted to
// operational flags.
type Repository interface {
	ActiveByWorkspace(ctx context.Context, workspaceID string) ([]*models.Journey, error)
	// AllActive feeds the time-trigger scan, which spans workspaces.
	AllActive(ctx context.Context) ([]*models.Journey, error)
	ByID(ctx context.Context, id string) (*models.Journey, error)
	Save(ctx context.Context, journey *models.Journey) error
	UpdateStatus(ctx context.Context, id string, status models.JourneyStatus) error
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresRepository(ctx context.Context, db *sql.DB, logger *slog.Logger) (*PostgresRepository, error) {
	repo := &PostgresRepository{db: db, logger: logger.With("module", "journey_repository")}

	manager := sqlbase.NewMigrationManager(logger, db, "journeys_schema_migrations", migrations())

	err := manager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run journey migrations: %w", err)
	}

	return repo, nil
}

const journeyColumns = `
	id
  , workspace_id
  , name
  , status
  , entry_criteria
  , settings
  , created_at
  , updated_at
  , activated_at
  , deleted_at
`

func (r *PostgresRepository) ActiveByWorkspace(ctx context.Context, workspaceID string) ([]*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE workspace_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY created_at
	`

	return r.queryJourneys(ctx, query, workspaceID, models.JourneyStatusActive)
}

func (r *PostgresRepository) AllActive(ctx context.Context) ([]*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE status = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`

	return r.queryJourneys(ctx, query, models.JourneyStatusActive)
}

func (r *PostgresRepository) queryJourneys(ctx context.Context, query string, args ...any) ([]*models.Journey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}

	for _, journey := range journeys {
		if err := r.loadSteps(ctx, journey); err != nil {
			return nil, err
		}
	}

	return journeys, nil
}

func (r *PostgresRepository) ByID(ctx context.Context, id string) (*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE id = $1 AND deleted_at IS NULL
	`

	journey, err := scanJourney(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJourneyNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan journey: %w", err)
	}

	if err := r.loadSteps(ctx, journey); err != nil {
		return nil, err
	}

	return journey, nil
}

func (r *PostgresRepository) Save(ctx context.Context, journey *models.Journey) error {
	entryCriteria, err := json.Marshal(journey.EntryCriteria)
	if err != nil {
		return fmt.Errorf("failed to marshal entry criteria: %w", err)
	}

	settings, err := json.Marshal(journey.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}

	now := time.Now().UTC()

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO journeys (id, workspace_id, name, status, entry_criteria, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name
		  , status = EXCLUDED.status
		  , entry_criteria = EXCLUDED.entry_criteria
		  , settings = EXCLUDED.settings
		  , updated_at = EXCLUDED.updated_at
	`, journey.ID, journey.WorkspaceID, journey.Name, journey.Status, entryCriteria, settings, now)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to save journey: %w", err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM journey_steps WHERE journey_id = $1", journey.ID)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to clear steps: %w", err)
	}

	for position, step := range journey.Steps {
		metadata, err := json.Marshal(step.Metadata)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to marshal step metadata: %w", err)
		}

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO journey_steps (id, journey_id, position, type, metadata)
			VALUES ($1, $2, $3, $4, $5)
		`, step.ID, journey.ID, position, step.Type, metadata)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to save step %s: %w", step.ID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit journey save: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.JourneyStatus) error {
	query := "UPDATE journeys SET status = $2, updated_at = NOW() WHERE id = $1"
	if status == models.JourneyStatusActive {
		query = "UPDATE journeys SET status = $2, updated_at = NOW(), activated_at = NOW() WHERE id = $1"
	}

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update journey status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read status update result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrJourneyNotFound, id)
	}

	return nil
}

func (r *PostgresRepository) loadSteps(ctx context.Context, journey *models.Journey) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, journey_id, type, metadata FROM journey_steps WHERE journey_id = $1 ORDER BY position",
		journey.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journey.Steps = make([]*models.Step, 0)

	for rows.Next() {
		var (
			step     models.Step
			metadata []byte
		)

		if err := rows.Scan(&step.ID, &step.JourneyID, &step.Type, &metadata); err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		if err := json.Unmarshal(metadata, &step.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal step %s metadata: %w", step.ID, err)
		}

		journey.Steps = append(journey.Steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		journey       models.Journey
		entryCriteria []byte
		settings      []byte
		activatedAt   sql.NullTime
		deletedAt     sql.NullTime
	)

	err := row.Scan(
		&journey.ID,
		&journey.WorkspaceID,
		&journey.Name,
		&journey.Status,
		&entryCriteria,
		&settings,
		&journey.CreatedAt,
		&journey.UpdatedAt,
		&activatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(entryCriteria) > 0 {
		if err := json.Unmarshal(entryCriteria, &journey.EntryCriteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry criteria: %w", err)
		}
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &journey.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	if activatedAt.Valid {
		journey.ActivatedAt = &activatedAt.Time
	}

	if deletedAt.Valid {
		journey.DeletedAt = &deletedAt.Time
	}

	return &journey, nil
}
