// Package analytics durably records inbound events and journey transitions
// for audit and reporting.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loopkit/loopkit/pkg/protocol"
	"github.com/loopkit/loopkit/pkg/sqlbase"
)

// PostgresSink appends one row per record. Writers fire and move on; a failed
// write is logged by the caller, never retried inline.
type PostgresSink struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresSink(ctx context.Context, db *sql.DB, logger *slog.Logger) (*PostgresSink, error) {
	sink := &PostgresSink{db: db, logger: logger.With("module", "analytics_sink")}

	manager := sqlbase.NewMigrationManager(logger, db, "analytics_schema_migrations", migrations())

	err := manager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run analytics migrations: %w", err)
	}

	return sink, nil
}

func (s *PostgresSink) Record(ctx context.Context, record protocol.AnalyticsRecord) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analytics_events
			(kind, workspace_id, customer_id, journey_id, step_id, event_id, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.Kind, record.WorkspaceID, record.CustomerID,
		nullable(record.JourneyID), nullable(record.StepID), nullable(record.EventID), fields)
	if err != nil {
		return fmt.Errorf("failed to record analytics event: %w", err)
	}

	return nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS analytics_events (
				id BIGSERIAL PRIMARY KEY,
				kind TEXT NOT NULL,
				workspace_id TEXT NOT NULL,
				customer_id TEXT NOT NULL,
				journey_id TEXT,
				step_id TEXT,
				event_id TEXT,
				fields JSONB,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_analytics_events_workspace
				ON analytics_events (workspace_id, recorded_at);
		`,
	}
}
