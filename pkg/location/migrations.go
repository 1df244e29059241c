package location

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS journey_locations (
				journey_id TEXT NOT NULL,
				customer_id TEXT NOT NULL,
				workspace_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				journey_entry_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				step_entry_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				move_started_at TIMESTAMP WITH TIME ZONE,
				move_session TEXT NOT NULL DEFAULT '',
				last_message_at TIMESTAMP WITH TIME ZONE,
				messages_sent INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (journey_id, customer_id)
			);

			CREATE INDEX IF NOT EXISTS idx_journey_locations_workspace
				ON journey_locations (workspace_id, customer_id);

			CREATE INDEX IF NOT EXISTS idx_journey_locations_step
				ON journey_locations (journey_id, step_id)
				WHERE move_started_at IS NULL;
		`,
	}
}
