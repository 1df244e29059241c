package journeys

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS journeys (
				id TEXT PRIMARY KEY,
				workspace_id TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				entry_criteria JSONB,
				settings JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				activated_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_journeys_workspace_status
				ON journeys (workspace_id, status)
				WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS journey_steps (
				id TEXT PRIMARY KEY,
				journey_id TEXT NOT NULL REFERENCES journeys (id),
				position INTEGER NOT NULL,
				type TEXT NOT NULL,
				metadata JSONB NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_journey_steps_journey
				ON journey_steps (journey_id);
		`,
	}
}
