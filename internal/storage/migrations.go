package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)
`

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					trigger_source TEXT NOT NULL,
					status TEXT NOT NULL,
					changed BOOLEAN NOT NULL DEFAULT FALSE,
					committed BOOLEAN NOT NULL DEFAULT FALSE,
					commit_hash TEXT NOT NULL DEFAULT '',
					snapshot_hash TEXT NOT NULL DEFAULT '',
					snapshot TEXT, -- JSON
					error TEXT NOT NULL DEFAULT '',
					started_at INTEGER NOT NULL, -- unix ms
					finished_at INTEGER NOT NULL,
					duration_ms INTEGER NOT NULL DEFAULT 0
				);

				CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
				CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
				CREATE INDEX IF NOT EXISTS idx_runs_trigger ON runs(trigger_source);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					trigger_source TEXT NOT NULL,
					status TEXT NOT NULL,
					changed BOOLEAN NOT NULL DEFAULT FALSE,
					committed BOOLEAN NOT NULL DEFAULT FALSE,
					commit_hash TEXT NOT NULL DEFAULT '',
					snapshot_hash TEXT NOT NULL DEFAULT '',
					snapshot JSONB,
					error TEXT NOT NULL DEFAULT '',
					started_at BIGINT NOT NULL,
					finished_at BIGINT NOT NULL,
					duration_ms BIGINT NOT NULL DEFAULT 0
				);

				CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
				CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
				CREATE INDEX IF NOT EXISTS idx_runs_trigger ON runs(trigger_source);
			`,
		},
	}
}
