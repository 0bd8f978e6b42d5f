package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// migrations are applied in order; index+1 is the schema version.
var migrations = []string{
	// v1
	`
	CREATE TABLE IF NOT EXISTS snapshots (
		graph_id       TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		format_version INTEGER NOT NULL,
		checksum       TEXT NOT NULL DEFAULT '',
		node_count     INTEGER NOT NULL,
		rel_count      INTEGER NOT NULL,
		data           BLOB NOT NULL,
		saved_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		entry_type      TEXT NOT NULL,
		content         TEXT NOT NULL,
		result_node_ids TEXT NOT NULL,
		actor           TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_type ON history(entry_type);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
	// v2
	`
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		agent_id     TEXT NOT NULL DEFAULT '',
		assigned_to  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		priority     TEXT NOT NULL,
		inputs       TEXT,
		progress     INTEGER NOT NULL DEFAULT 0,
		result       TEXT,
		created_at   INTEGER NOT NULL,
		started_at   INTEGER,
		completed_at INTEGER,
		updated_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
	`,
}

// SchemaVersion is the version New migrates to.
var SchemaVersion = len(migrations)

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration v%d: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration v%d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", version, err)
		}
		s.logger.Debug().Int("version", version).Msg("migration applied")
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", value, err)
	}
	return v, nil
}
