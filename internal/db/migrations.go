package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create task queue and lifecycle tables",
		sql: `
CREATE TABLE IF NOT EXISTS tasks (
	action_id TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 5,
	status TEXT NOT NULL DEFAULT 'pending',
	payload TEXT NOT NULL DEFAULT '{}',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	scheduled_for TEXT NOT NULL,
	claimed_by TEXT,
	claimed_at TEXT,
	last_error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_scheduled ON tasks(status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_tasks_action_type ON tasks(action_type);

CREATE TABLE IF NOT EXISTS document_lifecycle (
	file_path TEXT PRIMARY KEY,
	doc_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	fingerprint TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	claimed_by TEXT,
	claimed_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lifecycle_status ON document_lifecycle(status);
CREATE INDEX IF NOT EXISTS idx_lifecycle_doc_type ON document_lifecycle(doc_type);

CREATE TABLE IF NOT EXISTS publish_records (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	remote_ref TEXT,
	published_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_publish_records_file_path ON publish_records(file_path);

CREATE TABLE IF NOT EXISTS schedule_tracker (
	task_name TEXT PRIMARY KEY,
	cadence TEXT NOT NULL,
	last_run_at TEXT,
	next_due_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_execution_log (
	id TEXT PRIMARY KEY,
	action_id TEXT NOT NULL,
	success INTEGER NOT NULL,
	result_data TEXT,
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	artifacts TEXT,
	executed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_log_action_id ON task_execution_log(action_id);

CREATE TABLE IF NOT EXISTS llm_sanitizer_audit (
	id TEXT PRIMARY KEY,
	action_id TEXT,
	stage TEXT NOT NULL,
	findings TEXT,
	created_at TEXT NOT NULL
);
`,
	},
	{
		version: 2,
		name:    "add task release_reason column",
		sql:     `ALTER TABLE tasks ADD COLUMN release_reason TEXT;`,
	},
	{
		version: 3,
		name:    "add lifecycle version, published_at, remote_id columns",
		sql: `
ALTER TABLE document_lifecycle ADD COLUMN version INTEGER NOT NULL DEFAULT 1;
ALTER TABLE document_lifecycle ADD COLUMN published_at TEXT;
ALTER TABLE document_lifecycle ADD COLUMN remote_id TEXT;
`,
	},
	{
		version: 4,
		name:    "add task title, description, source fields, and deadline",
		sql: `
ALTER TABLE tasks ADD COLUMN title TEXT;
ALTER TABLE tasks ADD COLUMN description TEXT;
ALTER TABLE tasks ADD COLUMN source_report TEXT;
ALTER TABLE tasks ADD COLUMN source_context TEXT;
ALTER TABLE tasks ADD COLUMN deadline TEXT;
`,
	},
}

// RunMigrations applies, in order, every migration whose version exceeds the
// schema version already recorded in _meta. ADD COLUMN statements in future
// migrations must tolerate "duplicate column name" on rerun, matching the
// original project's forward-compatible migration discipline.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`); err != nil {
		return fmt.Errorf("failed to ensure _meta table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("failed to initialize schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	currentVersion, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil && !isBenignMigrationError(err) {
			return fmt.Errorf("failed migration %03d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to set schema version %03d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	return nil
}

// isBenignMigrationError tolerates reruns of ADD COLUMN style statements
// against a database that already carries the column, which SQLite reports
// as a generic error string rather than a distinct code.
func isBenignMigrationError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}
