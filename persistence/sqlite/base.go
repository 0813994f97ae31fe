package sqlite

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	parameters TEXT NOT NULL DEFAULT '[]',
	mode TEXT NOT NULL,
	org_required INTEGER NOT NULL DEFAULT 0,
	form INTEGER NOT NULL DEFAULT 0,
	schedule TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	last_seen_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS data_provider_definitions (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	cache_ttl INTEGER NOT NULL DEFAULT 0,
	source_path TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	last_seen_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS form_definitions (
	name TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	workflow TEXT NOT NULL,
	source_path TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	last_seen_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	workflow_name TEXT NOT NULL,
	org_id TEXT NOT NULL DEFAULT '',
	params TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	result TEXT,
	error_type TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	variables TEXT NOT NULL DEFAULT '{}',
	peak_memory_bytes INTEGER NOT NULL DEFAULT 0,
	user_cpu_millis INTEGER NOT NULL DEFAULT 0,
	system_cpu_millis INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	started_at TEXT,
	ended_at TEXT
);
CREATE TABLE IF NOT EXISTS execution_logs (
	execution_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL,
	PRIMARY KEY (execution_id, sequence)
);
CREATE TABLE IF NOT EXISTS org_config (
	org_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (org_id, key)
);
CREATE TABLE IF NOT EXISTS org_secrets (
	org_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (org_id, key)
);
CREATE TABLE IF NOT EXISTS org_roles (
	org_id TEXT NOT NULL,
	name TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (org_id, name)
);
`

// Open opens (or creates) the database and applies the schema. Use
// ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes; a single writer connection avoids
	// SQLITE_BUSY under concurrent components.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Fixed-width fraction keeps the TEXT columns lexicographically ordered,
// which last_seen_at comparisons rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
