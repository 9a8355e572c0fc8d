package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "kg_events: append-only activity log",
		SQL: `
CREATE TABLE kg_events (
    id         TEXT PRIMARY KEY,
    kg         TEXT NOT NULL CHECK (kg IN ('personal', 'work')),
    owner_wa   TEXT NOT NULL,
    thread_id  TEXT NOT NULL,
    topic_wa   TEXT,
    type       TEXT NOT NULL,
    kind       TEXT,
    ts         INTEGER NOT NULL,
    size       INTEGER,
    sha256     TEXT,
    payload    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX idx_events_thread ON kg_events(kg, thread_id, ts, id);
CREATE INDEX idx_events_topic  ON kg_events(kg, topic_wa, ts, id);
CREATE INDEX idx_events_type   ON kg_events(kg, type, ts);
`,
	},
	{
		Version:     2,
		Description: "kg_edges: typed relation set",
		SQL: `
CREATE TABLE kg_edges (
    id         INTEGER PRIMARY KEY,
    kg         TEXT NOT NULL,
    kind       TEXT NOT NULL,
    src_type   TEXT NOT NULL,
    src_id     TEXT NOT NULL,
    dst_type   TEXT NOT NULL,
    dst_id     TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    UNIQUE (kg, kind, src_type, src_id, dst_type, dst_id)
);

CREATE INDEX idx_edges_src ON kg_edges(kg, src_type, src_id);
CREATE INDEX idx_edges_dst ON kg_edges(kg, dst_type, dst_id);
`,
	},
	{
		Version:     3,
		Description: "kg_topics, kg_threads, kg_container_refs: entity registries",
		SQL: `
CREATE TABLE kg_topics (
    id       INTEGER PRIMARY KEY,
    kg       TEXT NOT NULL,
    topic_wa TEXT NOT NULL,
    label    TEXT,
    first_ts INTEGER NOT NULL,
    last_ts  INTEGER NOT NULL,

    UNIQUE (kg, topic_wa)
);

CREATE TABLE kg_threads (
    id        INTEGER PRIMARY KEY,
    kg        TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    topic_wa  TEXT,
    title     TEXT,
    first_ts  INTEGER NOT NULL,
    last_ts   INTEGER NOT NULL,

    UNIQUE (kg, thread_id)
);

CREATE TABLE kg_container_refs (
    id           INTEGER PRIMARY KEY,
    kg           TEXT NOT NULL,
    container_id TEXT NOT NULL,
    path         TEXT NOT NULL DEFAULT '',
    kind         TEXT,
    title        TEXT,
    first_ts     INTEGER NOT NULL,
    last_ts      INTEGER NOT NULL,

    UNIQUE (kg, container_id, path)
);
`,
	},
	{
		Version:     4,
		Description: "kg_files, kg_attachments: content-addressed file store",
		SQL: `
CREATE TABLE kg_files (
    id         TEXT PRIMARY KEY,
    kg         TEXT NOT NULL,
    sha256     TEXT NOT NULL,
    size       INTEGER,
    mime       TEXT,
    name       TEXT,
    hash_src   TEXT NOT NULL DEFAULT 'bytes' CHECK (hash_src IN ('bytes', 'fingerprint', 'metadata')),
    created_at INTEGER NOT NULL,

    UNIQUE (kg, sha256)
);

CREATE TABLE kg_attachments (
    id         INTEGER PRIMARY KEY,
    kg         TEXT NOT NULL,
    event_id   TEXT NOT NULL,
    file_id    TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    UNIQUE (kg, event_id, file_id),
    FOREIGN KEY (file_id) REFERENCES kg_files(id)
);

CREATE INDEX idx_attachments_event ON kg_attachments(kg, event_id);
CREATE INDEX idx_attachments_file  ON kg_attachments(kg, file_id);
`,
	},
	{
		Version:     5,
		Description: "kg_cookies: hashed habit facts with expiry",
		SQL: `
CREATE TABLE kg_cookies (
    id         INTEGER PRIMARY KEY,
    kg         TEXT NOT NULL,
    scope      TEXT NOT NULL CHECK (scope IN ('agent', 'thread', 'topic', 'global')),
    key        TEXT NOT NULL,
    actor_wa   TEXT NOT NULL DEFAULT '',
    thread_id  TEXT NOT NULL DEFAULT '',
    topic_wa   TEXT NOT NULL DEFAULT '',
    value_hash TEXT NOT NULL,
    meta       TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    expires_at INTEGER,

    UNIQUE (kg, scope, key, actor_wa, thread_id, topic_wa)
);

CREATE INDEX idx_cookies_scope   ON kg_cookies(kg, scope);
CREATE INDEX idx_cookies_expires ON kg_cookies(expires_at);
`,
	},
	{
		Version:     6,
		Description: "kg_retention: per-namespace sweep rules",
		SQL: `
CREATE TABLE kg_retention (
    id   INTEGER PRIMARY KEY,
    kg   TEXT NOT NULL,
    type TEXT NOT NULL,
    kind TEXT,
    days INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
