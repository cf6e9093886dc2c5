package storage

import "database/sql"

// migrateV001 creates the initial schema: the key-value blob table, the
// visit log with its full-text index, and the audit log. Every statement
// uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS visits (
			id             TEXT PRIMARY KEY,
			ts             INTEGER NOT NULL,
			url            TEXT NOT NULL,
			normalized_url TEXT NOT NULL,
			hostname       TEXT NOT NULL DEFAULT '',
			title          TEXT NOT NULL DEFAULT '',
			tab_id         INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS visits_fts USING fts4(
			visit_id,
			title,
			url
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			action   TEXT NOT NULL,
			detail   TEXT NOT NULL DEFAULT '',
			subject  TEXT NOT NULL DEFAULT '',
			ts       INTEGER NOT NULL
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_visits_ts             ON visits(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_normalized_url ON visits(normalized_url, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_hostname       ON visits(hostname)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_ts          ON audit_log(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_action      ON audit_log(action)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
