package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// SQLiteStore implements Backend, the visit log and the audit log on one
// SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	watchers watchers

	// Prepared statements
	getValue    *sql.Stmt
	setValue    *sql.Stmt
	insertVisit *sql.Stmt
	lastVisit   *sql.Stmt
	insertAudit *sql.Stmt
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getValue, err = s.db.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.setValue, err = s.db.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.insertVisit, err = s.db.Prepare(`
		INSERT INTO visits (id, ts, url, normalized_url, hostname, title, tab_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.lastVisit, err = s.db.Prepare(`
		SELECT MAX(ts) FROM visits WHERE normalized_url = ?
	`)
	if err != nil {
		return err
	}

	s.insertAudit, err = s.db.Prepare(`
		INSERT INTO audit_log (action, subject, detail, ts) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	return nil
}

// ── Key-value blobs ─────────────────────────────────────────────

// Get returns the raw value for key, or ErrKeyNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.getValue.QueryRowContext(ctx, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts the value for key and notifies watchers.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.setValue.ExecContext(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.watchers.notify(ChangeEvent{Keys: []string{key}, Area: "local"})
	return nil
}

// Remove deletes keys and notifies watchers.
func (s *SQLiteStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("remove %v: %w", keys, err)
	}
	s.watchers.notify(ChangeEvent{Keys: keys, Area: "local"})
	return nil
}

// Keys lists every stored key.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Watch registers a change callback. Only writes made through this store
// are reported.
func (s *SQLiteStore) Watch(fn func(ChangeEvent)) { s.watchers.add(fn) }

// ── Visit log ───────────────────────────────────────────────────

// RecordVisit appends a visit unless the same normalized URL was visited
// within dedupe of v.Timestamp. It reports whether a row was written.
func (s *SQLiteStore) RecordVisit(ctx context.Context, v *VisitRecord, dedupe time.Duration) (bool, error) {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}

	if dedupe > 0 {
		var last sql.NullInt64
		if err := s.lastVisit.QueryRowContext(ctx, v.NormalizedURL).Scan(&last); err != nil {
			return false, fmt.Errorf("last visit: %w", err)
		}
		if last.Valid {
			d := v.Timestamp.UnixMilli() - last.Int64
			if d >= 0 && d < dedupe.Milliseconds() {
				return false, nil
			}
		}
	}

	v.ID = uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.StmtContext(ctx, s.insertVisit).ExecContext(ctx,
		v.ID, v.Timestamp.UnixMilli(), v.URL, v.NormalizedURL, v.Hostname, v.Title, v.TabID,
	); err != nil {
		return false, fmt.Errorf("insert visit: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO visits_fts (visit_id, title, url) VALUES (?, ?, ?)",
		v.ID, v.Title, v.URL,
	); err != nil {
		return false, fmt.Errorf("insert FTS: %w", err)
	}

	return true, tx.Commit()
}

// QueryVisits returns visits in [start, end] grouped by normalized URL,
// most recent first, capped at limit.
func (s *SQLiteStore) QueryVisits(ctx context.Context, start, end time.Time, limit int) ([]VisitSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.normalized_url,
		       (SELECT url   FROM visits x WHERE x.normalized_url = v.normalized_url ORDER BY ts DESC LIMIT 1),
		       (SELECT title FROM visits x WHERE x.normalized_url = v.normalized_url ORDER BY length(title) DESC LIMIT 1),
		       MAX(v.ts), COUNT(*)
		FROM visits v
		WHERE v.ts >= ? AND v.ts <= ?
		GROUP BY v.normalized_url
		ORDER BY MAX(v.ts) DESC
		LIMIT ?
	`, start.UnixMilli(), end.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	out := []VisitSummary{}
	for rows.Next() {
		var vs VisitSummary
		var last int64
		if err := rows.Scan(&vs.NormalizedURL, &vs.URL, &vs.Title, &last, &vs.VisitCount); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		vs.LastVisitTime = time.UnixMilli(last)
		out = append(out, vs)
	}
	return out, rows.Err()
}

// ftsQuery converts a user search string into an FTS4 prefix query.
// Each word becomes a prefix token joined with OR.
func ftsQuery(input string) string {
	var parts []string
	for _, w := range strings.Fields(input) {
		w = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, w)
		if w != "" {
			parts = append(parts, w+"*")
		}
	}
	return strings.Join(parts, " OR ")
}

// SearchVisits runs a keyword search over visited titles and URLs. An
// empty query lists visits newest first.
func (s *SQLiteStore) SearchVisits(ctx context.Context, q SearchQuery) ([]VisitRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var clauses []string
	var args []interface{}

	base := `
		SELECT v.id, v.ts, v.url, v.normalized_url, v.hostname, v.title, v.tab_id
		FROM visits v
	`
	if match := ftsQuery(q.Query); match != "" {
		clauses = append(clauses, "v.id IN (SELECT visit_id FROM visits_fts WHERE visits_fts MATCH ?)")
		args = append(args, match)
	}
	if q.Hostname != "" {
		clauses = append(clauses, "v.hostname = ?")
		args = append(args, q.Hostname)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "v.ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "v.ts <= ?")
		args = append(args, q.Until.UnixMilli())
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	full := base + where + " ORDER BY v.ts DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, full, args...)
	if err != nil {
		return nil, fmt.Errorf("search visits: %w", err)
	}
	defer rows.Close()

	out := []VisitRecord{}
	for rows.Next() {
		var v VisitRecord
		var ts int64
		if err := rows.Scan(&v.ID, &ts, &v.URL, &v.NormalizedURL, &v.Hostname, &v.Title, &v.TabID); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		v.Timestamp = time.UnixMilli(ts)
		out = append(out, v)
	}
	return out, rows.Err()
}

// PruneVisits deletes visits older than cutoff.
func (s *SQLiteStore) PruneVisits(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteVisits(ctx, "ts < ?", cutoff.UnixMilli())
}

// DeleteVisitsForHost deletes visits to host and its subdomains.
func (s *SQLiteStore) DeleteVisitsForHost(ctx context.Context, host string) (int64, error) {
	return s.deleteVisits(ctx, "hostname = ? OR hostname LIKE ?", host, "%."+host)
}

// DeleteVisitsForURL deletes visits of one normalized URL.
func (s *SQLiteStore) DeleteVisitsForURL(ctx context.Context, normalizedURL string) (int64, error) {
	return s.deleteVisits(ctx, "normalized_url = ?", normalizedURL)
}

// DeleteVisitsBetween deletes visits in [start, end).
func (s *SQLiteStore) DeleteVisitsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	return s.deleteVisits(ctx, "ts >= ? AND ts < ?", start.UnixMilli(), end.UnixMilli())
}

func (s *SQLiteStore) deleteVisits(ctx context.Context, where string, args ...interface{}) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM visits_fts WHERE visit_id IN (SELECT id FROM visits WHERE "+where+")", args...,
	); err != nil {
		return 0, fmt.Errorf("delete FTS: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM visits WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete visits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// ── Audit log ───────────────────────────────────────────────────

// Audit appends an entry to the audit log.
func (s *SQLiteStore) Audit(ctx context.Context, action, subject, detail string) error {
	if _, err := s.insertAudit.ExecContext(ctx, action, subject, detail, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// AuditEntries returns the most recent audit entries for action, or all
// actions when action is empty.
func (s *SQLiteStore) AuditEntries(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, action, subject, detail, ts FROM audit_log"
	var args []interface{}
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Action, &e.Subject, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Maintenance ─────────────────────────────────────────────────

// PurgeAll deletes every blob and visit. The audit log is kept.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	stmts := []string{
		"DELETE FROM visits_fts",
		"DELETE FROM visits",
		"DELETE FROM kv",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	if len(keys) > 0 {
		s.watchers.notify(ChangeEvent{Keys: keys, Area: "local"})
	}
	return nil
}

// GetStats returns database-level statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits").Scan(&stats.TotalVisits); err != nil {
		return nil, fmt.Errorf("count visits: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&stats.TotalKeys); err != nil {
		return nil, fmt.Errorf("count keys: %w", err)
	}

	if stats.TotalVisits > 0 {
		var oldest, newest int64
		err := s.db.QueryRowContext(ctx, "SELECT MIN(ts), MAX(ts) FROM visits").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("visit time range: %w", err)
		}
		stats.OldestVisit = time.UnixMilli(oldest)
		stats.NewestVisit = time.UnixMilli(newest)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.getValue, s.setValue, s.insertVisit, s.lastVisit, s.insertAudit,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
