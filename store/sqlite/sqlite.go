// Package sqlite is a single-file principal repository and authentication
// log on the pure Go SQLite driver. It backs `gogate serve --dev` and small
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/store"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id                    TEXT PRIMARY KEY,
	kind                  TEXT NOT NULL DEFAULT 'Website User',
	enabled               TEXT NOT NULL DEFAULT '1',
	password_hash         TEXT NOT NULL DEFAULT '',
	username              TEXT UNIQUE,
	mobile_no             TEXT UNIQUE,
	email                 TEXT NOT NULL DEFAULT '',
	first_name            TEXT NOT NULL DEFAULT '',
	last_name             TEXT NOT NULL DEFAULT '',
	user_image            TEXT NOT NULL DEFAULT '',
	restrict_ip           TEXT NOT NULL DEFAULT '',
	login_before          TEXT NOT NULL DEFAULT '',
	login_after           TEXT NOT NULL DEFAULT '',
	simultaneous_sessions TEXT NOT NULL DEFAULT '',
	otp_secret            TEXT NOT NULL DEFAULT '',
	last_login            TEXT NOT NULL DEFAULT '',
	last_ip               TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS auth_events (
	id         TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	tenant_id  TEXT NOT NULL DEFAULT '',
	principal  TEXT NOT NULL,
	operation  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	ip         TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS auth_events_failures
	ON auth_events (tenant_id, principal, outcome, ts);
CREATE INDEX IF NOT EXISTS auth_events_ts ON auth_events (ts);
`

// Store implements principal.Repository, principal.SystemUserCounter,
// audit.Log, audit.FailureCounter and audit.Purger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; an in-memory database also lives on a single
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

/*
====================================
PRINCIPALS
====================================
*/

// GetFields implements principal.Repository.
func (s *Store) GetFields(ctx context.Context, id string, fields ...string) (principal.Fields, error) {
	if len(fields) == 0 {
		ok, err := s.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, principal.ErrNotFound
		}
		return principal.Fields{}, nil
	}
	cols, err := store.ColumnList(fields)
	if err != nil {
		return nil, err
	}

	vals := make([]string, len(fields))
	dest := make([]any, len(fields))
	for i := range vals {
		dest[i] = &vals[i]
	}
	err = s.db.QueryRowContext(ctx, "SELECT "+cols+" FROM principals WHERE id = ?", id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, principal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}

	out := make(principal.Fields, len(fields))
	for i, f := range fields {
		out[f] = vals[i]
	}
	return out, nil
}

// Exists implements principal.Repository.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM principals WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}
	return true, nil
}

// SetField implements principal.Repository.
func (s *Store) SetField(ctx context.Context, id, field, value string) error {
	col, err := store.Column(field)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE principals SET "+col+" = ? WHERE id = ?", store.Value(field, value), id)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}
	if n == 0 {
		return principal.ErrNotFound
	}
	return nil
}

// FindBy implements principal.Repository.
func (s *Store) FindBy(ctx context.Context, field, value string) (string, bool, error) {
	col, err := store.Column(field)
	if err != nil {
		return "", false, err
	}
	if value == "" {
		return "", false, nil
	}
	var id string
	err = s.db.QueryRowContext(ctx, "SELECT id FROM principals WHERE "+col+" = ? ORDER BY id LIMIT 1", value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}
	return id, true, nil
}

// CountEnabledSystemUsers implements principal.SystemUserCounter.
func (s *Store) CountEnabledSystemUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM principals WHERE "+store.SystemUserPredicate).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}
	return n, nil
}

// Upsert inserts id or replaces every column of an existing row. Fields
// absent from f are reset to their empty value.
func (s *Store) Upsert(ctx context.Context, id string, f principal.Fields) error {
	cols := strings.Join(store.Columns, ", ")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(store.Columns)), ", ")
	updates := make([]string, len(store.Columns))
	for i, c := range store.Columns {
		updates[i] = c + " = excluded." + c
	}
	q := "INSERT INTO principals (id, " + cols + ") VALUES (?, " + marks + ")" +
		" ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")

	args := append([]any{id}, store.Row(f)...)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func mapWriteErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
}

/*
====================================
AUTHENTICATION LOG
====================================
*/

// Append implements audit.Log. Each event commits on its own.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	meta := ""
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_events (id, ts, tenant_id, principal, operation, outcome, reason, ip, session_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Timestamp.UnixMilli(), ev.TenantID, ev.Principal,
		string(ev.Operation), string(ev.Outcome), ev.Reason, ev.IP, ev.SessionID, meta,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return nil
}

// CountFailures implements audit.FailureCounter.
func (s *Store) CountFailures(ctx context.Context, tenantID, principalID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM auth_events
		WHERE tenant_id = ? AND principal = ? AND outcome = ? AND operation <> ? AND ts >= ?`,
		tenantID, principalID, string(audit.OutcomeFailure), string(audit.OperationLogout), since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return n, nil
}

// PurgeBefore implements audit.Purger.
func (s *Store) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM auth_events WHERE ts < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return res.RowsAffected()
}

// Events returns up to limit events for principalID, newest first.
func (s *Store) Events(ctx context.Context, tenantID, principalID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, tenant_id, principal, operation, outcome, reason, ip, session_id, metadata
		FROM auth_events WHERE tenant_id = ? AND principal = ?
		ORDER BY ts DESC, rowid DESC LIMIT ?`, tenantID, principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			ev       audit.Event
			id, meta string
			ts       int64
			op, res  string
		)
		if err := rows.Scan(&id, &ts, &ev.TenantID, &ev.Principal, &op, &res, &ev.Reason, &ev.IP, &ev.SessionID, &meta); err != nil {
			return nil, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
		}
		ev.ID, _ = uuid.Parse(id)
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.Operation = audit.Operation(op)
		ev.Outcome = audit.Outcome(res)
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &ev.Metadata)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return out, nil
}
