// Package postgres is the PostgreSQL principal repository and
// authentication log for multi-node deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/store"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

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
	id         UUID PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	tenant_id  TEXT NOT NULL DEFAULT '',
	principal  TEXT NOT NULL,
	operation  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	ip         TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	metadata   JSONB
);

CREATE INDEX IF NOT EXISTS auth_events_failures
	ON auth_events (tenant_id, principal, outcome, ts);
CREATE INDEX IF NOT EXISTS auth_events_ts ON auth_events (ts);
`

// Store implements principal.Repository, principal.SystemUserCounter,
// audit.Log, audit.FailureCounter and audit.Purger on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// -------- PRINCIPALS --------

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
	err = s.pool.QueryRow(ctx, "SELECT "+cols+" FROM principals WHERE id = $1", id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
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
	var ok bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM principals WHERE id = $1)", id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}
	return ok, nil
}

// SetField implements principal.Repository.
func (s *Store) SetField(ctx context.Context, id, field, value string) error {
	col, err := store.Column(field)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "UPDATE principals SET "+col+" = $1 WHERE id = $2", store.Value(field, value), id)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
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
	err = s.pool.QueryRow(ctx, "SELECT id FROM principals WHERE "+col+" = $1 ORDER BY id LIMIT 1", value).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
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
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM principals WHERE "+store.SystemUserPredicate).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
	}
	return n, nil
}

// Upsert inserts id or replaces every column of an existing row.
func (s *Store) Upsert(ctx context.Context, id string, f principal.Fields) error {
	marks := make([]string, len(store.Columns))
	updates := make([]string, len(store.Columns))
	for i, c := range store.Columns {
		marks[i] = "$" + strconv.Itoa(i+2)
		updates[i] = c + " = EXCLUDED." + c
	}
	q := "INSERT INTO principals (id, " + strings.Join(store.Columns, ", ") + ")" +
		" VALUES ($1, " + strings.Join(marks, ", ") + ")" +
		" ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")

	args := append([]any{id}, store.Row(f)...)
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %v", principal.ErrUnavailable, err)
}

// -------- AUTHENTICATION LOG --------

// Append implements audit.Log.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	var meta map[string]string
	if len(ev.Metadata) > 0 {
		meta = ev.Metadata
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auth_events (id, ts, tenant_id, principal, operation, outcome, reason, ip, session_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.Timestamp.UTC(), ev.TenantID, ev.Principal,
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
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM auth_events
		WHERE tenant_id = $1 AND principal = $2 AND outcome = $3 AND operation <> $4 AND ts >= $5`,
		tenantID, principalID, string(audit.OutcomeFailure), string(audit.OperationLogout), since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return n, nil
}

// PurgeBefore implements audit.Purger.
func (s *Store) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM auth_events WHERE ts < $1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

type eventRow struct {
	ID        uuid.UUID         `db:"id"`
	TS        time.Time         `db:"ts"`
	TenantID  string            `db:"tenant_id"`
	Principal string            `db:"principal"`
	Operation string            `db:"operation"`
	Outcome   string            `db:"outcome"`
	Reason    string            `db:"reason"`
	IP        string            `db:"ip"`
	SessionID string            `db:"session_id"`
	Metadata  map[string]string `db:"metadata"`
}

// Events returns up to limit events for principalID, newest first.
func (s *Store) Events(ctx context.Context, tenantID, principalID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, tenant_id, principal, operation, outcome, reason, ip, session_id, metadata
		FROM auth_events WHERE tenant_id = $1 AND principal = $2
		ORDER BY ts DESC LIMIT $3`, tenantID, principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	got, err := pgx.CollectRows(rows, pgx.RowToStructByName[eventRow])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}

	out := make([]audit.Event, len(got))
	for i, r := range got {
		out[i] = audit.Event{
			ID:        r.ID,
			Timestamp: r.TS.UTC(),
			TenantID:  r.TenantID,
			Principal: r.Principal,
			Operation: audit.Operation(r.Operation),
			Outcome:   audit.Outcome(r.Outcome),
			Reason:    r.Reason,
			IP:        r.IP,
			SessionID: r.SessionID,
			Metadata:  r.Metadata,
		}
	}
	return out, nil
}
