// Package pg is the PostgreSQL store behind the verification pipeline,
// provisioning, password management and audit retention.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"openway.dev/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InTx runs one verification inside a transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx access.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&verifyTx{q: tx, savepoint: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertAuditEvent writes an event outside any verification transaction.
func (s *Store) InsertAuditEvent(ctx context.Context, ev *access.AuditEvent) error {
	return insertAuditEvent(ctx, s.db, ev)
}

// DeleteAuditEventsBefore removes at most limit events older than cutoff,
// oldest first, skipping rows locked by concurrent purges.
func (s *Store) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from audit_events
		where id in (
			select id from audit_events
			where created_at < $1
			order by created_at
			limit $2
			for update skip locked
		)
	`, cutoff.UTC(), limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertAuditEvent stores ev. jsonb rejects \u0000, so NULs in the context
// are replaced rather than letting the insert fail.
func insertAuditEvent(ctx context.Context, q querier, ev *access.AuditEvent) error {
	payload, err := json.Marshal(access.SanitizeContext(ev.Context))
	if err != nil {
		return fmt.Errorf("encode audit context: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		insert into audit_events(id, created_at, gate_id, account_id, device_id, decision, reason, context)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.CreatedAt.UTC(), nullID(ev.GateID), nullID(ev.AccountID), nullID(ev.DeviceID),
		string(ev.Decision), string(ev.Reason), string(payload))
	return mapErr(err)
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", access.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", access.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
