package pg

import (
	"context"
	"strings"

	"openway.dev/internal/access"
)

const auditSavepoint = "audit_insert"

// verifyTx implements access.Tx over one transaction.
type verifyTx struct {
	q querier
	// savepoint guards the audit insert so a failed write does not poison
	// the surrounding transaction.
	savepoint bool
}

// hasNUL guards lookups: a NUL parameter is a protocol error in Postgres and
// would abort the transaction before the audit insert.
func hasNUL(s string) bool { return strings.IndexByte(s, 0) >= 0 }

func (t *verifyTx) GateByCode(ctx context.Context, code string) (access.Gate, error) {
	if hasNUL(code) {
		return access.Gate{}, access.ErrNotFound
	}
	var g access.Gate
	err := t.q.QueryRowContext(ctx, `
		select id, code, name, location
		from gates
		where code = $1
	`, code).Scan(&g.ID, &g.Code, &g.Name, &g.Location)
	if err != nil {
		return access.Gate{}, mapErr(err)
	}
	return g, nil
}

func (t *verifyTx) DeviceByToken(ctx context.Context, token string) (access.Device, access.Account, error) {
	if hasNUL(token) {
		return access.Device{}, access.Account{}, access.ErrNotFound
	}
	var (
		d access.Device
		a access.Account
	)
	err := t.q.QueryRowContext(ctx, `
		select d.id, d.account_id, d.name, d.android_device_id, d.is_active, a.username, a.is_active
		from devices d
		join accounts a on a.id = d.account_id
		where d.auth_token = $1
	`, token).Scan(&d.ID, &d.AccountID, &d.Name, &d.AndroidDeviceID, &d.Active, &a.Username, &a.Active)
	if err != nil {
		return access.Device{}, access.Account{}, mapErr(err)
	}
	d.Token = token
	a.ID = d.AccountID
	return d, a, nil
}

func (t *verifyTx) SessionByToken(ctx context.Context, token string) (access.Session, access.Account, error) {
	if hasNUL(token) {
		return access.Session{}, access.Account{}, access.ErrNotFound
	}
	var (
		s access.Session
		a access.Account
	)
	err := t.q.QueryRowContext(ctx, `
		select s.account_id, s.is_active, a.username, a.is_active
		from session_tokens s
		join accounts a on a.id = s.account_id
		where s.token = $1
	`, token).Scan(&s.AccountID, &s.Active, &a.Username, &a.Active)
	if err != nil {
		return access.Session{}, access.Account{}, mapErr(err)
	}
	s.Token = token
	a.ID = s.AccountID
	return s, a, nil
}

// GrantExists checks direct and group grants in one round trip.
func (t *verifyTx) GrantExists(ctx context.Context, gateID, accountID int64) (bool, error) {
	var ok bool
	err := t.q.QueryRowContext(ctx, `
		select exists(
			select 1
			from grants g
			where g.gate_id = $1
			  and g.allow
			  and (g.account_id = $2
			       or g.group_id in (select m.group_id from account_groups m where m.account_id = $2))
		)
	`, gateID, accountID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (t *verifyTx) InsertAuditEvent(ctx context.Context, ev *access.AuditEvent) error {
	if !t.savepoint {
		return insertAuditEvent(ctx, t.q, ev)
	}
	if _, err := t.q.ExecContext(ctx, "savepoint "+auditSavepoint); err != nil {
		return err
	}
	if err := insertAuditEvent(ctx, t.q, ev); err != nil {
		if _, rbErr := t.q.ExecContext(ctx, "rollback to savepoint "+auditSavepoint); rbErr != nil {
			return rbErr
		}
		return err
	}
	_, err := t.q.ExecContext(ctx, "release savepoint "+auditSavepoint)
	return err
}
