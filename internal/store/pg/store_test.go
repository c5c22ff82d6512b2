package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"openway.dev/internal/access"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInTxLookupsAndAudit(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("select id, code, name, location\\s+from gates").WithArgs("gate-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "location"}).AddRow(7, "gate-01", "Main", "Lobby"))
	mock.ExpectQuery("from devices d\\s+join accounts a").WithArgs("device-token-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "name", "android_device_id", "is_active", "username", "is_active"}).
			AddRow(3, 11, "pixel", "and-1", true, "demo", true))
	mock.ExpectQuery("select exists\\(").WithArgs(int64(7), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("^savepoint audit_insert$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into audit_events").
		WithArgs("01J0000000000000000000000A", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "ALLOW", "OK", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("^release savepoint audit_insert$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.InTx(ctx, func(tx access.Tx) error {
		g, err := tx.GateByCode(ctx, "gate-01")
		if err != nil {
			return err
		}
		d, a, err := tx.DeviceByToken(ctx, "device-token-1")
		if err != nil {
			return err
		}
		if d.ID != 3 || a.ID != 11 || !a.Active || !d.Active {
			t.Fatalf("unexpected device scan: %+v %+v", d, a)
		}
		ok, err := tx.GrantExists(ctx, g.ID, a.ID)
		if err != nil || !ok {
			t.Fatalf("grant exists: %v %v", ok, err)
		}
		return tx.InsertAuditEvent(ctx, &access.AuditEvent{
			ID:        "01J0000000000000000000000A",
			CreatedAt: time.Now(),
			GateID:    &g.ID,
			Decision:  access.DecisionAllow,
			Reason:    access.ReasonOK,
			Context:   map[string]any{"gate_id": "gate-01"},
		})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	expectMet(t, mock)
}

func TestAuditFailureRollsBackToSavepoint(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("^savepoint audit_insert$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into audit_events").WillReturnError(errors.New("disk full"))
	mock.ExpectExec("^rollback to savepoint audit_insert$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var auditErr error
	err := s.InTx(ctx, func(tx access.Tx) error {
		auditErr = tx.InsertAuditEvent(ctx, &access.AuditEvent{ID: "x", Decision: access.DecisionDeny, Reason: access.ReasonUnknownGate})
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if auditErr == nil {
		t.Fatal("expected audit error")
	}
	expectMet(t, mock)
}

func TestAuditContextNULIsReplaced(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into audit_events").
		WithArgs("01J0000000000000000000000B", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"ALLOW", "OK", "{\"note\":\"x\uFFFDy\"}").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertAuditEvent(context.Background(), &access.AuditEvent{
		ID:        "01J0000000000000000000000B",
		CreatedAt: time.Now(),
		Decision:  access.DecisionAllow,
		Reason:    access.ReasonOK,
		Context:   map[string]any{"note": "x\x00y"},
	})
	if err != nil {
		t.Fatalf("InsertAuditEvent: %v", err)
	}
	expectMet(t, mock)
}

func TestLookupWithNULSkipsQuery(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.InTx(ctx, func(tx access.Tx) error {
		if _, err := tx.GateByCode(ctx, "gate\x0001"); !errors.Is(err, access.ErrNotFound) {
			t.Fatalf("gate: want ErrNotFound, got %v", err)
		}
		if _, _, err := tx.DeviceByToken(ctx, "token\x00token"); !errors.Is(err, access.ErrNotFound) {
			t.Fatalf("device: want ErrNotFound, got %v", err)
		}
		if _, _, err := tx.SessionByToken(ctx, "token\x00token"); !errors.Is(err, access.ErrNotFound) {
			t.Fatalf("session: want ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	expectMet(t, mock)
}

func TestInTxBeginFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := s.InTx(context.Background(), func(access.Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected begin error without running fn: err=%v called=%v", err, called)
	}
	expectMet(t, mock)
}

func TestLookupNotFound(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("from gates").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("from session_tokens s").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx access.Tx) error {
		if _, err := tx.GateByCode(ctx, "nope"); !errors.Is(err, access.ErrNotFound) {
			t.Fatalf("gate: expected ErrNotFound, got %v", err)
		}
		_, _, err := tx.SessionByToken(ctx, "nope-nope")
		return err
	})
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("session: expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestUpsertGateConflictMapsToErrConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into gates").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "gates_code_key"})

	_, err := s.UpsertGate(context.Background(), access.Gate{Code: "gate-01"})
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectMet(t, mock)
}

func TestUpsertGrantValidatesBeforeQuery(t *testing.T) {
	s, mock := newMock(t)
	if err := s.UpsertGrant(context.Background(), access.Grant{GateID: 1}); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}

	group := int64(4)
	mock.ExpectExec("on conflict \\(gate_id, account_id, group_id\\) do update").
		WithArgs(int64(1), nil, int64(4), true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.UpsertGrant(context.Background(), access.Grant{GateID: 1, GroupID: &group, Allow: true}); err != nil {
		t.Fatalf("UpsertGrant: %v", err)
	}
	expectMet(t, mock)
}

func TestDeleteAuditEventsBefore(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from audit_events").
		WithArgs(sqlmock.AnyArg(), 500).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.DeleteAuditEventsBefore(context.Background(), time.Now().Add(-time.Hour), 500)
	if err != nil || n != 42 {
		t.Fatalf("unexpected result: n=%d err=%v", n, err)
	}
	expectMet(t, mock)
}

func TestChangePassword(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update accounts set password_hash").WithArgs(int64(5), "hash").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into password_history").WithArgs(int64(5), "hash").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.ChangePassword(context.Background(), 5, "hash"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("update accounts set password_hash").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	if err := s.ChangePassword(context.Background(), 6, "hash"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPasswordHash(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select password_hash from accounts where id = \\$1").WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow("h3"))
	mock.ExpectQuery("select password_hash from accounts").WithArgs(int64(6)).WillReturnError(sql.ErrNoRows)

	if h, err := s.PasswordHash(context.Background(), 5); err != nil || h != "h3" {
		t.Fatalf("unexpected hash: %q %v", h, err)
	}
	if _, err := s.PasswordHash(context.Background(), 6); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPasswordHistory(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from password_history").WithArgs(int64(5), 5).
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow("h3").AddRow("h2"))

	hist, err := s.PasswordHistory(context.Background(), 5, 5)
	if err != nil || len(hist) != 2 || hist[0] != "h3" {
		t.Fatalf("unexpected history: %v %v", hist, err)
	}
	expectMet(t, mock)
}
