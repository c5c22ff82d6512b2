package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"openway.dev/internal/access"
)

func TestInTxDiscardsEventsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx access.Tx) error {
		_ = tx.InsertAuditEvent(ctx, &access.AuditEvent{ID: "a", Reason: access.ReasonOK})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(s.Events()); n != 0 {
		t.Fatalf("rolled back event was kept: %d", n)
	}

	if err := s.InTx(ctx, func(tx access.Tx) error {
		return tx.InsertAuditEvent(ctx, &access.AuditEvent{ID: "b", Reason: access.ReasonOK})
	}); err != nil {
		t.Fatal(err)
	}
	if ev := s.Events(); len(ev) != 1 || ev[0].ID != "b" {
		t.Fatalf("unexpected events: %+v", ev)
	}
}

func TestGrantExistsThroughGroup(t *testing.T) {
	s := New()
	ctx := context.Background()
	gate, _ := s.UpsertGate(ctx, access.Gate{Code: "g"})
	acct, _ := s.UpsertAccount(ctx, "eve", true)
	grp, _ := s.UpsertGroup(ctx, "night-shift")
	_ = s.UpsertGrant(ctx, access.Grant{GateID: gate.ID, GroupID: &grp, Allow: true})

	var before, after bool
	_ = s.InTx(ctx, func(tx access.Tx) error {
		before, _ = tx.GrantExists(ctx, gate.ID, acct.ID)
		return nil
	})
	if err := s.AddMember(ctx, acct.ID, grp); err != nil {
		t.Fatal(err)
	}
	_ = s.InTx(ctx, func(tx access.Tx) error {
		after, _ = tx.GrantExists(ctx, gate.ID, acct.ID)
		return nil
	})
	if before || !after {
		t.Fatalf("membership not honored: before=%v after=%v", before, after)
	}
}

func TestUpsertsAreIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	g1, _ := s.UpsertGate(ctx, access.Gate{Code: "gate-01", Name: "old"})
	g2, _ := s.UpsertGate(ctx, access.Gate{Code: "gate-01", Name: "new"})
	if g1.ID != g2.ID {
		t.Fatalf("gate id changed on upsert: %d vs %d", g1.ID, g2.ID)
	}
	a1, _ := s.UpsertAccount(ctx, "demo", true)
	a2, _ := s.UpsertAccount(ctx, "demo", false)
	if a1.ID != a2.ID || a2.Active {
		t.Fatalf("account upsert wrong: %+v %+v", a1, a2)
	}
	if err := s.UpsertGrant(ctx, access.Grant{GateID: g1.ID}); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	if _, err := s.UpsertDevice(ctx, access.Device{AccountID: 999, Token: "x"}); err == nil {
		t.Fatal("expected unknown account error")
	}
}

func TestDeleteAuditEventsBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = s.InsertAuditEvent(ctx, &access.AuditEvent{ID: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	n, err := s.DeleteAuditEventsBefore(ctx, base.Add(3*time.Hour), 2)
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, _ = s.DeleteAuditEventsBefore(ctx, base.Add(3*time.Hour), 2)
	if n != 1 {
		t.Fatalf("second batch: n=%d", n)
	}
	ev := s.Events()
	if len(ev) != 2 || ev[0].ID != "d" {
		t.Fatalf("unexpected survivors: %+v", ev)
	}
}

func TestPasswordHistoryNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, _ := s.UpsertAccount(ctx, "demo", true)
	for _, h := range []string{"h1", "h2", "h3"} {
		_ = s.ChangePassword(ctx, a.ID, h)
	}
	hist, _ := s.PasswordHistory(ctx, a.ID, 2)
	if len(hist) != 2 || hist[0] != "h3" || hist[1] != "h2" {
		t.Fatalf("unexpected history: %v", hist)
	}
	if h, _ := s.PasswordHash(ctx, a.ID); h != "h3" {
		t.Fatalf("current hash not updated")
	}
}
