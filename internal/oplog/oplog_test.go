package oplog

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"openway.dev/internal/auth"
	"openway.dev/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestRecord(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	claims := &auth.Claims{Roles: []string{"admin"}}
	claims.Subject = "operator-7"
	ctx = auth.ContextWithClaims(ctx, claims)

	if err := Record(ctx, "audit.purge", map[string]any{"days": 30}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["type"] != "operator_action" || entry["action"] != "audit.purge" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if id, _ := entry["id"].(string); len(id) != 26 {
		t.Fatalf("expected a ULID action id, got %v", entry["id"])
	}
	if entry["request_id"] != "req-123" || entry["actor"] != "operator-7" {
		t.Fatalf("context not carried: %v", entry)
	}
	details, ok := entry["details"].(map[string]any)
	if !ok || details["days"] != float64(30) {
		t.Fatalf("details missing: %v", entry["details"])
	}
}

func TestRecordLocalActor(t *testing.T) {
	buf := captureLog(t)
	if err := Record(context.Background(), "provision.apply", nil); err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	_ = json.Unmarshal(buf.Bytes(), &entry)
	if entry["actor"] != "local" {
		t.Fatalf("unexpected actor: %v", entry["actor"])
	}
	if err := Record(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for blank action")
	}
}
