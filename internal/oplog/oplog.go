// Package oplog records operator actions (purges, provisioning runs) as
// structured log lines, separate from the gate audit trail.
package oplog

import (
	"context"
	"errors"
	"strings"
	"time"

	"openway.dev/internal/auth"
	"openway.dev/internal/ids"
	"openway.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "oplog_request_id"

// WithRequestID attaches the request identifier used by Record.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the identifier set by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Record writes one operator action. The actor is the authenticated
// subject, or "local" for actions run from the command line.
func Record(ctx context.Context, action string, fields map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("oplog: action is required")
	}
	entry := map[string]any{
		"id":     ids.New(),
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "operator_action",
		"action": action,
		"actor":  "local",
	}
	if rid := RequestID(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if sub, ok := auth.SubjectFromContext(ctx); ok {
		entry["actor"] = sub
	}
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	entry["details"] = details
	obs.LogRequest(entry)
	return nil
}
