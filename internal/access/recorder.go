package access

import (
	"context"
	"time"

	"openway.dev/internal/ids"
	"openway.dev/internal/obs"
)

// Recorder appends audit events. A failed write is logged and counted but
// never changes the decision already taken.
type Recorder struct {
	now func() time.Time
}

// NewRecorder builds a Recorder stamping events with now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Record stamps ev with an id and creation time and writes it. It reports
// whether the write succeeded.
func (r *Recorder) Record(ctx context.Context, w AuditWriter, ev *AuditEvent) bool {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}
	if ev.ID == "" {
		ev.ID = ids.At(ev.CreatedAt)
	}
	if ev.Decision == "" {
		ev.Decision = ev.Reason.Decision()
	}
	if ev.Context == nil {
		ev.Context = map[string]any{}
	}
	if err := w.InsertAuditEvent(ctx, ev); err != nil {
		obs.AuditRecordFailed()
		obs.Error("audit record failed", err, map[string]any{
			"audit_id": ev.ID,
			"decision": string(ev.Decision),
			"reason":   string(ev.Reason),
		})
		return false
	}
	return true
}
