// Package retention deletes audit events past their retention window.
package retention

import (
	"context"
	"errors"
	"time"

	"openway.dev/internal/obs"
)

const (
	DefaultDays      = 90
	DefaultBatchSize = 1000
)

var ErrNegativeDays = errors.New("retention: days must not be negative")

// Store deletes up to limit audit events created before cutoff.
type Store interface {
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type Purger struct {
	store Store
	batch int
	now   func() time.Time
}

type Option func(*Purger)

func WithBatchSize(n int) Option {
	return func(p *Purger) {
		if n > 0 {
			p.batch = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Purger) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPurger(store Store, opts ...Option) *Purger {
	p := &Purger{store: store, batch: DefaultBatchSize, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result reports one purge run.
type Result struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

// Purge deletes every event older than days, in batches. Zero days removes
// everything created before now. Rows deleted before an error stay deleted.
func (p *Purger) Purge(ctx context.Context, days int) (Result, error) {
	if days < 0 {
		return Result{}, ErrNegativeDays
	}
	res := Result{Cutoff: p.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := p.store.DeleteAuditEventsBefore(ctx, res.Cutoff, p.batch)
		if err != nil {
			obs.Error("audit purge batch failed", err, map[string]any{"deleted": res.Deleted})
			return res, err
		}
		res.Deleted += n
		if n < int64(p.batch) {
			break
		}
	}
	obs.Info("audit purge finished", map[string]any{
		"cutoff":  res.Cutoff.Format(time.RFC3339),
		"deleted": res.Deleted,
		"days":    days,
	})
	return res, nil
}
