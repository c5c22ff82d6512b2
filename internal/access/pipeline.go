package access

import (
	"context"
	"errors"
	"time"

	"openway.dev/internal/obs"
	"openway.dev/internal/ratelimit"
)

// RateLimitScope is the limiter key for verification. The budget is shared by
// every caller of the endpoint.
const RateLimitScope = "access_verify"

// DefaultAllowDurationMS is how long a gate stays open after ALLOW.
const DefaultAllowDurationMS int64 = 800

// Result is the answer returned to the caller.
type Result struct {
	Decision   Decision `json:"decision"`
	Reason     Reason   `json:"reason"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
}

// Pipeline runs the ordered verification steps and records exactly one
// audit event per attempt.
type Pipeline struct {
	store         Store
	resolver      Resolver
	limiter       ratelimit.Limiter
	recorder      *Recorder
	now           func() time.Time
	allowDuration int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLimiter enables rate limiting under RateLimitScope.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithAllowDuration overrides the duration_ms returned with ALLOW.
func WithAllowDuration(ms int64) Option {
	return func(p *Pipeline) {
		if ms > 0 {
			p.allowDuration = ms
		}
	}
}

// WithClock replaces time.Now for audit timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline wires a store and a credential resolver.
func NewPipeline(store Store, resolver Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		resolver:      resolver,
		now:           time.Now,
		allowDuration: DefaultAllowDurationMS,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = DeviceTokenResolver{}
	}
	p.recorder = NewRecorder(p.now)
	for _, r := range Reasons {
		obs.PrimeVerify(string(r.Decision()), string(r))
	}
	return p
}

// Verify decides one attempt. It never fails: every problem maps to a DENY
// with a reason, and the attempt is audited before Verify returns.
func (p *Pipeline) Verify(ctx context.Context, body []byte, requestID string) Result {
	start := p.now()
	res := p.verify(ctx, body, requestID)
	obs.ObserveVerify(string(res.Decision), string(res.Reason), p.now().Sub(start))
	return res
}

func (p *Pipeline) verify(ctx context.Context, body []byte, requestID string) Result {
	req, parseErr := ParseRequest(body)
	auditCtx := RedactContext(req)
	if requestID != "" {
		auditCtx["request_id"] = requestID
	}

	if parseErr != nil {
		return p.recordStandalone(ctx, &AuditEvent{Reason: ReasonInvalidRequest, Context: auditCtx})
	}

	if p.limiter != nil {
		if d := p.limiter.Allow(ctx, RateLimitScope); !d.Allowed {
			return p.recordStandalone(ctx, &AuditEvent{Reason: ReasonRateLimit, Context: auditCtx})
		}
	}

	var (
		ev  *AuditEvent
		ran bool
	)
	err := p.store.InTx(ctx, func(tx Tx) error {
		ran = true
		ev = p.evaluate(ctx, tx, req, auditCtx)
		p.recorder.Record(ctx, tx, ev)
		return nil
	})
	switch {
	case err != nil && !ran:
		obs.StoreFault("begin")
		obs.Error("verify transaction failed to start", err, map[string]any{"request_id": requestID})
		auditCtx["fault"] = "begin"
		return p.recordStandalone(ctx, &AuditEvent{Reason: ReasonUnknownGate, Context: auditCtx})
	case err != nil:
		// The staged event went down with the transaction. Write it again on
		// its own; the id is reused, so a commit that did land is not doubled.
		obs.StoreFault("commit")
		obs.Error("verify transaction commit failed", err, map[string]any{
			"request_id": requestID,
			"audit_id":   ev.ID,
		})
		ev.Context["fault"] = "commit"
		return p.recordStandalone(ctx, ev)
	}
	return p.result(ev.Reason)
}

// evaluate runs gate, credential, device state and permission checks in that
// order. A store error at any step denies with that step's reason.
func (p *Pipeline) evaluate(ctx context.Context, tx Tx, req Request, auditCtx map[string]any) *AuditEvent {
	ev := &AuditEvent{Context: auditCtx}

	gate, err := LookupGate(ctx, tx, req.GateID)
	if err != nil {
		p.fault(ev, "gate", err)
		ev.Reason = ReasonUnknownGate
		return ev
	}
	ev.GateID = &gate.ID

	cred, err := p.resolver.Resolve(ctx, tx, req.Token)
	if err != nil {
		p.fault(ev, "credential", err)
		ev.Reason = ReasonTokenInvalid
		return ev
	}
	acctID := cred.Account.ID
	ev.AccountID = &acctID
	ev.DeviceID = cred.DeviceID
	if cred.Inactive {
		ev.Reason = ReasonDeviceInactive
		return ev
	}

	allowed, err := IsAllowed(ctx, tx, cred.Account, gate)
	if err != nil {
		p.fault(ev, "permission", err)
		ev.Reason = ReasonNoPermission
		return ev
	}
	if !allowed {
		ev.Reason = ReasonNoPermission
		return ev
	}
	ev.Reason = ReasonOK
	return ev
}

// fault notes a store failure on the event; plain not-found is not a fault.
func (p *Pipeline) fault(ev *AuditEvent, stage string, err error) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	obs.StoreFault(stage)
	obs.Error("verify lookup failed", err, map[string]any{"stage": stage})
	ev.Context["fault"] = stage
}

func (p *Pipeline) recordStandalone(ctx context.Context, ev *AuditEvent) Result {
	p.recorder.Record(ctx, p.store, ev)
	return p.result(ev.Reason)
}

func (p *Pipeline) result(reason Reason) Result {
	res := Result{Decision: reason.Decision(), Reason: reason}
	if res.Decision == DecisionAllow {
		ms := p.allowDuration
		res.DurationMS = &ms
	}
	return res
}
