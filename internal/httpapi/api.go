// Package httpapi exposes the verification pipeline over HTTP and gRPC.
package httpapi

import (
	"context"
	"net/http"

	"openway.dev/internal/access"
	"openway.dev/internal/auth"
	"openway.dev/internal/obs"
	"openway.dev/internal/retention"
)

const (
	serviceName = "openway-api"

	DefaultMaxBodyBytes = 16 << 10
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	pipeline *access.Pipeline
	ready    Pinger
	version  string

	purger *retention.Purger
	tokens *auth.Tokens

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
}

type Option func(*API)

// WithAdmin enables the operator endpoints, guarded by tokens.
func WithAdmin(purger *retention.Purger, tokens *auth.Tokens) Option {
	return func(a *API) {
		a.purger = purger
		a.tokens = tokens
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithAdminRateLimit sets the per-IP budget of operator endpoints.
func WithAdminRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

func New(pipeline *access.Pipeline, ready Pinger, version string, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		pipeline:     pipeline,
		ready:        ready,
		version:      version,
		maxBodyBytes: DefaultMaxBodyBytes,
		rateBurst:    10,
		ratePerSec:   5,
	}
	for _, opt := range opts {
		opt(a)
	}

	verify := MaxBodyBytes(http.HandlerFunc(a.Verify), a.maxBodyBytes)
	a.mux.Handle("/verify", verify)
	a.mux.Handle("/api/v1/access/verify", verify)

	a.mux.HandleFunc("/health", a.Health)
	a.mux.HandleFunc("/healthz", a.Health)
	a.mux.HandleFunc("/ready", a.Ready)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	if a.purger != nil && a.tokens != nil {
		admin := a.withAdmin(http.HandlerFunc(a.PurgeAudit))
		a.mux.Handle("/admin/audit/purge", RateLimit(admin, a.rateBurst, a.ratePerSec))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(LoggingJSON(SecurityHeaders(a.mux))))
}
