package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"openway.dev/internal/auth"
	"openway.dev/internal/obs"
	"openway.dev/internal/oplog"
	"openway.dev/internal/retention"
)

// withAdmin requires a valid bearer token carrying the admin role.
func (a *API) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.tokens.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		if !auth.HasRole(ctx, auth.RoleAdmin) {
			writeError(w, r, http.StatusForbidden, auth.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PurgeAudit deletes audit events older than ?days= (default 90).
func (a *API) PurgeAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	days := retention.DefaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	res, err := a.purger.Purge(r.Context(), days)
	if err != nil {
		if errors.Is(err, retention.ErrNegativeDays) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		obs.Error("audit purge failed", err, map[string]any{"request_id": oplog.RequestID(r.Context())})
		writeError(w, r, http.StatusInternalServerError, "purge failed")
		return
	}
	_ = oplog.Record(r.Context(), "audit.purge", map[string]any{
		"days":    days,
		"cutoff":  res.Cutoff.Format(time.RFC3339),
		"deleted": res.Deleted,
	})
	writeJSON(w, http.StatusOK, res)
}
