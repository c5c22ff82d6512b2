package httpapi

import (
	"io"
	"net/http"

	"openway.dev/internal/obs"
	"openway.dev/internal/oplog"
)

// Verify always answers 200: every failure is a DENY with a reason code.
// Anything other than a readable POST body is judged as an empty request.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Method == http.MethodPost && r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			obs.Log("warn", "verify body unreadable", map[string]any{
				"request_id": oplog.RequestID(r.Context()),
				"error":      err.Error(),
			})
		} else {
			body = data
		}
	}
	res := a.pipeline.Verify(r.Context(), body, oplog.RequestID(r.Context()))
	writeJSON(w, http.StatusOK, res)
}
