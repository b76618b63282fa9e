package health

import (
	"encoding/json"
	"net/http"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz reports readiness as JSON. The service stays ready without the
// skymap atlas (calculator and analyzer still work), but the response
// flags the preview as degraded so operators can see the missing asset.
func Readyz(skymapAvailable func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status": "ready",
			"skymap": "available",
		}
		if !skymapAvailable() {
			body["status"] = "degraded"
			body["skymap"] = "unavailable"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(body)
	}
}
