package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vokal-ai/livebridge/pkg/relay/sessions"
)

// HealthHandler serves /healthz.
type HealthHandler struct {
	Sessions *sessions.Tracker
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": h.Sessions.Count(),
	})
}
