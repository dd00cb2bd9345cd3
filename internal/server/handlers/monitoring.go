package handlers

import (
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/server/responses"
)

// Health serves the liveness probe.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, responses.HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
		})
	}
}
