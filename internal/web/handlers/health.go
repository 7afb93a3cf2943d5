package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/cin-capture/internal/cinapi"
	"github.com/kozaktomas/cin-capture/internal/record"
)

// HealthChecker reports the status of the persistence service.
type HealthChecker interface {
	Health(ctx context.Context) (*cinapi.Health, error)
}

// UpstreamHealth returns the persistence service status and totals.
func UpstreamHealth(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := checker.Health(r.Context())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, record.UserMessage(record.NewCollaboratorError(record.OpHealth, err)))
			return
		}
		respondJSON(w, http.StatusOK, h)
	}
}
