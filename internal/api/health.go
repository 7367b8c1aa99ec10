package api

import (
	"context"
	"net/http"
	"time"

	"github.com/seantiz/taskd/internal/engine"
)

const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status     string `json:"status"`
	ServiceID  string `json:"service_id"`
	APIVersion string `json:"api_version"`
	Database   string `json:"database"`
}

// handleHealthz reports ok while the database answers a ping, and 503
// otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		ServiceID:  engine.OwnerSelf,
		APIVersion: s.engine.APIVersion(),
		Database:   s.db.Dialect().String(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("healthz: database ping failed", "error", err)
		resp.Status = "unavailable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
