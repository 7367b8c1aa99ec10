package api

import (
	"net/http"

	"github.com/seantiz/taskd/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
	Scripts int            `json:"scripts"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	// A one-item page is enough to learn the total.
	scripts, err := s.scripts.Find(r.Context(), store.ScriptFilter{Pagination: store.Pagination{Size: 1}})
	if err != nil {
		s.logger.Error("count scripts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:   stats.Total,
		ByState: stats.CountByState,
		Scripts: scripts.Total,
	})
}
