package api

import "net/http"

type listComponentsResponse struct {
	Components []string `json:"components"`
}

func (s *Server) handleListComponents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listComponentsResponse{Components: s.registry.Names()})
}
