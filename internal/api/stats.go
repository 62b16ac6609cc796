package api

import (
	"net/http"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total   int                               `json:"total"`
	ByState map[model.State]int            `json:"by_state"`
	ByKind  map[string]map[model.State]int `json:"by_kind"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	byKind, err := s.svc.Stats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := statsResponse{ByState: make(map[model.State]int), ByKind: byKind}
	for _, states := range byKind {
		for state, n := range states {
			resp.ByState[state] += n
			resp.Total += n
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
