package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Kinds  int    `json:"kinds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Kinds: len(s.svc.Kinds())})
}
