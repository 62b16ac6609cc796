package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createJobRequest is the JSON body for POST /v1/jobs.
type createJobRequest struct {
	Kind string   `json:"kind"`
	Args []string `json:"args"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []jobs.Status `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type kindResponse struct {
	Name       string  `json:"name"`
	Namespace  string  `json:"namespace"`
	Prefix     string  `json:"prefix"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	kinds := s.svc.Kinds()
	out := make([]kindResponse, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, kindResponse{
			Name:       k.Name,
			Namespace:  k.Namespace,
			Prefix:     k.Prefix,
			TTLSeconds: k.TTL.Seconds(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	id, err := s.svc.CreateJob(r.Context(), req.Kind, req.Args)
	if errors.Is(err, task.ErrUnknownKind) {
		s.writeError(w, http.StatusBadRequest, "unknown kind "+strconv.Quote(req.Kind))
		return
	}
	if err != nil && id != "" {
		// The job exists but could not be started.
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error(), "id": id})
		return
	}
	if err != nil {
		s.logger.Error("create job", "kind", req.Kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	jobsCreatedTotal.WithLabelValues(req.Kind).Inc()

	st, ok, err := s.svc.GetState(r.Context(), id)
	if err != nil || !ok {
		s.logger.Error("get created job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.jobRef(w, r)
	if !ok {
		return
	}

	st, ok, err := s.svc.GetState(r.Context(), ref)
	if err != nil {
		s.logger.Error("get job", "job_id", ref, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	all, err := s.svc.ListJobs(r.Context(), r.URL.Query().Get("kind"))
	if errors.Is(err, task.ErrUnknownKind) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	page := all[min(offset, len(all)):min(offset+limit, len(all))]
	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   page,
		Total:  len(all),
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleLatestJob(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	state := model.State(q.Get("state"))
	if state != "" && !state.Known() {
		s.writeError(w, http.StatusBadRequest, "unknown state "+strconv.Quote(string(state)))
		return
	}

	st, ok, err := s.svc.Latest(r.Context(), kind, state)
	if errors.Is(err, task.ErrUnknownKind) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("latest job", "kind", kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get latest job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no matching job")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.jobRef(w, r)
	if !ok {
		return
	}

	err := s.svc.Cancel(r.Context(), ref)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, jobs.ErrNotRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("cancel job", "job_id", ref, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	st, _, err := s.svc.GetState(r.Context(), ref)
	if err != nil {
		s.logger.Error("get cancelled job", "job_id", ref, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

// jobRef returns the {id} URL parameter, which may be a URL-escaped
// instance id.
func (s *Server) jobRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return "", false
	}
	return ref, true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
