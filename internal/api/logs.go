package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
)

// handleStreamLogs streams a job log as server-sent events. Entries already
// written are sent first; new ones follow as the worker appends them, until
// the job finishes.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.jobRef(w, r)
	if !ok {
		return
	}

	// Verify the job exists before committing to a stream.
	_, ok, err := s.svc.GetState(r.Context(), ref)
	if err != nil {
		s.logger.Error("get job for logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	errClientGone := errors.New("client gone")
	err = s.svc.Follow(r.Context(), ref, s.followEvery, func(e model.LogEntry) error {
		if err := writeSSEData(w, e.Content); err != nil {
			return errClientGone
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errClientGone) && r.Context().Err() == nil {
			s.logger.Error("follow job logs", "job_id", ref, "error", err)
		}
		return
	}

	_ = writeSSEEvent(w, "done", "stream complete")
	if canFlush {
		flusher.Flush()
	}
}

// logHistoryEntry is a single log entry in the history response.
type logHistoryEntry struct {
	Timestamp float64 `json:"timestamp"`
	Time      string  `json:"time"`
	Content   string  `json:"content"`
}

// logHistoryResponse is the JSON response for GET /v1/jobs/:id/logs/history.
type logHistoryResponse struct {
	JobID   string            `json:"job_id"`
	Entries []logHistoryEntry `json:"entries"`
}

func (s *Server) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.jobRef(w, r)
	if !ok {
		return
	}

	entries, ok, err := s.svc.Logs(r.Context(), ref)
	if err != nil {
		s.logger.Error("get log entries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log entries")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	out := make([]logHistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = logHistoryEntry{
			Timestamp: e.Timestamp,
			Time:      e.Time().Format(time.RFC3339Nano),
			Content:   e.Content,
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		JobID:   ref,
		Entries: out,
	})
}

// writeSSEData writes a log line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
