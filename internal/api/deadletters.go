package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-pubsub/internal/deadletter"
)

// handleListDeadLetters returns a page of journalled messages.
//
// Query parameters: destination, reason, limit, offset.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeNotFound(w, "dead-letter journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := deadletter.Filter{
		Destination: q.Get("destination"),
		Reason:      q.Get("reason"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.deadLetters.List(r.Context(), filter)
	if err != nil {
		requestLogger(r.Context(), s.logger).Error("listing dead letters failed", "error", err)
		writeInternalError(w, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePurgeDeadLetters deletes letters older than the RFC 3339 "before"
// query parameter.
func (s *Server) handlePurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeNotFound(w, "dead-letter journal is disabled")
		return
	}

	raw := r.URL.Query().Get("before")
	if raw == "" {
		writeBadRequest(w, "before is required")
		return
	}
	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeBadRequest(w, "before must be an RFC 3339 timestamp")
		return
	}

	n, err := s.deadLetters.Purge(r.Context(), before)
	if err != nil {
		requestLogger(r.Context(), s.logger).Error("purging dead letters failed", "error", err)
		writeInternalError(w, "failed to purge dead letters")
		return
	}

	requestLogger(r.Context(), s.logger).Info("dead letters purged", "count", n, "before", before)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
