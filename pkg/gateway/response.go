package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/session"
	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/rs/zerolog"
)

// Client-facing error details.
const (
	detailThreadNotFound  = "Thread not found or no messages available."
	detailNoThreads       = "Thread IDs not found for the given user ID."
	detailNoUsers         = "No user IDs found."
	detailAgentNotFound   = "Agent not found."
	detailInternal        = "Internal server error"
	detailUnauthorized    = "Not authenticated"
	detailShuttingDown    = "Server is shutting down"
	detailTooManyRequests = "Too many requests"
)

// statusFor maps an error to a status code and a client-safe detail.
func statusFor(err error) (int, string) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusUnprocessableEntity, reqErr.Detail
	case errors.Is(err, session.ErrConfigConflict), errors.Is(err, threadindex.ErrInvalidKey):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, session.ErrThreadNotFound):
		return http.StatusNotFound, detailThreadNotFound
	case errors.Is(err, threadindex.ErrUserNotFound):
		return http.StatusNotFound, detailNoThreads
	case errors.Is(err, threadindex.ErrEmpty):
		return http.StatusNotFound, detailNoUsers
	case errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound, detailAgentNotFound
	default:
		return http.StatusInternalServerError, detailInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeError logs err and writes its mapped response. Server errors are
// logged at error level, client errors at debug.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	logger := tracing.LoggerFromContext(r.Context(), s.logger)

	var event *zerolog.Event
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	} else {
		event = logger.Debug()
	}
	event.Err(err).
		Int("status", status).
		Str("path", r.URL.Path).
		Msg("Request failed")

	writeDetail(w, status, detail)
}
