package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/session"
	"github.com/harun/agentgate/pkg/stream"
)

// Stream outcomes recorded in metrics.
const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// prepare validates req and resolves it into a turn for agentName.
func (s *Server) prepare(ctx context.Context, agentName string, req session.Request) (*session.Turn, error) {
	if req.Model != "" && !s.models.Has(req.Model) {
		return nil, &RequestError{Detail: fmt.Sprintf("unknown model: %s", req.Model)}
	}
	return s.resolver.Prepare(ctx, agentName, req)
}

func (s *Server) agentFromPath(r *http.Request) string {
	if name := r.PathValue("agent"); name != "" {
		return name
	}
	return s.registry.Default()
}

// handleStream runs one turn and streams its frames as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := s.streamBody.DecodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	turn, err := s.prepare(r.Context(), s.agentFromPath(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(s.runContext(r.Context(), turn))
	defer cancel()

	w.Header().Set("X-Run-Id", turn.Identity.RunID)
	w.Header().Set("X-Thread-Id", turn.Identity.ThreadID)
	w.Header().Set("X-User-Id", turn.Identity.UserID)
	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := turn.Runtime.Stream(ctx, turn.Input, turn.Config)
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Error().Err(err).Msg("Failed to start run")
		observability.StreamStarted(turn.Agent)(outcomeError)
		if err := rejectInBand(sse, stream.InternalServerError); err != nil {
			logger.Debug().Err(err).Msg("Failed to report run start failure")
		}
		return
	}

	s.pump(ctx, turn, req, run, sse)
}

func (s *Server) runContext(ctx context.Context, turn *session.Turn) context.Context {
	return tracing.NewRunContext(ctx, turn.Agent, turn.Identity.RunID, turn.Identity.ThreadID, turn.Identity.UserID)
}

// pump forwards run to w and records the stream outcome.
func (s *Server) pump(ctx context.Context, turn *session.Turn, req session.Request, run *agent.Run, w stream.FrameWriter) {
	finish := observability.StreamStarted(turn.Agent)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Bool("resume", turn.Input.IsResume()).
		Str("model", turn.Config.Model).
		Msg("Stream started")

	err := s.mux.Pump(ctx, run, stream.NewEncoder(w), stream.Options{
		RunID:        turn.Identity.RunID,
		Request:      req.Message,
		StreamTokens: req.TokensEnabled(),
	})

	outcome := outcomeOK
	switch {
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		outcome = outcomeCancelled
	case err != nil:
		outcome = outcomeError
	case run.Err() != nil:
		outcome = outcomeError
	}
	finish(outcome)

	event := logger.Info()
	if outcome == outcomeError {
		event = logger.Warn().Err(err)
	}
	event.Str("outcome", outcome).Msg("Stream finished")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var req HistoryRequest
	if err := s.historyBody.DecodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	messages, err := s.history.Read(r.Context(), req.ThreadID, req.AgentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: messages})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.index.Users(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.index.Threads(r.Context(), r.PathValue("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ServiceMetadata{
		Agents:       s.registry.Infos(),
		Models:       s.models.Sorted(),
		DefaultAgent: s.registry.Default(),
		DefaultModel: s.models.Default,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
