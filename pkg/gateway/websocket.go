package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/session"
	"github.com/harun/agentgate/pkg/stream"
	"github.com/rs/zerolog"
)

const wsWriteTimeout = 10 * time.Second

// wsWriter sends each frame payload as one text message. Only the request
// loop of a connection writes, so no locking is needed.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) WriteFrame(payload []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWebSocket serves the stream protocol over a websocket. Every text
// message from the client is a stream request; its frames follow in order,
// ending with the sentinel. Requests on one connection run one at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentName := s.agentFromPath(r)
	if !s.registry.Has(agentName) {
		writeDetail(w, http.StatusNotFound, detailAgentNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	// Hijacked connections do not see client disconnects on the request
	// context; the read loop cancels instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("agent", agentName).Msg("Client connected")

	requests := make(chan []byte)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Error().Err(err).Msg("WebSocket error")
				}
				return
			}
			select {
			case requests <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	out := wsWriter{conn: conn}
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Client disconnected")
			return
		case data, ok := <-requests:
			if !ok {
				logger.Info().Msg("Client disconnected")
				return
			}
			if err := s.serveWSRequest(ctx, agentName, data, out, logger); err != nil {
				logger.Debug().Err(err).Msg("Closing websocket")
				return
			}
		}
	}
}

// serveWSRequest runs one request. Request errors are reported in-band as an
// error frame followed by the sentinel; only transport errors are returned.
func (s *Server) serveWSRequest(ctx context.Context, agentName string, data []byte, out wsWriter, logger zerolog.Logger) error {
	var req session.Request
	turn, err := func() (*session.Turn, error) {
		if err := s.streamBody.Decode(data, &req); err != nil {
			return nil, err
		}
		return s.prepare(ctx, agentName, req)
	}()
	if err != nil {
		_, detail := statusFor(err)
		logger.Debug().Err(err).Msg("Rejected websocket request")
		return rejectInBand(out, detail)
	}

	runCtx, cancel := context.WithCancel(s.runContext(ctx, turn))
	defer cancel()

	run, err := turn.Runtime.Stream(runCtx, turn.Input, turn.Config)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start run")
		return rejectInBand(out, detailInternal)
	}

	s.pump(runCtx, turn, req, run, out)
	return ctx.Err()
}

func rejectInBand(w stream.FrameWriter, detail string) error {
	enc := stream.NewEncoder(w)
	if err := enc.Error(detail); err != nil {
		return fmt.Errorf("failed to write error frame: %w", err)
	}
	return enc.Close()
}
