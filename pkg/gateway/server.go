package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentgate/internal/config"
	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/session"
	"github.com/harun/agentgate/pkg/stream"
	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/rs/zerolog"
)

// Server is the HTTP front of the agent runtimes.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	allowedOrigins  []string
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	auth            *AuthHandler
	limiter         *RateLimiter
	registry        *agent.Registry
	index           threadindex.Store
	resolver        *session.Resolver
	history         *session.HistoryReader
	mux             *stream.Multiplexer
	streamBody      *BodyValidator
	historyBody     *BodyValidator
	models          config.ModelsConfig
	logger          zerolog.Logger
	baseCtx         context.Context
	cancelBase      context.CancelFunc
	isShuttingDown  bool
	shutdownMu      sync.RWMutex
	inFlightReqs    sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Server         config.ServerConfig
	Models         config.ModelsConfig
	Registry       *agent.Registry
	Index          threadindex.Store
	HistoryDefault string
	Rules          *stream.Rules
	Logger         zerolog.Logger
}

// NewServer creates a new Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("thread index is required")
	}
	if cfg.Rules == nil {
		cfg.Rules = stream.DefaultRules()
	}
	observability.EnsureRegistered()

	streamBody, err := NewBodyValidator(StreamRequestSchema)
	if err != nil {
		return nil, err
	}
	historyBody, err := NewBodyValidator(HistoryRequestSchema)
	if err != nil {
		return nil, err
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	s := &Server{
		addr:            cfg.Server.Addr(),
		shutdownTimeout: shutdownTimeout,
		allowedOrigins:  cfg.Server.AllowedOrigins,
		auth:            NewAuthHandler(cfg.Server.AuthSecret),
		limiter:         NewRateLimiter(cfg.Server.RequestsPerMinute, cfg.Server.MaxConcurrent),
		registry:        cfg.Registry,
		index:           cfg.Index,
		resolver:        session.NewResolver(cfg.Index, cfg.Registry, cfg.Models.Default, cfg.Logger),
		history:         session.NewHistoryReader(cfg.Registry, cfg.HistoryDefault),
		mux:             stream.NewMultiplexer(cfg.Rules, cfg.Logger),
		streamBody:      streamBody,
		historyBody:     historyBody,
		models:          cfg.Models,
		logger:          cfg.Logger,
		baseCtx:         baseCtx,
		cancelBase:      cancelBase,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	return s, nil
}

// Handler returns the routed handler with its middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /stream", s.requireAuth(s.limit(s.handleStream)))
	mux.HandleFunc("POST /{agent}/stream", s.requireAuth(s.limit(s.handleStream)))
	mux.HandleFunc("GET /ws", s.requireAuth(s.limit(s.handleWebSocket)))
	mux.HandleFunc("GET /ws/{agent}", s.requireAuth(s.limit(s.handleWebSocket)))
	mux.HandleFunc("POST /history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /user_id/{$}", s.requireAuth(s.handleUsers))
	mux.HandleFunc("GET /thread_id/{user_id}", s.requireAuth(s.handleThreads))
	mux.HandleFunc("GET /info", s.requireAuth(s.handleInfo))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return s.withRequestContext(s.withCORS(mux))
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop refuses new streams, waits for running ones up to the shutdown
// timeout, then cancels whatever is left and closes the server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight streams completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, cancelling streams")
	}
	s.cancelBase()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
