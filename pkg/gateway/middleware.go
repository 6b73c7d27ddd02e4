package gateway

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// statusRecorder captures the status code while keeping the streaming and
// hijacking abilities of the wrapped writer.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withRequestContext tags the request with a trace id and a request id,
// echoing the request id back. It also records the request metrics.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID, _ = gonanoid.New()
		}
		w.Header().Set("X-Request-Id", requestID)

		ctx := tracing.WithRequestID(tracing.NewRequestContext(r.Context()), requestID)
		ctx = withClientID(ctx, clientIP(r))
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				panicLogger := tracing.LoggerFromContext(ctx, s.logger)
				panicLogger.Error().
					Str("panic", fmt.Sprint(p)).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				if rec.status == 0 {
					writeDetail(rec, http.StatusInternalServerError, detailInternal)
				}
			}

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			duration := time.Since(start)
			observability.RecordHTTPRequest(route, rec.status, duration)
			requestLogger := tracing.LoggerFromContext(ctx, s.logger)
			requestLogger.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", rec.status).
				Dur("duration", duration).
				Msg("Request completed")
		}()

		next.ServeHTTP(rec, r)
	})
}

// withCORS answers preflight requests and tags responses for the allowed
// origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
				w.Header().Set("Access-Control-Allow-Headers", h)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Verify(r.Header.Get("Authorization")) {
			observability.RecordSecurityAudit(r.Context(), "bearer_auth", clientIDFromContext(r.Context()), "failure",
				map[string]interface{}{"path": r.URL.Path})
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, detailUnauthorized)
			return
		}
		next(w, r)
	}
}

// limit applies the per-client rate limits and tracks the request as in
// flight for graceful shutdown.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeDetail(w, http.StatusServiceUnavailable, detailShuttingDown)
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		client := clientIDFromContext(r.Context())
		release, reason, retryAfter := s.limiter.Acquire(client)
		if release == nil {
			requests, inFlight := s.limiter.Stats(client)
			limitLogger := tracing.LoggerFromContext(r.Context(), s.logger)
			limitLogger.Warn().
				Str("client", client).
				Str("reason", reason).
				Int("retryAfter", retryAfter).
				Int("requests", requests).
				Int("inFlight", inFlight).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeDetail(w, http.StatusTooManyRequests, detailTooManyRequests)
			return
		}
		defer release()

		next(w, r)
	}
}
