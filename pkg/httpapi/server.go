// Package httpapi exposes the translator over a small JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/novellama/internal/observability"
	"github.com/harun/novellama/internal/tracing"
	"github.com/harun/novellama/pkg/translation"
	"github.com/harun/novellama/pkg/translator"
	"github.com/rs/zerolog"
)

// Translator is the session service behind the API.
type Translator interface {
	Translate(ctx context.Context, sessionID, text string) (*translator.Result, error)
	SetSystemPrompt(ctx context.Context, sessionID, prompt string) error
	SetReferences(ctx context.Context, sessionID string, references []string) error
	Context(ctx context.Context, sessionID string) ([]translation.Entry, error)
	Settings() translator.Settings
	ActiveSessions() int
}

// Server is the HTTP API server
type Server struct {
	options        ServerOptions
	server         *http.Server
	translator     Translator
	extra          map[string]http.Handler
	rateLimiter    *RateLimiter
	stats          *StatsTracker
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(options ServerOptions, svc Translator, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 5000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 120
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = 1 << 20
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}

	if svc == nil {
		return nil, fmt.Errorf("translator is required")
	}

	observability.EnsureRegistered()

	return &Server{
		options:     options,
		translator:  svc,
		extra:       make(map[string]http.Handler),
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		stats:       NewStatsTracker(),
		logger:      logger.With().Str("component", "httpapi").Logger(),
		startTime:   time.Now(),
	}, nil
}

// Mount serves handler at pattern alongside the API routes. It must be
// called before Start or Handler.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.extra[pattern] = handler
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/translate", s.route("/api/translate", http.MethodPost, s.handleTranslate))
	mux.HandleFunc("/api/system-prompt", s.route("/api/system-prompt", http.MethodPost, s.handleSystemPrompt))
	mux.HandleFunc("/api/references", s.route("/api/references", http.MethodPost, s.handleReferences))
	mux.HandleFunc("/api/context", s.route("/api/context", http.MethodGet, s.handleContext))
	mux.HandleFunc("/api/settings", s.route("/api/settings", http.MethodGet, s.handleSettings))

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	for pattern, handler := range s.extra {
		mux.Handle(pattern, handler)
	}

	return mux
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.shutdownMu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Msg("Starting HTTP API server")

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP API server: %w", err)
	}

	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
}

// Stop rejects new requests, waits for in-flight ones and shuts down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP API server: %w", err)
	}

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

// route wraps an API handler with shutdown tracking, CORS, method checks,
// rate limiting, request tracing and metrics.
func (s *Server) route(name, method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		s.setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			duration := time.Since(start)
			observability.RecordHTTPRequest(name, rec.status, duration)
			s.stats.Track(name, rec.status < 400, duration)
		}()

		if r.Method != method {
			writeError(rec, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		ip := s.getClientIP(r)
		if ok, retryAfter := s.rateLimiter.Allow(ip); !ok {
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")

			rec.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(rec, http.StatusTooManyRequests, "Too Many Requests")
			return
		}

		traceID := r.Header.Get("X-Trace-Id")
		ctx := tracing.NewRequestContext(r.Context(), traceID)
		rec.Header().Set("X-Trace-Id", tracing.GetTraceID(ctx))

		r.Body = http.MaxBytesReader(rec, r.Body, s.options.MaxBodyBytes)
		h(rec, r.WithContext(ctx))

		reqLogger := tracing.LoggerFromContext(ctx, s.logger)
		reqLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	if s.options.CORSOrigin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", s.options.CORSOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-Id")
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":         "ok",
		"uptime":         time.Since(s.startTime).Seconds(),
		"activeSessions": s.translator.ActiveSessions(),
		"routes":         s.stats.Snapshot(),
		"timestamp":      time.Now().UnixMilli(),
	}

	writeJSON(w, http.StatusOK, response)
}

// getClientIP extracts the client IP from the request
func (s *Server) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Stats returns the per-route request stats.
func (s *Server) Stats() []RouteStats {
	return s.stats.Snapshot()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
