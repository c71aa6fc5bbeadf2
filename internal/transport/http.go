// Package transport serves the clicker HTTP API and status stream.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/clicker/internal/game"
	"github.com/gateway-fm/clicker/internal/session"
	"github.com/gateway-fm/clicker/internal/submit"
	"github.com/gateway-fm/clicker/pkg/types"
)

// Pagination limits for the click log.
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBodyBytes     = 64 << 10
	readyTimeout     = 3 * time.Second
)

// ClickerAPI is the game surface the handlers need.
type ClickerAPI interface {
	Address() common.Address
	Status() types.Status
	Click(ctx context.Context, source types.ClickSource) (types.ClickRecord, *submit.TxError)
	ImportSession(ctx context.Context, sess *session.Session) error
	Disconnect(ctx context.Context) error
}

// ClickHistory reads the persisted click log.
type ClickHistory interface {
	ListClicks(ctx context.Context, address string, limit, offset int) (*types.PaginatedClicks, error)
	GetClick(ctx context.Context, id string) (*types.ClickRecord, error)
	ClickStats(ctx context.Context, address string) (*types.ClickStats, error)
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// ServerConfig configures a Server.
type ServerConfig struct {
	API     ClickerAPI
	History ClickHistory
	Health  HealthChecker

	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer

	// AllowedOrigins lists CORS origins; empty or "*" allows all.
	AllowedOrigins []string

	// StreamInterval is the idle resend period of the status stream.
	StreamInterval time.Duration

	Logger *slog.Logger
}

// Server handles HTTP requests for the clicker.
type Server struct {
	api       ClickerAPI
	history   ClickHistory
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. The status stream starts immediately;
// Close stops it.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	wsServer := NewWebSocketServer(cfg.API, cfg.StreamInterval, logger)
	wsServer.Start()

	s := &Server{
		api:       cfg.API,
		history:   cfg.History,
		health:    cfg.Health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			s.corsAllowAll = true
		} else if o != "" {
			s.corsAllowedOrigins = append(s.corsAllowedOrigins, o)
		}
	}
	if len(s.corsAllowedOrigins) == 0 {
		s.corsAllowAll = true
	}

	return s
}

// Notify pushes a fresh status snapshot to stream clients. It never blocks
// and is safe to use as the game's change hook.
func (s *Server) Notify() {
	s.wsServer.Notify()
}

// Close stops the status stream and drops its clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/click", s.corsMiddleware(s.handleClick))
	mux.HandleFunc("/v1/clicks", s.corsMiddleware(s.handleClicks))
	mux.HandleFunc("/v1/clicks/", s.corsMiddleware(s.handleClickDetail))
	mux.HandleFunc("/v1/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/v1/session", s.corsMiddleware(s.handleSession))
	mux.HandleFunc("/v1/disconnect", s.corsMiddleware(s.handleDisconnect))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes checks)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// writeJSON writes body with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, types.ErrorResponse{Error: message})
}

// handleStatus returns the current game snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.api.Status())
}

// handleClick submits one manual click. A click that was attempted and
// failed still returns 200 with its failed record; only missing
// prerequisites are rejected before anything happens.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec, txErr := s.api.Click(r.Context(), types.SourceManual)
	if txErr != nil && txErr.Kind == submit.KindPrerequisitesNotMet {
		s.writeJSONError(w, txErr.UserMessage(), http.StatusConflict)
		return
	}

	resp := types.ClickResponse{Record: rec, Success: txErr == nil}
	if txErr != nil {
		resp.Error = txErr.UserMessage()
		s.logger.Warn("manual click failed",
			slog.String("kind", txErr.Kind.String()),
			slog.String("error", txErr.Error()),
		)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// pageParams parses limit and offset, falling back to defaults on anything
// out of range.
func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// handleClicks returns the wallet's click log, newest first.
func (s *Server) handleClicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, offset := pageParams(r)
	page, err := s.history.ListClicks(r.Context(), s.api.Address().Hex(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list clicks", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to list clicks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// handleClickDetail handles GET /v1/clicks/{id}.
func (s *Server) handleClickDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/clicks/"), "/")
	if id == "" {
		s.writeJSONError(w, "Missing click ID", http.StatusBadRequest)
		return
	}

	rec, err := s.history.GetClick(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, "Failed to get click: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil || !strings.EqualFold(rec.Address, s.api.Address().Hex()) {
		s.writeJSONError(w, "Click not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleStats returns click log aggregates for the wallet.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.history.ClickStats(r.Context(), s.api.Address().Hex())
	if err != nil {
		s.writeJSONError(w, "Failed to get click stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleSession imports an authorised session.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sess session.Session
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sess); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if sess.PrivateKey == "" || sess.Config.Signer == (common.Address{}) {
		s.writeJSONError(w, "Validation error: session.signer and privateKey are required", http.StatusBadRequest)
		return
	}

	err := s.api.ImportSession(r.Context(), &sess)
	switch {
	case errors.Is(err, game.ErrSessionRejected):
		s.writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		s.logger.Error("failed to import session", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to import session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

// handleDisconnect drops the session and resets local state.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.api.Disconnect(r.Context()); err != nil {
		// Local state is already reset; only the stored blob may linger.
		s.logger.Error("failed to clear stored session", slog.String("error", err.Error()))
		s.writeJSONError(w, "Disconnected, but failed to clear stored session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// handleHealth handles liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		start := time.Now()
		err := s.health.CheckRPC(ctx)
		check := ReadinessCheck{
			Name:      "rpc",
			LatencyMs: time.Since(start).Milliseconds(),
			Status:    "ok",
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	statusCode := http.StatusOK
	if !allHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, statusCode, map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}
