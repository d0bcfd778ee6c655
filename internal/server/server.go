// Package server exposes the assistant over HTTP: one SSE streaming
// endpoint plus small JSON endpoints for tool discovery and health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fieldstack/assist/internal/config"
	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
	"fieldstack/assist/internal/llm"
	"fieldstack/assist/internal/metrics"
	"fieldstack/assist/internal/ratelimit"
	"fieldstack/assist/internal/router"
	"fieldstack/assist/internal/stream"
	"fieldstack/assist/internal/tools"
)

// assistState is the URL-encoded JSON payload of the stream endpoint.
type assistState struct {
	Messages []core.ChatMessage `json:"messages"`
	UserID   string             `json:"userId"`
	TenantID string             `json:"tenantId"`
}

type Server struct {
	cfg     *config.Configuration
	limiter *ratelimit.Limiter
	router  *router.Router
	cloud   *llm.Client
	store   domain.Store
	log     *zap.SugaredLogger
}

func New(cfg *config.Configuration, limiter *ratelimit.Limiter, rt *router.Router, cloud *llm.Client, store domain.Store) *Server {
	return &Server{
		cfg:     cfg,
		limiter: limiter,
		router:  rt,
		cloud:   cloud,
		store:   store,
		log:     core.GetLogger().With("component", "server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/assist/stream", s.handleStream)
	mux.HandleFunc("GET /api/assist/tools", s.handleTools)
	mux.HandleFunc("GET /api/assist/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Bind, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleStream is the assistant's single conversational endpoint.
// Failures after the SSE headers are flushed surface as one error
// event followed by stream close, never as an HTTP status.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sse, err := stream.NewSSEWriter(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	token := callerToken(r)
	if token == "" {
		metrics.RequestCount.WithLabelValues("stream", "unauthorized").Inc()
		sse.Send(stream.Errorf("authentication required"))
		return
	}

	state, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		metrics.RequestCount.WithLabelValues("stream", "bad_state").Inc()
		sse.Send(stream.Errorf("invalid state parameter: %v", err))
		return
	}

	chatCtx := core.ChatContext{
		RequestID: uuid.NewString(),
		UserID:    state.UserID,
		TenantID:  state.TenantID,
		AuthToken: token,
		Language:  r.URL.Query().Get("lang"),
	}
	log := core.WithChat(s.log, chatCtx.UserID, chatCtx.TenantID).With("requestId", chatCtx.RequestID)

	if !s.limiter.Admit(chatCtx.RateKey()) {
		metrics.RateLimited.Inc()
		metrics.RequestCount.WithLabelValues("stream", "rate_limited").Inc()
		wait := time.Until(s.limiter.ResetTime(chatCtx.RateKey()))
		if wait < 0 {
			wait = 0
		}
		log.Warnw("Request rejected by rate limiter", "wait", wait)
		sse.Send(stream.Errorf("rate limit exceeded, try again in %ds", int(wait.Seconds())+1))
		return
	}

	start := time.Now()
	if err := s.router.Route(r.Context(), state.Messages, chatCtx, sse); err != nil {
		metrics.RequestCount.WithLabelValues("stream", "error").Inc()
		core.LogDuration(log, "Turn failed", start)
		return
	}
	metrics.RequestCount.WithLabelValues("stream", "ok").Inc()
	core.LogDuration(log, "Turn completed", start)
}

// handleTools lists every registered tool's name and description.
// Schemas and handlers are withheld.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	registry := tools.BuildRegistry(s.store, []string{"*"})
	metrics.RequestCount.WithLabelValues("tools", "ok").Inc()
	writeJSON(w, registry.Listings())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	registry := tools.BuildRegistry(s.store, []string{"*"})
	metrics.RequestCount.WithLabelValues("health", "ok").Inc()
	writeJSON(w, map[string]any{
		"status":          "ok",
		"cloudConfigured": s.cloud.Configured(),
		"toolCount":       registry.Len(),
	})
}

// callerToken extracts the bearer token, falling back to the token
// query parameter for browsers using EventSource.
func callerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func parseState(raw string) (*assistState, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing")
	}
	var state assistState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("malformed JSON")
	}
	if state.UserID == "" || state.TenantID == "" {
		return nil, fmt.Errorf("missing caller identity")
	}
	if len(state.Messages) == 0 {
		return nil, fmt.Errorf("empty message sequence")
	}
	return &state, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		core.GetLogger().Errorw("Writing response", "error", err)
	}
}
