// Package server exposes the aggregation engine over HTTP for the agent loop.
//
// DESIGN: Thin transport layer. All aggregation semantics live in the
// aggregator package; handlers only decode, delegate, and encode.
//
// Endpoints:
//   - POST /v1/context            getContext
//   - POST /v1/context/stream     streamContext (newline-delimited JSON)
//   - POST /v1/cache/invalidate   invalidateCache
//   - GET  /v1/cache/stats        getCacheStats
//   - GET  /health                healthCheck
//   - GET  /stats                 operational metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/issuepilot/context-engine/internal/aggregator"
	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
	"github.com/issuepilot/context-engine/internal/monitoring"
)

// Server wires the aggregator to an http.Server.
type Server struct {
	agg     *aggregator.Aggregator
	metrics *monitoring.MetricsCollector
	httpSrv *http.Server
}

// New builds the server from the aggregator's current config snapshot.
func New(agg *aggregator.Aggregator, metrics *monitoring.MetricsCollector) *Server {
	s := &Server{agg: agg, metrics: metrics}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/context", s.handleContext)
	mux.HandleFunc("/v1/context/stream", s.handleStream)
	mux.HandleFunc("/v1/cache/invalidate", s.handleInvalidate)
	mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	cfg := agg.Config()
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler exposes the route mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks serving requests.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("server: listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "aggregator_error"},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("server: response encode failed")
	}
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*contextagg.ContextRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxRequestBodySize))
	if err != nil {
		s.writeError(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	var req contextagg.ContextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.agg.GetContext(r.Context(), req)
	if err != nil {
		if errors.Is(err, contextagg.ErrInvalidRequest) {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, resp)
}

// handleStream emits one JSON chunk per line as they are released.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	chunks, err := s.agg.StreamContext(r.Context(), req)
	if err != nil {
		if errors.Is(err, contextagg.ErrInvalidRequest) {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, canFlush := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for chunk := range chunks {
		if err := enc.Encode(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	removed, err := s.agg.InvalidateCache(r.Context(), pattern)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"removed": removed})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.agg.CacheStats()
	s.writeJSON(w, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"entries":  stats.Entries,
		"hit_rate": stats.HitRate(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report := s.agg.HealthCheck(r.Context())
	if !report.Healthy {
		// Headers are frozen once the status goes out.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.metrics.FullStats())
}
