package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/context-engine/internal/aggregator"
	"github.com/issuepilot/context-engine/internal/cache"
	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
	"github.com/issuepilot/context-engine/internal/monitoring"
	"github.com/issuepilot/context-engine/internal/server"
	"github.com/issuepilot/context-engine/internal/sources"
)

// fixedAdapter always returns the same chunk.
type fixedAdapter struct {
	kind   contextagg.SourceKind
	errMsg string
}

func (f *fixedAdapter) Kind() contextagg.SourceKind          { return f.kind }
func (f *fixedAdapter) Initialize(config.SourceConfig) error { return nil }
func (f *fixedAdapter) IsAvailable(context.Context) bool     { return f.errMsg == "" }
func (f *fixedAdapter) Dispose() error                       { return nil }

func (f *fixedAdapter) Retrieve(context.Context, contextagg.SourceQuery) contextagg.SourceResult {
	if f.errMsg != "" {
		return contextagg.SourceResult{Err: f.errMsg}
	}
	return contextagg.SourceResult{Chunks: []contextagg.ContextChunk{{
		ID:         "chunk-1",
		Content:    "func Example() {}",
		Source:     f.kind,
		Relevance:  0.8,
		TokenCount: 25,
	}}}
}

// downStore reports the cache backend as unreachable.
type downStore struct{ *cache.MemoryStore }

func (downStore) Healthy(context.Context) bool { return false }

func newTestServer(t *testing.T, adapters ...sources.Adapter) *server.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Budget.MinChunkTokens = 0
	agg := aggregator.New(cfg, sources.NewRegistry(adapters...), cache.NewMemoryStore(100), monitoring.NewMetricsCollector())
	return server.New(agg, monitoring.NewMetricsCollector())
}

func contextBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(contextagg.ContextRequest{
		Query:     "example lookup",
		TaskType:  contextagg.TaskImplementation,
		MaxTokens: 500,
		Sources:   []contextagg.SourceKind{contextagg.SourceCodeIndex},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

// =============================================================================
// /v1/context
// =============================================================================

func TestHandleContext_Success(t *testing.T) {
	srv := newTestServer(t, &fixedAdapter{kind: contextagg.SourceCodeIndex})

	req := httptest.NewRequest(http.MethodPost, "/v1/context", contextBody(t))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp contextagg.ContextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Len(t, resp.Context.Chunks, 1)
	assert.Equal(t, 1, resp.Metrics.SourcesSucceeded)
}

func TestHandleContext_InvalidRequestIs400(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/context", strings.NewReader(`{"query":""}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestHandleContext_MalformedBodyIs400(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/context", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleContext_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/context", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// =============================================================================
// /v1/context/stream
// =============================================================================

func TestHandleStream_NDJSON(t *testing.T) {
	srv := newTestServer(t, &fixedAdapter{kind: contextagg.SourceCodeIndex})

	req := httptest.NewRequest(http.MethodPost, "/v1/context/stream", contextBody(t))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(w.Body)
	lines := 0
	for scanner.Scan() {
		var chunk contextagg.ContextChunk
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &chunk))
		assert.Equal(t, "chunk-1", chunk.ID)
		lines++
	}
	assert.Equal(t, 1, lines)
}

// =============================================================================
// CACHE ENDPOINTS
// =============================================================================

func TestHandleCacheStats(t *testing.T) {
	srv := newTestServer(t, &fixedAdapter{kind: contextagg.SourceCodeIndex})

	// Miss then hit.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/context", contextBody(t))
		srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["hits"])
	assert.Equal(t, float64(1), stats["misses"])
	assert.Equal(t, float64(1), stats["entries"])
}

func TestHandleInvalidate(t *testing.T) {
	srv := newTestServer(t, &fixedAdapter{kind: contextagg.SourceCodeIndex})

	req := httptest.NewRequest(http.MethodPost, "/v1/context", contextBody(t))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	inv := httptest.NewRequest(http.MethodPost, "/v1/cache/invalidate", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, inv)

	require.Equal(t, http.StatusOK, w.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, float64(1), result["removed"])
}

// =============================================================================
// HEALTH / STATS
// =============================================================================

func TestHandleHealth_Up(t *testing.T) {
	srv := newTestServer(t, &fixedAdapter{kind: contextagg.SourceCodeIndex})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var report aggregator.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Healthy)
	assert.True(t, report.Sources["code_index"])
}

func TestHandleHealth_Down(t *testing.T) {
	cfg := config.Default()
	agg := aggregator.New(cfg, sources.NewRegistry(),
		downStore{cache.NewMemoryStore(10)}, monitoring.NewMetricsCollector())
	srv := server.New(agg, monitoring.NewMetricsCollector())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var report aggregator.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.False(t, report.Healthy)
	assert.False(t, report.CacheHealthy)
}

func TestHandleStats_ReturnsJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var stats monitoring.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.NotEmpty(t, stats.Uptime)
	assert.Equal(t, int64(0), stats.Requests.Total)
}
