// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:   Total and successful aggregation requests
//   - cache_hits/misses:    Response cache performance
//   - source_calls/errors:  Fan-out volume and per-source failures
//   - chunks:               Retrieved, deduplicated, and assembled counts
//   - tokens:               Assembled token volume and budget utilization
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests           atomic.Int64
	successes          atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	singleFlightShared atomic.Int64

	// Source fan-out counters
	sourceCalls  atomic.Int64
	sourceErrors atomic.Int64

	// Chunk pipeline counters
	chunksRetrieved atomic.Int64
	chunksDeduped   atomic.Int64
	chunksAssembled atomic.Int64

	// Token counters
	tokensAssembled atomic.Int64
	tokensBudgeted  atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records a completed aggregation request.
func (mc *MetricsCollector) RecordRequest(success bool, _ time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordCacheHit records a response cache hit.
func (mc *MetricsCollector) RecordCacheHit() { mc.cacheHits.Add(1) }

// RecordCacheMiss records a response cache miss.
func (mc *MetricsCollector) RecordCacheMiss() { mc.cacheMisses.Add(1) }

// RecordSingleFlightShared records a request served by sharing another
// identical in-flight request's result.
func (mc *MetricsCollector) RecordSingleFlightShared() { mc.singleFlightShared.Add(1) }

// RecordSourceCall records one adapter call and whether it failed.
func (mc *MetricsCollector) RecordSourceCall(failed bool) {
	mc.sourceCalls.Add(1)
	if failed {
		mc.sourceErrors.Add(1)
	}
}

// RecordPipeline records chunk counts for one request.
func (mc *MetricsCollector) RecordPipeline(retrieved, deduped, assembled int) {
	mc.chunksRetrieved.Add(int64(retrieved))
	mc.chunksDeduped.Add(int64(deduped))
	mc.chunksAssembled.Add(int64(assembled))
}

// RecordTokens records assembled token volume against the budget.
func (mc *MetricsCollector) RecordTokens(assembled, budget int) {
	mc.tokensAssembled.Add(int64(assembled))
	mc.tokensBudgeted.Add(int64(budget))
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()
	hits := mc.cacheHits.Load()
	misses := mc.cacheMisses.Load()
	calls := mc.sourceCalls.Load()
	errors := mc.sourceErrors.Load()

	var cacheHitRate float64
	if total := hits + misses; total > 0 {
		cacheHitRate = float64(hits) / float64(total) * 100
	}
	var sourceErrorRate float64
	if calls > 0 {
		sourceErrorRate = float64(errors) / float64(calls) * 100
	}
	var utilization float64
	if budgeted := mc.tokensBudgeted.Load(); budgeted > 0 {
		utilization = float64(mc.tokensAssembled.Load()) / float64(budgeted) * 100
	}
	var dedupRate float64
	if retrieved := mc.chunksRetrieved.Load(); retrieved > 0 {
		dedupRate = float64(mc.chunksDeduped.Load()) / float64(retrieved) * 100
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:              requests,
			Successful:         successes,
			Failed:             requests - successes,
			SingleFlightShared: mc.singleFlightShared.Load(),
		},
		Cache: CacheStats{
			Hits:    hits,
			Misses:  misses,
			HitRate: cacheHitRate,
		},
		Sources: SourceStats{
			Calls:     calls,
			Errors:    errors,
			ErrorRate: sourceErrorRate,
		},
		Pipeline: PipelineStats{
			ChunksRetrieved: mc.chunksRetrieved.Load(),
			ChunksDeduped:   mc.chunksDeduped.Load(),
			ChunksAssembled: mc.chunksAssembled.Load(),
			DedupRate:       dedupRate,
		},
		Tokens: TokenStats{
			Assembled:          mc.tokensAssembled.Load(),
			Budgeted:           mc.tokensBudgeted.Load(),
			UtilizationPercent: utilization,
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string        `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartedAt     string        `json:"started_at"`
	Requests      RequestStats  `json:"requests"`
	Cache         CacheStats    `json:"cache"`
	Sources       SourceStats   `json:"sources"`
	Pipeline      PipelineStats `json:"pipeline"`
	Tokens        TokenStats    `json:"tokens"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total              int64 `json:"total"`
	Successful         int64 `json:"successful"`
	Failed             int64 `json:"failed"`
	SingleFlightShared int64 `json:"single_flight_shared"`
}

// CacheStats holds response cache metrics.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// SourceStats holds adapter fan-out metrics.
type SourceStats struct {
	Calls     int64   `json:"calls"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

// PipelineStats holds chunk pipeline metrics.
type PipelineStats struct {
	ChunksRetrieved int64   `json:"chunks_retrieved"`
	ChunksDeduped   int64   `json:"chunks_deduped"`
	ChunksAssembled int64   `json:"chunks_assembled"`
	DedupRate       float64 `json:"dedup_rate"`
}

// TokenStats holds token volume metrics.
type TokenStats struct {
	Assembled          int64   `json:"assembled"`
	Budgeted           int64   `json:"budgeted"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
