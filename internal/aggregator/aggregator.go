// Package aggregator orchestrates context retrieval end to end.
//
// DESIGN: One request walks a fixed state machine:
//
//	VALIDATING -> CACHE_CHECK -> FANNING_OUT -> MERGING -> DEDUPING
//	           -> RANKING -> ASSEMBLING -> CACHING -> DONE
//
// FAILED is reachable only from VALIDATING: a malformed request is the sole
// case that raises. Everything downstream degrades instead - a failing
// source becomes a contribution with an error string, a failing cache reads
// as a miss, and the caller always receives a ContextResponse.
//
// Fan-out is settle-all: one goroutine per enabled source, joined with a
// WaitGroup. A slow source delays the request by at most its own timeout.
// Identical concurrent requests are collapsed through singleflight keyed by
// the request fingerprint.
package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/issuepilot/context-engine/internal/assemble"
	"github.com/issuepilot/context-engine/internal/budget"
	"github.com/issuepilot/context-engine/internal/cache"
	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
	"github.com/issuepilot/context-engine/internal/dedup"
	"github.com/issuepilot/context-engine/internal/monitoring"
	"github.com/issuepilot/context-engine/internal/rank"
	"github.com/issuepilot/context-engine/internal/sources"
	"github.com/issuepilot/context-engine/internal/tokens"
)

// =============================================================================
// REQUEST STATE MACHINE
// =============================================================================

type state int

const (
	stateValidating state = iota
	stateCacheCheck
	stateFanningOut
	stateMerging
	stateDeduping
	stateRanking
	stateAssembling
	stateCaching
	stateDone
	stateFailed
)

var stateNames = map[state]string{
	stateValidating: "VALIDATING",
	stateCacheCheck: "CACHE_CHECK",
	stateFanningOut: "FANNING_OUT",
	stateMerging:    "MERGING",
	stateDeduping:   "DEDUPING",
	stateRanking:    "RANKING",
	stateAssembling: "ASSEMBLING",
	stateCaching:    "CACHING",
	stateDone:       "DONE",
	stateFailed:     "FAILED",
}

func (s state) String() string { return stateNames[s] }

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator composes budget, adapters, dedup, rank, assemble, and cache.
type Aggregator struct {
	cfg      atomic.Pointer[config.Config]
	registry *sources.Registry
	store    cache.Store
	metrics  *monitoring.MetricsCollector
	counter  atomic.Pointer[counterBox] // snapshot per request like cfg
	flight   singleflight.Group
}

// counterBox wraps the interface so the atomic pointer has one concrete type
// regardless of which counter implementation is active.
type counterBox struct {
	c tokens.Counter
}

// New builds an aggregator over an initialized registry and cache store.
func New(cfg *config.Config, registry *sources.Registry, store cache.Store, metrics *monitoring.MetricsCollector) *Aggregator {
	a := &Aggregator{
		registry: registry,
		store:    store,
		metrics:  metrics,
	}
	a.counter.Store(&counterBox{c: tokens.NewCounter(cfg.Optimization.ExactTokenCounts)})
	a.cfg.Store(cfg)
	return a
}

func (a *Aggregator) tokenCounter() tokens.Counter {
	return a.counter.Load().c
}

// Config returns the current configuration snapshot.
func (a *Aggregator) Config() *config.Config {
	return a.cfg.Load()
}

// Reconfigure validates and atomically swaps the configuration. In-flight
// requests keep the snapshot they started with.
func (a *Aggregator) Reconfigure(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.counter.Store(&counterBox{c: tokens.NewCounter(cfg.Optimization.ExactTokenCounts)})
	a.cfg.Store(cfg)
	log.Info().Msg("aggregator: configuration replaced")
	return nil
}

// GetContext validates, consults the cache, fans out to all enabled sources,
// and drives dedup -> rank -> assemble -> cache-store.
//
// Only validation failures return an error. The response always arrives
// otherwise; callers inspect Metrics.SourcesSucceeded to judge degradation.
func (a *Aggregator) GetContext(ctx context.Context, req *contextagg.ContextRequest) (*contextagg.ContextResponse, error) {
	cfg := a.cfg.Load()
	start := time.Now()

	log.Trace().Str("state", stateValidating.String()).Msg("aggregator: state")
	normalized, err := a.normalize(cfg, req)
	if err != nil {
		a.metrics.RecordRequest(false, time.Since(start))
		log.Warn().Err(err).Str("state", stateFailed.String()).Msg("aggregator: request rejected")
		return nil, err
	}

	kinds := a.resolveSources(cfg, normalized)
	key := cache.Fingerprint(normalized, kinds)

	// Outer deadline for the whole request.
	timeout := config.DefaultRequestTimeout
	if normalized.Options.TimeoutMs > 0 {
		timeout = time.Duration(normalized.Options.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Trace().Str("state", stateCacheCheck.String()).Msg("aggregator: state")
	useCache := cfg.Cache.Enabled && !normalized.Options.BypassCache
	if useCache {
		if cached, ok := a.store.Get(ctx, key); ok {
			a.metrics.RecordCacheHit()
			a.metrics.RecordRequest(true, time.Since(start))
			hit := *cached
			hit.Metrics.CacheHit = true
			hit.Metrics.LatencyMs = time.Since(start).Milliseconds()
			log.Debug().Str("key", key[:12]).Msg("aggregator: cache hit")
			return &hit, nil
		}
		a.metrics.RecordCacheMiss()
	}

	// Collapse identical concurrent requests: both would miss the cache and
	// perform full fan-out otherwise.
	resp, err, shared := a.flight.Do(key, func() (interface{}, error) {
		return a.aggregate(ctx, cfg, normalized, kinds, key, useCache)
	})
	if err != nil {
		a.metrics.RecordRequest(false, time.Since(start))
		return nil, err
	}
	if shared {
		a.metrics.RecordSingleFlightShared()
	}
	a.metrics.RecordRequest(true, time.Since(start))
	return resp.(*contextagg.ContextResponse), nil
}

// aggregate runs FANNING_OUT through CACHING for one cache-missed request.
func (a *Aggregator) aggregate(ctx context.Context, cfg *config.Config, req *contextagg.ContextRequest, kinds []contextagg.SourceKind, key string, storeResult bool) (*contextagg.ContextResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()
	counter := a.tokenCounter()
	logger := log.With().Str("request_id", requestID).Logger()

	effectiveBudget := req.EffectiveBudget()
	priorities := req.Priorities
	if len(priorities) == 0 {
		priorities = budget.DefaultPriorities(req.TaskType)
	}
	allocations := budget.Allocate(kinds, priorities, effectiveBudget)

	// FANNING_OUT: settle-all, never fail-fast.
	logger.Debug().Str("state", stateFanningOut.String()).
		Int("sources", len(kinds)).Int("budget", effectiveBudget).
		Msg("aggregator: querying sources")
	results := a.fanOut(ctx, cfg, req, kinds, allocations)

	// Deterministic merge in registry order of the queried kinds,
	// independent of wall-clock completion order.
	logger.Trace().Str("state", stateMerging.String()).Msg("aggregator: state")
	contributions := make([]contextagg.SourceContribution, 0, len(kinds))
	merged := make([]contextagg.ContextChunk, 0)
	succeeded := 0
	for _, kind := range kinds {
		res := results[kind]
		contrib := contextagg.SourceContribution{
			Source:     kind,
			ChunkCount: len(res.Chunks),
			LatencyMs:  res.LatencyMs,
			CacheHit:   res.CacheHit,
			Error:      res.Err,
		}
		a.metrics.RecordSourceCall(res.Err != "")
		if res.Err == "" {
			succeeded++
		} else {
			logger.Warn().Str("source", kind.String()).Str("error", res.Err).
				Msg("aggregator: source degraded")
		}
		for _, c := range res.Chunks {
			if c.TokenCount == 0 {
				c.TokenCount = counter.Count(c.Content)
			}
			if c.TokenCount < cfg.Budget.MinChunkTokens {
				continue
			}
			contrib.TokensUsed += c.TokenCount
			merged = append(merged, c)
		}
		contributions = append(contributions, contrib)
	}

	logger.Trace().Str("state", stateDeduping.String()).Msg("aggregator: state")
	retrieved := len(merged)
	removed := 0
	if cfg.Dedup.Enabled && !req.Options.SkipDedup {
		result := dedup.Deduplicate(merged, dedup.Options{
			UseContentHash:      cfg.Dedup.UseContentHash,
			UseSemantic:         cfg.Dedup.UseSemantic,
			SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		})
		merged, removed = result.Chunks, result.Removed
	}

	logger.Trace().Str("state", stateRanking.String()).Msg("aggregator: state")
	ranked := rank.Rank(merged, priorities)
	if req.Options.Diversify {
		ranked = rank.Diversify(ranked, rank.DefaultDiversityLambda)
	}

	logger.Trace().Str("state", stateAssembling.String()).Msg("aggregator: state")
	assembled := assemble.Assemble(ranked, effectiveBudget, counter, assemble.Options{
		Compress: req.Options.Compress && cfg.Optimization.CompressLargeChunks,
		Format:   req.Options.Format,
	})

	var utilization float64
	if effectiveBudget > 0 {
		utilization = float64(assembled.TokenCount) / float64(effectiveBudget)
	}
	var dedupRate float64
	if retrieved > 0 {
		dedupRate = float64(removed) / float64(retrieved)
	}
	a.metrics.RecordPipeline(retrieved, removed, len(assembled.Chunks))
	a.metrics.RecordTokens(assembled.TokenCount, effectiveBudget)

	resp := &contextagg.ContextResponse{
		RequestID:     requestID,
		Context:       assembled,
		Contributions: contributions,
		Metrics: contextagg.ResponseMetrics{
			LatencyMs:         time.Since(start).Milliseconds(),
			BudgetUtilization: utilization,
			DedupRate:         dedupRate,
			SourcesQueried:    len(kinds),
			SourcesSucceeded:  succeeded,
		},
		CreatedAt: time.Now().UTC(),
	}

	// Fail-open store, then DONE.
	if storeResult {
		logger.Trace().Str("state", stateCaching.String()).Msg("aggregator: state")
		a.store.Set(ctx, key, resp, cfg.Cache.TTL())
	}
	logger.Debug().Str("state", stateDone.String()).
		Int("chunks", len(assembled.Chunks)).Int("tokens", assembled.TokenCount).
		Int("sources_succeeded", succeeded).
		Msg("aggregator: request complete")
	return resp, nil
}

// fanOut issues one concurrent call per source and waits for all to settle.
func (a *Aggregator) fanOut(ctx context.Context, cfg *config.Config, req *contextagg.ContextRequest, kinds []contextagg.SourceKind, allocations map[contextagg.SourceKind]int) map[contextagg.SourceKind]contextagg.SourceResult {
	results := make(map[contextagg.SourceKind]contextagg.SourceResult, len(kinds))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, kind := range kinds {
		adapter, ok := a.registry.Get(kind)
		if !ok {
			mu.Lock()
			results[kind] = contextagg.SourceResult{Err: "no adapter registered"}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(kind contextagg.SourceKind, adapter sources.Adapter) {
			defer wg.Done()
			// Convert panics into per-source errors: settle, never fail.
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					results[kind] = contextagg.SourceResult{Err: "adapter panic"}
					mu.Unlock()
					log.Error().Str("source", kind.String()).Interface("panic", r).
						Msg("aggregator: adapter panicked")
				}
			}()

			res := adapter.Retrieve(ctx, a.buildQuery(cfg, req, kind, allocations[kind]))
			mu.Lock()
			results[kind] = res
			mu.Unlock()
		}(kind, adapter)
	}

	wg.Wait()
	return results
}

// buildQuery derives the per-source query: allocated budget, chunk cap, and
// the tighter of the source timeout and the request deadline.
func (a *Aggregator) buildQuery(cfg *config.Config, req *contextagg.ContextRequest, kind contextagg.SourceKind, allocated int) contextagg.SourceQuery {
	sc := cfg.SourceFor(kind)

	deadline := time.Now().Add(sc.Timeout())
	q := contextagg.SourceQuery{
		Text:      req.Query,
		MaxTokens: allocated,
		MaxChunks: sc.MaxChunks,
		Deadline:  deadline,
		Filters: contextagg.SourceFilters{
			Paths: req.Hints.RelatedFiles,
		},
	}
	if req.Hints.Language != "" {
		q.Filters.Languages = []string{req.Hints.Language}
	}
	return q
}

// normalize applies config defaults and validates. Returns a copy; the
// caller's request stays immutable.
func (a *Aggregator) normalize(cfg *config.Config, req *contextagg.ContextRequest) (*contextagg.ContextRequest, error) {
	if req == nil {
		return nil, contextagg.ValidateRequest(req)
	}
	n := *req
	if n.TaskType == "" {
		n.TaskType = contextagg.TaskGeneral
	}
	if n.MaxTokens == 0 {
		n.MaxTokens = cfg.Budget.DefaultMaxTokens
	}
	if n.ReservedTokens == 0 {
		n.ReservedTokens = cfg.Budget.ReservedTokens
	}
	if err := contextagg.ValidateRequest(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// resolveSources returns the effective source set: the explicit request list
// or the task-type defaults, filtered to config-enabled sources.
func (a *Aggregator) resolveSources(cfg *config.Config, req *contextagg.ContextRequest) []contextagg.SourceKind {
	requested := req.Sources
	if len(requested) == 0 {
		requested = budget.DefaultSources(req.TaskType)
	}
	return cfg.EnabledSources(requested)
}

// =============================================================================
// CACHE / HEALTH SURFACE
// =============================================================================

// InvalidateCache removes cached responses matching pattern (all when empty).
func (a *Aggregator) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	return a.store.Clear(ctx, pattern)
}

// CacheStats returns the response cache counters.
func (a *Aggregator) CacheStats() cache.Stats {
	return a.store.Stats()
}

// HealthCheck probes every registered adapter and the cache backend.
func (a *Aggregator) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{
		Sources: make(map[string]bool),
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, kind := range a.registry.Kinds() {
		adapter, ok := a.registry.Get(kind)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(kind contextagg.SourceKind, adapter sources.Adapter) {
			defer wg.Done()
			up := adapter.IsAvailable(ctx)
			mu.Lock()
			report.Sources[kind.String()] = up
			mu.Unlock()
		}(kind, adapter)
	}
	wg.Wait()

	report.CacheHealthy = a.store.Healthy(ctx)
	report.Healthy = report.CacheHealthy
	for _, up := range report.Sources {
		if up {
			// One reachable source keeps the engine serviceable.
			report.Healthy = true
			break
		}
	}
	return report
}

// HealthReport is the healthCheck result.
type HealthReport struct {
	Healthy      bool            `json:"healthy"`
	CacheHealthy bool            `json:"cache_healthy"`
	Sources      map[string]bool `json:"sources"`
}
