// Package sources defines the uniform retrieval contract for context
// backends and the concrete adapters the engine ships.
//
// DESIGN: The aggregator depends only on the Adapter interface. Adapters own
// their timeout and retry policy: Retrieve races the backend call against the
// query deadline and retries idempotent failures a bounded number of times.
// Retries are internal; the orchestrator sees exactly one SourceResult per
// call. Retrieve never returns an error value - failures surface through
// SourceResult.Err with zero chunks.
//
// Concrete adapters differ only in the translation between SourceQuery and
// backend-specific calls:
//   - codeindex.go:  vector similarity search HTTP API
//   - ragpipe.go:    augmented-retrieval pipeline HTTP API
//   - toolproto.go:  tool-protocol backend over websocket
//   - websearch.go:  web search HTTP API
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

// Adapter is the only interface the aggregator requires from any backend.
type Adapter interface {
	// Kind identifies the backend.
	Kind() contextagg.SourceKind

	// Initialize prepares the adapter from its config block.
	Initialize(cfg config.SourceConfig) error

	// IsAvailable probes whether the backend is reachable.
	IsAvailable(ctx context.Context) bool

	// Retrieve runs one query. Never fails: errors surface in the result.
	Retrieve(ctx context.Context, q contextagg.SourceQuery) contextagg.SourceResult

	// Dispose releases adapter resources.
	Dispose() error
}

// =============================================================================
// RETRY / TIMEOUT HELPER
// =============================================================================

// retrieveFunc performs one backend attempt.
type retrieveFunc func(ctx context.Context) ([]contextagg.ContextChunk, error)

// runWithRetry enforces the query deadline and the adapter's bounded retry
// policy around fn, converting any failure into a plain result value.
func runWithRetry(ctx context.Context, kind contextagg.SourceKind, q contextagg.SourceQuery, attempts int, fn retrieveFunc) contextagg.SourceResult {
	start := time.Now()

	if !q.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, q.Deadline)
		defer cancel()
	}

	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		chunks, err := fn(ctx)
		if err == nil {
			return contextagg.SourceResult{
				Chunks:    capChunks(chunks, q.MaxChunks),
				LatencyMs: time.Since(start).Milliseconds(),
			}
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil || attempt == attempts {
			break
		}
		log.Debug().
			Str("source", kind.String()).
			Int("attempt", attempt).
			Err(err).
			Msg("sources: retrying after transient failure")

		select {
		case <-ctx.Done():
		case <-time.After(config.DefaultRetryBackoff):
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		lastErr = fmt.Errorf("deadline exceeded: %w", ctx.Err())
	}
	return contextagg.SourceResult{
		LatencyMs: time.Since(start).Milliseconds(),
		Err:       lastErr.Error(),
	}
}

// retryable reports whether an error is worth another idempotent attempt.
// Connection-level failures are; protocol errors and cancellations are not.
func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func capChunks(chunks []contextagg.ContextChunk, max int) []contextagg.ContextChunk {
	if max > 0 && len(chunks) > max {
		return chunks[:max]
	}
	return chunks
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps source kinds to adapter instances. Constructed once at
// startup; Register exists for pluggable third-party backends.
type Registry struct {
	mu       sync.RWMutex
	adapters map[contextagg.SourceKind]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[contextagg.SourceKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// NewDefaultRegistry builds and initializes the four shipped adapters from
// config. Adapters whose Initialize fails are registered anyway: they report
// unavailability per request instead of failing startup.
func NewDefaultRegistry(cfg *config.Config) *Registry {
	r := NewRegistry()
	for _, a := range []Adapter{
		NewCodeIndexAdapter(),
		NewRAGAdapter(),
		NewToolProtoAdapter(),
		NewWebSearchAdapter(),
	} {
		sc := cfg.SourceFor(a.Kind())
		if err := a.Initialize(sc); err != nil {
			log.Warn().Str("source", a.Kind().String()).Err(err).
				Msg("sources: adapter initialization failed, will report unavailable")
		}
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for a kind.
func (r *Registry) Get(kind contextagg.SourceKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds returns the registered kinds in stable order.
func (r *Registry) Kinds() []contextagg.SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]contextagg.SourceKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispose releases every registered adapter.
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, a := range r.adapters {
		if err := a.Dispose(); err != nil {
			log.Warn().Str("source", kind.String()).Err(err).Msg("sources: dispose failed")
		}
	}
}
