// Package cache maps request fingerprints to assembled responses.
//
// DESIGN: The aggregator depends only on the Store contract; providers are
// interchangeable (in-process bounded map, shared sqlite store). Providers
// fail open: any backend error reads as a miss and the request proceeds with
// live retrieval. Atomicity is per key; no cross-key locking.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

// Store is the response cache contract.
type Store interface {
	// Get returns the cached response for key, or ok=false on miss, expiry,
	// or provider failure.
	Get(ctx context.Context, key string) (*contextagg.ContextResponse, bool)

	// Set stores a response under key for ttl.
	Set(ctx context.Context, key string, resp *contextagg.ContextResponse, ttl time.Duration)

	// Delete removes one key.
	Delete(ctx context.Context, key string) error

	// Clear removes entries whose key matches pattern ("*" wildcards);
	// empty pattern clears everything. Returns the number removed.
	Clear(ctx context.Context, pattern string) (int, error)

	// Healthy reports whether the backing store is reachable.
	Healthy(ctx context.Context) bool

	// Stats returns hit/miss/entry counters.
	Stats() Stats

	// Close releases provider resources.
	Close() error
}

// Stats are per-provider cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// HitRate returns hits/(hits+misses) in [0,1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// =============================================================================
// REQUEST FINGERPRINT
// =============================================================================

// Fingerprint derives the deterministic cache key for a request. The request
// is normalized first (trimmed query, sorted effective sources and
// priorities) so two semantically identical requests share a key. Sources
// must be the effective set the aggregator will query, not the raw request
// field, so that task-type defaults and config-disabled sources fingerprint
// identically however they were spelled.
func Fingerprint(req *contextagg.ContextRequest, sources []contextagg.SourceKind) string {
	var b strings.Builder

	b.WriteString("q=")
	b.WriteString(strings.TrimSpace(req.Query))
	fmt.Fprintf(&b, "|t=%s|max=%d|res=%d", req.TaskType, req.MaxTokens, req.ReservedTokens)

	sorted := make([]string, len(sources))
	for i, s := range sources {
		sorted[i] = string(s)
	}
	sort.Strings(sorted)
	b.WriteString("|src=")
	b.WriteString(strings.Join(sorted, ","))

	if len(req.Priorities) > 0 {
		keys := make([]string, 0, len(req.Priorities))
		for k := range req.Priorities {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		b.WriteString("|pri=")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s:%d,", k, req.Priorities[contextagg.SourceKind(k)])
		}
	}

	if len(req.Hints.RelatedFiles) > 0 {
		files := append([]string(nil), req.Hints.RelatedFiles...)
		sort.Strings(files)
		b.WriteString("|files=")
		b.WriteString(strings.Join(files, ","))
	}
	if req.Hints.Language != "" {
		b.WriteString("|lang=" + strings.ToLower(req.Hints.Language))
	}
	if req.Hints.Framework != "" {
		b.WriteString("|fw=" + strings.ToLower(req.Hints.Framework))
	}

	fmt.Fprintf(&b, "|opt=%v,%v,%v,%s",
		req.Options.SkipDedup, req.Options.Compress, req.Options.Diversify, req.Options.Format)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
