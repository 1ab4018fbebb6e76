// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// BUDGET DEFAULTS
// =============================================================================

// DefaultMaxTokens is the assembled-payload ceiling when a request omits one.
const DefaultMaxTokens = 8000

// DefaultReservedTokens is held back from the ceiling by default.
const DefaultReservedTokens = 0

// DefaultMinChunkTokens drops fragments too small to be useful context.
const DefaultMinChunkTokens = 10

// DefaultMaxChunkTokens caps any single chunk before assembly.
const DefaultMaxChunkTokens = 4000

// =============================================================================
// SOURCE DEFAULTS
// =============================================================================

// DefaultSourceTimeout bounds one backend call, retries included.
const DefaultSourceTimeout = 5 * time.Second

// DefaultMaxChunksPerSource caps what one adapter may return. Keeps the
// O(n^2) semantic dedup pass tractable.
const DefaultMaxChunksPerSource = 20

// DefaultRetryAttempts is the bounded retry count for idempotent failures.
const DefaultRetryAttempts = 2

// DefaultRetryBackoff is the pause between adapter retry attempts.
const DefaultRetryBackoff = 200 * time.Millisecond

// =============================================================================
// DEDUP DEFAULTS
// =============================================================================

// DefaultSimilarityThreshold for semantic near-duplicate grouping.
const DefaultSimilarityThreshold = 0.90

// =============================================================================
// CACHE DEFAULTS
// =============================================================================

// DefaultCacheTTL is how long assembled responses stay valid.
const DefaultCacheTTL = 15 * time.Minute

// DefaultCacheMaxEntries bounds the in-process cache.
const DefaultCacheMaxEntries = 1000

// DefaultCacheProvider is the in-process bounded map.
const DefaultCacheProvider = "memory"

// =============================================================================
// REQUEST DEFAULTS
// =============================================================================

// DefaultRequestTimeout is the outer deadline for one getContext call.
const DefaultRequestTimeout = 15 * time.Second

// =============================================================================
// SERVER DEFAULTS
// =============================================================================

// DefaultServerPort for the contextd HTTP surface.
const DefaultServerPort = 18560

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 2 * time.Minute

// MaxRequestBodySize is the maximum allowed request body (4MB).
const MaxRequestBodySize = 4 * 1024 * 1024
