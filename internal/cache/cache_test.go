package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/context-engine/internal/cache"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

func sampleResponse(id string) *contextagg.ContextResponse {
	return &contextagg.ContextResponse{
		RequestID: id,
		Context: contextagg.AssembledContext{
			Text:       "cached context",
			TokenCount: 42,
			Format:     contextagg.FormatMarkdown,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// =============================================================================
// FINGERPRINT
// =============================================================================

func TestFingerprint_Deterministic(t *testing.T) {
	req := &contextagg.ContextRequest{
		Query:     "how does the worker pool drain",
		TaskType:  contextagg.TaskImplementation,
		MaxTokens: 4000,
	}
	sources := []contextagg.SourceKind{contextagg.SourceCodeIndex, contextagg.SourceRAG}

	assert.Equal(t,
		cache.Fingerprint(req, sources),
		cache.Fingerprint(req, sources),
	)
}

func TestFingerprint_NormalizesEquivalentRequests(t *testing.T) {
	base := &contextagg.ContextRequest{
		Query:     "find retry logic",
		TaskType:  contextagg.TaskDebugging,
		MaxTokens: 2000,
		Hints: contextagg.RetrievalHints{
			RelatedFiles: []string{"a.go", "b.go"},
			Language:     "go",
		},
	}
	variant := &contextagg.ContextRequest{
		Query:     "  find retry logic  ",
		TaskType:  contextagg.TaskDebugging,
		MaxTokens: 2000,
		Hints: contextagg.RetrievalHints{
			RelatedFiles: []string{"b.go", "a.go"},
			Language:     "Go",
		},
	}
	sources := []contextagg.SourceKind{contextagg.SourceRAG, contextagg.SourceCodeIndex}
	reversed := []contextagg.SourceKind{contextagg.SourceCodeIndex, contextagg.SourceRAG}

	assert.Equal(t,
		cache.Fingerprint(base, sources),
		cache.Fingerprint(variant, reversed),
	)
}

func TestFingerprint_DistinguishesMaterialDifferences(t *testing.T) {
	base := &contextagg.ContextRequest{Query: "q", MaxTokens: 1000}
	sources := []contextagg.SourceKind{contextagg.SourceRAG}

	differentQuery := &contextagg.ContextRequest{Query: "other", MaxTokens: 1000}
	differentBudget := &contextagg.ContextRequest{Query: "q", MaxTokens: 2000}
	differentOpts := &contextagg.ContextRequest{Query: "q", MaxTokens: 1000,
		Options: contextagg.ProcessingOptions{SkipDedup: true}}

	fp := cache.Fingerprint(base, sources)
	assert.NotEqual(t, fp, cache.Fingerprint(differentQuery, sources))
	assert.NotEqual(t, fp, cache.Fingerprint(differentBudget, sources))
	assert.NotEqual(t, fp, cache.Fingerprint(differentOpts, sources))
	assert.NotEqual(t, fp, cache.Fingerprint(base, []contextagg.SourceKind{contextagg.SourceWebSearch}))
}

// =============================================================================
// MEMORY STORE
// =============================================================================

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10)

	store.Set(ctx, "k1", sampleResponse("r1"), time.Minute)

	got, ok := store.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "r1", got.RequestID)

	_, ok = store.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10)

	store.Set(ctx, "k1", sampleResponse("r1"), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, ok := store.Get(ctx, "k1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Stats().Entries)
}

func TestMemoryStore_BoundedEviction(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(3)

	for i := 0; i < 5; i++ {
		store.Set(ctx, fmt.Sprintf("k%d", i), sampleResponse("r"), time.Minute)
	}

	assert.Equal(t, 3, store.Stats().Entries)
}

func TestMemoryStore_ClearPattern(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10)

	store.Set(ctx, "impl-1", sampleResponse("a"), time.Minute)
	store.Set(ctx, "impl-2", sampleResponse("b"), time.Minute)
	store.Set(ctx, "doc-1", sampleResponse("c"), time.Minute)

	removed, err := store.Clear(ctx, "impl-*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := store.Get(ctx, "doc-1")
	assert.True(t, ok)
}

func TestMemoryStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10)

	store.Set(ctx, "a", sampleResponse("a"), time.Minute)
	store.Set(ctx, "b", sampleResponse("b"), time.Minute)

	removed, err := store.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, store.Stats().Entries)
}

func TestMemoryStore_ZeroTTLNotStored(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10)

	store.Set(ctx, "k", sampleResponse("r"), 0)

	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10)

	store.Set(ctx, "k", sampleResponse("r"), time.Minute)
	store.Get(ctx, "k")
	store.Get(ctx, "k")
	store.Get(ctx, "missing")

	stats := store.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)
}

func TestStats_HitRateEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cache.Stats{}.HitRate())
}
