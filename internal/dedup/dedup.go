// Package dedup removes exact and near-duplicate chunks from merged results.
//
// DESIGN: Two sequential passes, each optional:
//  1. Exact: sha256 content fingerprint, keep first occurrence. O(n).
//  2. Semantic: group chunks whose pairwise cosine similarity meets the
//     threshold, keep the highest-relevance chunk per group. O(n^2) against
//     the post-hash set, so callers cap total retrieved chunks first.
//
// Both passes are deterministic: given identical input order and embeddings,
// output order and membership repeat. Ties on relevance keep the lower
// original index.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

// DefaultSimilarityThreshold is the cosine similarity at or above which two
// chunks count as near-duplicates.
const DefaultSimilarityThreshold = 0.90

// Options control which passes run.
type Options struct {
	UseContentHash      bool
	UseSemantic         bool
	SimilarityThreshold float64
}

// DefaultOptions enables both passes at the default threshold.
func DefaultOptions() Options {
	return Options{
		UseContentHash:      true,
		UseSemantic:         true,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Result carries the survivors and how many chunks were removed.
type Result struct {
	Chunks  []contextagg.ContextChunk
	Removed int
}

// Fingerprint returns the stable content hash used for exact dedup.
// Whitespace is trimmed so chunks differing only in surrounding blank space
// collapse to one fingerprint.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// Deduplicate applies the configured passes in order and reports the count of
// removed chunks for the dedup-rate metric.
func Deduplicate(chunks []contextagg.ContextChunk, opts Options) Result {
	survivors := chunks
	if opts.UseContentHash {
		survivors = exactPass(survivors)
	}
	if opts.UseSemantic {
		threshold := opts.SimilarityThreshold
		if threshold <= 0 {
			threshold = DefaultSimilarityThreshold
		}
		survivors = semanticPass(survivors, threshold)
	}
	return Result{
		Chunks:  survivors,
		Removed: len(chunks) - len(survivors),
	}
}

// exactPass keeps the first occurrence per content fingerprint.
func exactPass(chunks []contextagg.ContextChunk) []contextagg.ContextChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]contextagg.ContextChunk, 0, len(chunks))
	for _, c := range chunks {
		fp := Fingerprint(c.Content)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, c)
	}
	return out
}

// semanticPass groups chunks by pairwise cosine similarity and keeps the
// highest-relevance member of each group. Chunks without embeddings are
// never grouped and always survive.
func semanticPass(chunks []contextagg.ContextChunk, threshold float64) []contextagg.ContextChunk {
	n := len(chunks)
	if n < 2 {
		return chunks
	}

	// keeper[i] is the index of the chunk that subsumes i, or i itself.
	keeper := make([]int, n)
	for i := range keeper {
		keeper[i] = i
	}

	for i := 0; i < n; i++ {
		if keeper[i] != i || len(chunks[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if keeper[j] != j || len(chunks[j].Embedding) == 0 {
				continue
			}
			sim := CosineSimilarity(chunks[i].Embedding, chunks[j].Embedding)
			if sim < threshold {
				continue
			}
			// Higher relevance wins; the lower original index wins ties.
			if chunks[j].Relevance > chunks[i].Relevance {
				keeper[i] = j
				break
			}
			keeper[j] = i
		}
	}

	out := make([]contextagg.ContextChunk, 0, n)
	for i, c := range chunks {
		if keeper[i] == i {
			out = append(out, c)
		}
	}
	return out
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero-magnitude vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
