// Package rank orders deduplicated chunks by relevance.
//
// DESIGN: Pure functions of (chunks, priorities). Primary key is descending
// relevance; ties break by source priority, then by original retrieval order.
// The ranker never consults the budget: truncation is the assembler's job,
// which keeps the two concerns separately testable.
package rank

import (
	"sort"

	"github.com/issuepilot/context-engine/internal/contextagg"
	"github.com/issuepilot/context-engine/internal/dedup"
)

// Rank returns chunks in final selection order. The input slice is not
// modified.
func Rank(chunks []contextagg.ContextChunk, priorities map[contextagg.SourceKind]int) []contextagg.ContextChunk {
	type indexed struct {
		chunk contextagg.ContextChunk
		orig  int
	}
	idx := make([]indexed, len(chunks))
	for i, c := range chunks {
		idx[i] = indexed{chunk: c, orig: i}
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := idx[a].chunk, idx[b].chunk
		if ca.Relevance != cb.Relevance {
			return ca.Relevance > cb.Relevance
		}
		pa, pb := priorityFor(ca.Source, priorities), priorityFor(cb.Source, priorities)
		if pa != pb {
			return pa > pb
		}
		return idx[a].orig < idx[b].orig
	})

	out := make([]contextagg.ContextChunk, len(idx))
	for i, e := range idx {
		out[i] = e.chunk
	}
	return out
}

func priorityFor(s contextagg.SourceKind, priorities map[contextagg.SourceKind]int) int {
	if priorities == nil {
		return 1
	}
	if p, ok := priorities[s]; ok {
		return p
	}
	return 1
}

// DefaultDiversityLambda balances relevance against novelty in Diversify.
const DefaultDiversityLambda = 0.7

// Diversify reorders ranked chunks maximal-marginal-relevance style: each
// pick maximizes lambda*relevance - (1-lambda)*maxSimilarityToSelected.
// Chunks without embeddings contribute zero similarity and are ordered by
// relevance alone. Deterministic: equal scores keep the earlier candidate.
func Diversify(ranked []contextagg.ContextChunk, lambda float64) []contextagg.ContextChunk {
	if len(ranked) < 3 {
		return ranked
	}
	if lambda <= 0 || lambda > 1 {
		lambda = DefaultDiversityLambda
	}

	remaining := make([]contextagg.ContextChunk, len(ranked))
	copy(remaining, ranked)

	out := make([]contextagg.ContextChunk, 0, len(ranked))
	// Top-relevance chunk always leads.
	out = append(out, remaining[0])
	remaining = remaining[1:]

	for len(remaining) > 0 {
		best, bestScore := 0, -1.0
		for i, cand := range remaining {
			var maxSim float64
			if len(cand.Embedding) > 0 {
				for _, sel := range out {
					if len(sel.Embedding) == 0 {
						continue
					}
					if sim := dedup.CosineSimilarity(cand.Embedding, sel.Embedding); sim > maxSim {
						maxSim = sim
					}
				}
			}
			score := lambda*cand.Relevance - (1-lambda)*maxSim
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		out = append(out, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return out
}
