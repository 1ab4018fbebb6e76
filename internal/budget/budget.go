// Package budget implements token budget allocation across context sources.
//
// DESIGN: Pure functions only. Each source's share is
// floor(totalBudget * priority / sum(priorities)); sources missing from the
// priority map default to weight 1. Integer flooring may leave a small
// remainder unallocated. The remainder is intentionally not redistributed,
// which bounds the sum of allocations from above by the total budget.
package budget

import (
	"github.com/issuepilot/context-engine/internal/contextagg"
)

// DefaultPriorityWeight is the weight for sources absent from a priority map.
const DefaultPriorityWeight = 1

// Allocate splits totalBudget across sources proportional to priorities.
// Returns an empty map when there are no sources or no budget.
func Allocate(sources []contextagg.SourceKind, priorities map[contextagg.SourceKind]int, totalBudget int) map[contextagg.SourceKind]int {
	alloc := make(map[contextagg.SourceKind]int, len(sources))
	if totalBudget <= 0 || len(sources) == 0 {
		return alloc
	}

	sum := 0
	for _, s := range sources {
		sum += weightFor(s, priorities)
	}
	if sum == 0 {
		return alloc
	}

	for _, s := range sources {
		alloc[s] = totalBudget * weightFor(s, priorities) / sum
	}
	return alloc
}

func weightFor(s contextagg.SourceKind, priorities map[contextagg.SourceKind]int) int {
	if priorities == nil {
		return DefaultPriorityWeight
	}
	w, ok := priorities[s]
	if !ok {
		return DefaultPriorityWeight
	}
	return w
}

// DefaultSources returns the source set a task type queries when the request
// does not name sources explicitly.
func DefaultSources(task contextagg.TaskType) []contextagg.SourceKind {
	switch task {
	case contextagg.TaskImplementation, contextagg.TaskDebugging:
		return []contextagg.SourceKind{
			contextagg.SourceCodeIndex,
			contextagg.SourceRAG,
			contextagg.SourceToolProto,
		}
	case contextagg.TaskReview:
		return []contextagg.SourceKind{
			contextagg.SourceCodeIndex,
			contextagg.SourceRAG,
		}
	case contextagg.TaskDocumentation:
		return []contextagg.SourceKind{
			contextagg.SourceWebSearch,
			contextagg.SourceRAG,
			contextagg.SourceCodeIndex,
		}
	default:
		return []contextagg.SourceKind{
			contextagg.SourceCodeIndex,
			contextagg.SourceRAG,
			contextagg.SourceToolProto,
			contextagg.SourceWebSearch,
		}
	}
}

// DefaultPriorities returns the per-source weights for a task type.
// Implementation work biases toward the code index; documentation work biases
// toward web search.
func DefaultPriorities(task contextagg.TaskType) map[contextagg.SourceKind]int {
	switch task {
	case contextagg.TaskImplementation, contextagg.TaskDebugging:
		return map[contextagg.SourceKind]int{
			contextagg.SourceCodeIndex: 4,
			contextagg.SourceRAG:       2,
			contextagg.SourceToolProto: 1,
		}
	case contextagg.TaskReview:
		return map[contextagg.SourceKind]int{
			contextagg.SourceCodeIndex: 3,
			contextagg.SourceRAG:       2,
		}
	case contextagg.TaskDocumentation:
		return map[contextagg.SourceKind]int{
			contextagg.SourceWebSearch: 4,
			contextagg.SourceRAG:       2,
			contextagg.SourceCodeIndex: 1,
		}
	default:
		return map[contextagg.SourceKind]int{
			contextagg.SourceCodeIndex: 2,
			contextagg.SourceRAG:       2,
			contextagg.SourceToolProto: 1,
			contextagg.SourceWebSearch: 1,
		}
	}
}
