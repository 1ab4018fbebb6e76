package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/issuepilot/context-engine/internal/budget"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

func TestAllocate_ProportionalSplit(t *testing.T) {
	sources := []contextagg.SourceKind{
		contextagg.SourceCodeIndex,
		contextagg.SourceRAG,
		contextagg.SourceToolProto,
	}
	priorities := map[contextagg.SourceKind]int{
		contextagg.SourceCodeIndex: 3,
		contextagg.SourceRAG:       2,
		contextagg.SourceToolProto: 1,
	}

	alloc := budget.Allocate(sources, priorities, 60)

	assert.Equal(t, 30, alloc[contextagg.SourceCodeIndex])
	assert.Equal(t, 20, alloc[contextagg.SourceRAG])
	assert.Equal(t, 10, alloc[contextagg.SourceToolProto])
}

func TestAllocate_FlooringLeavesRemainderUnallocated(t *testing.T) {
	sources := []contextagg.SourceKind{
		contextagg.SourceCodeIndex,
		contextagg.SourceRAG,
		contextagg.SourceToolProto,
	}
	// 100 over equal weights floors to 33 each, 1 token unallocated.
	alloc := budget.Allocate(sources, nil, 100)

	total := 0
	for _, n := range alloc {
		assert.Equal(t, 33, n)
		total += n
	}
	assert.Equal(t, 99, total)
}

func TestAllocate_SumNeverExceedsBudget(t *testing.T) {
	sources := []contextagg.SourceKind{
		contextagg.SourceCodeIndex,
		contextagg.SourceRAG,
		contextagg.SourceToolProto,
		contextagg.SourceWebSearch,
	}
	for _, total := range []int{1, 7, 100, 999, 4096, 100000} {
		priorities := map[contextagg.SourceKind]int{
			contextagg.SourceCodeIndex: 5,
			contextagg.SourceRAG:       3,
			contextagg.SourceWebSearch: 2,
		}
		alloc := budget.Allocate(sources, priorities, total)
		sum := 0
		for _, n := range alloc {
			sum += n
		}
		assert.LessOrEqual(t, sum, total, "budget %d", total)
	}
}

func TestAllocate_MissingPriorityDefaultsToOne(t *testing.T) {
	sources := []contextagg.SourceKind{
		contextagg.SourceCodeIndex,
		contextagg.SourceWebSearch,
	}
	priorities := map[contextagg.SourceKind]int{
		contextagg.SourceCodeIndex: 3,
	}

	alloc := budget.Allocate(sources, priorities, 80)

	assert.Equal(t, 60, alloc[contextagg.SourceCodeIndex])
	assert.Equal(t, 20, alloc[contextagg.SourceWebSearch])
}

func TestAllocate_Degenerate(t *testing.T) {
	assert.Empty(t, budget.Allocate(nil, nil, 100))
	assert.Empty(t, budget.Allocate([]contextagg.SourceKind{contextagg.SourceRAG}, nil, 0))
	assert.Empty(t, budget.Allocate([]contextagg.SourceKind{contextagg.SourceRAG}, nil, -5))

	// All-zero weights cannot be split.
	alloc := budget.Allocate(
		[]contextagg.SourceKind{contextagg.SourceRAG},
		map[contextagg.SourceKind]int{contextagg.SourceRAG: 0},
		100,
	)
	assert.Empty(t, alloc)
}

func TestDefaultSources_PerTaskType(t *testing.T) {
	impl := budget.DefaultSources(contextagg.TaskImplementation)
	assert.Contains(t, impl, contextagg.SourceCodeIndex)
	assert.NotContains(t, impl, contextagg.SourceWebSearch)

	doc := budget.DefaultSources(contextagg.TaskDocumentation)
	assert.Contains(t, doc, contextagg.SourceWebSearch)

	general := budget.DefaultSources(contextagg.TaskGeneral)
	assert.Len(t, general, 4)
}

func TestDefaultPriorities_ImplementationBiasesCodeIndex(t *testing.T) {
	p := budget.DefaultPriorities(contextagg.TaskImplementation)
	assert.Greater(t, p[contextagg.SourceCodeIndex], p[contextagg.SourceRAG])

	d := budget.DefaultPriorities(contextagg.TaskDocumentation)
	assert.Greater(t, d[contextagg.SourceWebSearch], d[contextagg.SourceCodeIndex])
}
