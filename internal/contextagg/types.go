// Package contextagg defines the shared types for the context aggregation
// engine.
//
// DESIGN: All types that cross component boundaries live here:
//   - ContextRequest/ContextResponse: the inbound contract
//   - SourceQuery/SourceResult:       the adapter contract payloads
//   - ContextChunk:                   one retrieved unit of context
//   - SourceContribution:             per-source bookkeeping for one request
//
// Components (budget, dedup, rank, assemble, sources, cache) depend only on
// this package. This eliminates circular imports and provides clear contracts.
package contextagg

import "time"

// =============================================================================
// SOURCE KINDS - Closed set of known retrieval backends
// =============================================================================

// SourceKind identifies which retrieval backend a chunk or query belongs to.
type SourceKind string

const (
	SourceCodeIndex SourceKind = "code_index" // vector similarity search over the repo
	SourceRAG       SourceKind = "rag"        // augmented-retrieval pipeline
	SourceToolProto SourceKind = "tool_proto" // external tool-protocol backend
	SourceWebSearch SourceKind = "web_search" // web search API
	SourceUnknown   SourceKind = "unknown"
)

// String returns the source kind name.
func (k SourceKind) String() string {
	return string(k)
}

// SourceKindFromString converts a string to a SourceKind.
func SourceKindFromString(s string) SourceKind {
	switch s {
	case "code_index":
		return SourceCodeIndex
	case "rag":
		return SourceRAG
	case "tool_proto":
		return SourceToolProto
	case "web_search":
		return SourceWebSearch
	default:
		return SourceUnknown
	}
}

// KnownSourceKinds lists every kind the engine ships an adapter for.
func KnownSourceKinds() []SourceKind {
	return []SourceKind{SourceCodeIndex, SourceRAG, SourceToolProto, SourceWebSearch}
}

// =============================================================================
// TASK TYPES - Drive default source selection and priority weights
// =============================================================================

// TaskType tags a request with the kind of agent work it supports.
type TaskType string

const (
	TaskImplementation TaskType = "implementation"
	TaskReview         TaskType = "review"
	TaskDocumentation  TaskType = "documentation"
	TaskDebugging      TaskType = "debugging"
	TaskGeneral        TaskType = "general"
)

// OutputFormat selects the rendering of the assembled payload.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown" // structured block per chunk with metadata
	FormatPlain    OutputFormat = "plain"    // flat concatenation
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RetrievalHints narrow what the adapters search for.
type RetrievalHints struct {
	RelatedFiles []string `json:"related_files,omitempty"`
	Language     string   `json:"language,omitempty"`
	Framework    string   `json:"framework,omitempty"`
}

// ProcessingOptions control the post-retrieval pipeline for one request.
// The zero value asks for the configured defaults: deduplication runs
// whenever the server enables it, so SkipDedup is an opt-out.
type ProcessingOptions struct {
	SkipDedup   bool         `json:"skip_dedup"`
	Compress    bool         `json:"compress"`
	Diversify   bool         `json:"diversify"`
	Format      OutputFormat `json:"format,omitempty"`
	BypassCache bool         `json:"bypass_cache"`
	TimeoutMs   int          `json:"timeout_ms,omitempty"`
}

// ContextRequest is the caller's input. Immutable once issued.
type ContextRequest struct {
	// Query is the free-text retrieval query.
	Query string `json:"query"`

	// TaskType drives default source selection and priority weights.
	TaskType TaskType `json:"task_type"`

	// MaxTokens is the hard token ceiling for the assembled payload.
	MaxTokens int `json:"max_tokens"`

	// ReservedTokens is subtracted from MaxTokens to get the effective budget.
	// Zero means "use the configured default"; a caller cannot reserve less
	// than the server's budget.reserved_tokens setting.
	ReservedTokens int `json:"reserved_tokens,omitempty"`

	// Sources explicitly selects backends; empty means task-type defaults.
	Sources []SourceKind `json:"sources,omitempty"`

	// Priorities overrides per-source weights; missing sources default to 1.
	Priorities map[SourceKind]int `json:"priorities,omitempty"`

	Hints   RetrievalHints    `json:"hints,omitempty"`
	Options ProcessingOptions `json:"options,omitempty"`
}

// EffectiveBudget returns the token ceiling available for chunk selection.
func (r *ContextRequest) EffectiveBudget() int {
	b := r.MaxTokens - r.ReservedTokens
	if b < 0 {
		return 0
	}
	return b
}

// =============================================================================
// SOURCE QUERY - Derived per source by the aggregator
// =============================================================================

// SourceFilters narrow a backend search.
type SourceFilters struct {
	Paths     []string
	Languages []string
	Since     time.Time
	Until     time.Time
}

// SourceQuery is what one adapter receives for one request.
type SourceQuery struct {
	// Text to search with.
	Text string

	// MaxTokens is this source's allocated token ceiling.
	MaxTokens int

	// MaxChunks caps how many chunks the adapter may return.
	MaxChunks int

	Filters SourceFilters

	// Deadline bounds the backend call; zero means no per-query deadline.
	Deadline time.Time
}

// =============================================================================
// CHUNK - One retrieved unit of context. Value object, never mutated.
// =============================================================================

// ChunkProvenance records where a chunk came from.
type ChunkProvenance struct {
	FilePath  string    `json:"file_path,omitempty"`
	StartLine int       `json:"start_line,omitempty"`
	EndLine   int       `json:"end_line,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ContextChunk is one retrieved unit: content plus provenance and relevance.
// Chunks are value objects; pipeline stages filter and reorder but never
// mutate them.
type ContextChunk struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Source  SourceKind `json:"source"`

	// Relevance is the backend-reported score in [0,1].
	Relevance float64 `json:"relevance"`

	Provenance ChunkProvenance `json:"provenance,omitempty"`

	// TokenCount is the precomputed token count; 0 means not yet counted.
	TokenCount int `json:"token_count,omitempty"`

	// Embedding is used only for semantic dedup and diversification.
	// Discarded before final output unless the caller asks for it.
	Embedding []float32 `json:"embedding,omitempty"`
}

// =============================================================================
// SOURCE RESULT / CONTRIBUTION
// =============================================================================

// SourceResult is what one adapter call produces. Retrieve never fails:
// backend errors surface via Err with zero chunks.
type SourceResult struct {
	Chunks    []ContextChunk
	LatencyMs int64
	CacheHit  bool
	Err       string
}

// SourceContribution is the per-source bookkeeping record for one request.
// Exactly one contribution exists per queried source, success or failure.
type SourceContribution struct {
	Source     SourceKind `json:"source"`
	ChunkCount int        `json:"chunk_count"`
	TokensUsed int        `json:"tokens_used"`
	LatencyMs  int64      `json:"latency_ms"`
	CacheHit   bool       `json:"cache_hit"`
	Error      string     `json:"error,omitempty"`
}

// Succeeded reports whether the source returned without error.
func (c SourceContribution) Succeeded() bool {
	return c.Error == ""
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AssembledContext is the final bounded payload handed to the agent.
type AssembledContext struct {
	Text       string         `json:"text"`
	Chunks     []ContextChunk `json:"chunks"`
	TokenCount int            `json:"token_count"`
	Format     OutputFormat   `json:"format"`
}

// ResponseMetrics are stamped onto the response before caching.
type ResponseMetrics struct {
	LatencyMs         int64   `json:"latency_ms"`
	BudgetUtilization float64 `json:"budget_utilization"`
	DedupRate         float64 `json:"dedup_rate"`
	CacheHit          bool    `json:"cache_hit"`
	SourcesQueried    int     `json:"sources_queried"`
	SourcesSucceeded  int     `json:"sources_succeeded"`
}

// ContextResponse is the top-level result: cached and returned to the caller.
type ContextResponse struct {
	RequestID     string               `json:"request_id"`
	Context       AssembledContext     `json:"context"`
	Contributions []SourceContribution `json:"contributions"`
	Metrics       ResponseMetrics      `json:"metrics"`
	CreatedAt     time.Time            `json:"created_at"`
}
