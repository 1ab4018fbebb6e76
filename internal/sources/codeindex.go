// Code index adapter - vector similarity search over the repository index.
package sources

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

// CodeIndexAdapter queries the repository similarity-search service.
//
// Backend contract: POST {endpoint}/v1/search with
// {"query": ..., "top_k": ..., "filters": {"paths": [...], "languages": [...]}}
// returning {"results": [{"id", "content", "score", "path", "start_line",
// "end_line", "symbol", "embedding"}]}.
type CodeIndexAdapter struct {
	cfg    config.SourceConfig
	client *http.Client
}

// NewCodeIndexAdapter creates an uninitialized adapter.
func NewCodeIndexAdapter() *CodeIndexAdapter {
	return &CodeIndexAdapter{}
}

// Kind identifies the backend.
func (a *CodeIndexAdapter) Kind() contextagg.SourceKind {
	return contextagg.SourceCodeIndex
}

// Initialize prepares the HTTP client.
func (a *CodeIndexAdapter) Initialize(cfg config.SourceConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("code_index: endpoint not configured")
	}
	a.cfg = cfg
	a.client = &http.Client{Timeout: cfg.Timeout()}
	return nil
}

// IsAvailable probes the backend health endpoint.
func (a *CodeIndexAdapter) IsAvailable(ctx context.Context) bool {
	return probeHTTP(ctx, a.client, a.cfg.Endpoint+"/health")
}

// Retrieve translates the query into a similarity search call.
func (a *CodeIndexAdapter) Retrieve(ctx context.Context, q contextagg.SourceQuery) contextagg.SourceResult {
	if a.client == nil {
		return contextagg.SourceResult{Err: "code_index: not initialized"}
	}
	return runWithRetry(ctx, a.Kind(), q, a.cfg.RetryAttempts, func(ctx context.Context) ([]contextagg.ContextChunk, error) {
		body, err := a.buildSearchBody(q)
		if err != nil {
			return nil, err
		}
		raw, err := postJSON(ctx, a.client, a.cfg.Endpoint+"/v1/search", a.cfg.APIKey, body)
		if err != nil {
			return nil, err
		}
		return a.parseResults(raw), nil
	})
}

// Dispose releases the HTTP client's idle connections.
func (a *CodeIndexAdapter) Dispose() error {
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	return nil
}

func (a *CodeIndexAdapter) buildSearchBody(q contextagg.SourceQuery) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "query", q.Text); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "top_k", q.MaxChunks); err != nil {
		return nil, err
	}
	if len(q.Filters.Paths) > 0 {
		if body, err = sjson.SetBytes(body, "filters.paths", q.Filters.Paths); err != nil {
			return nil, err
		}
	}
	if len(q.Filters.Languages) > 0 {
		if body, err = sjson.SetBytes(body, "filters.languages", q.Filters.Languages); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (a *CodeIndexAdapter) parseResults(raw []byte) []contextagg.ContextChunk {
	results := gjson.GetBytes(raw, "results")
	chunks := make([]contextagg.ContextChunk, 0, int(results.Get("#").Int()))
	results.ForEach(func(_, r gjson.Result) bool {
		chunk := contextagg.ContextChunk{
			ID:        r.Get("id").String(),
			Content:   r.Get("content").String(),
			Source:    contextagg.SourceCodeIndex,
			Relevance: clampScore(r.Get("score").Float()),
			Provenance: contextagg.ChunkProvenance{
				FilePath:  r.Get("path").String(),
				StartLine: int(r.Get("start_line").Int()),
				EndLine:   int(r.Get("end_line").Int()),
				Symbol:    r.Get("symbol").String(),
			},
		}
		if emb := r.Get("embedding"); emb.IsArray() {
			arr := emb.Array()
			chunk.Embedding = make([]float32, len(arr))
			for i, v := range arr {
				chunk.Embedding[i] = float32(v.Float())
			}
		}
		if chunk.Content != "" {
			chunks = append(chunks, chunk)
		}
		return true
	})
	return chunks
}

