// RAG pipeline adapter - augmented-retrieval over curated docs and learnings.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

// RAGAdapter queries the augmented-retrieval pipeline service.
//
// Backend contract: POST {endpoint}/v1/retrieve with
// {"query", "limit", "language", "framework", "since"} returning
// {"documents": [{"id", "text", "relevance", "source_url", "updated_at",
// "embedding"}]}.
type RAGAdapter struct {
	cfg    config.SourceConfig
	client *http.Client
}

// NewRAGAdapter creates an uninitialized adapter.
func NewRAGAdapter() *RAGAdapter {
	return &RAGAdapter{}
}

// Kind identifies the backend.
func (a *RAGAdapter) Kind() contextagg.SourceKind {
	return contextagg.SourceRAG
}

// Initialize prepares the HTTP client.
func (a *RAGAdapter) Initialize(cfg config.SourceConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("rag: endpoint not configured")
	}
	a.cfg = cfg
	a.client = &http.Client{Timeout: cfg.Timeout()}
	return nil
}

// IsAvailable probes the backend health endpoint.
func (a *RAGAdapter) IsAvailable(ctx context.Context) bool {
	return probeHTTP(ctx, a.client, a.cfg.Endpoint+"/health")
}

// Retrieve translates the query into a pipeline retrieval call.
func (a *RAGAdapter) Retrieve(ctx context.Context, q contextagg.SourceQuery) contextagg.SourceResult {
	if a.client == nil {
		return contextagg.SourceResult{Err: "rag: not initialized"}
	}
	return runWithRetry(ctx, a.Kind(), q, a.cfg.RetryAttempts, func(ctx context.Context) ([]contextagg.ContextChunk, error) {
		body := []byte(`{}`)
		var err error
		if body, err = sjson.SetBytes(body, "query", q.Text); err != nil {
			return nil, err
		}
		if body, err = sjson.SetBytes(body, "limit", q.MaxChunks); err != nil {
			return nil, err
		}
		if len(q.Filters.Languages) > 0 {
			if body, err = sjson.SetBytes(body, "language", q.Filters.Languages[0]); err != nil {
				return nil, err
			}
		}
		if !q.Filters.Since.IsZero() {
			if body, err = sjson.SetBytes(body, "since", q.Filters.Since.Format(time.RFC3339)); err != nil {
				return nil, err
			}
		}

		raw, err := postJSON(ctx, a.client, a.cfg.Endpoint+"/v1/retrieve", a.cfg.APIKey, body)
		if err != nil {
			return nil, err
		}
		return a.parseDocuments(raw), nil
	})
}

// Dispose releases the HTTP client's idle connections.
func (a *RAGAdapter) Dispose() error {
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	return nil
}

func (a *RAGAdapter) parseDocuments(raw []byte) []contextagg.ContextChunk {
	docs := gjson.GetBytes(raw, "documents")
	chunks := make([]contextagg.ContextChunk, 0, int(docs.Get("#").Int()))
	docs.ForEach(func(_, d gjson.Result) bool {
		chunk := contextagg.ContextChunk{
			ID:        d.Get("id").String(),
			Content:   d.Get("text").String(),
			Source:    contextagg.SourceRAG,
			Relevance: clampScore(d.Get("relevance").Float()),
			Provenance: contextagg.ChunkProvenance{
				URL: d.Get("source_url").String(),
			},
		}
		if ts := d.Get("updated_at").String(); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				chunk.Provenance.Timestamp = t
			}
		}
		if emb := d.Get("embedding"); emb.IsArray() {
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
