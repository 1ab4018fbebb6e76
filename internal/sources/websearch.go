// Web search adapter - external search API for documentation tasks.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

// WebSearchAdapter queries a web search HTTP API.
//
// Backend contract: GET {endpoint}/search?q=...&count=N returning
// {"results": [{"title", "snippet", "url", "score"}]}. Results carry no
// embeddings, so web chunks only participate in exact dedup.
type WebSearchAdapter struct {
	cfg    config.SourceConfig
	client *http.Client
}

// NewWebSearchAdapter creates an uninitialized adapter.
func NewWebSearchAdapter() *WebSearchAdapter {
	return &WebSearchAdapter{}
}

// Kind identifies the backend.
func (a *WebSearchAdapter) Kind() contextagg.SourceKind {
	return contextagg.SourceWebSearch
}

// Initialize prepares the HTTP client.
func (a *WebSearchAdapter) Initialize(cfg config.SourceConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("web_search: endpoint not configured")
	}
	a.cfg = cfg
	a.client = &http.Client{Timeout: cfg.Timeout()}
	return nil
}

// IsAvailable probes the backend root.
func (a *WebSearchAdapter) IsAvailable(ctx context.Context) bool {
	return probeHTTP(ctx, a.client, a.cfg.Endpoint+"/health")
}

// Retrieve issues the search and converts results to chunks.
func (a *WebSearchAdapter) Retrieve(ctx context.Context, q contextagg.SourceQuery) contextagg.SourceResult {
	if a.client == nil {
		return contextagg.SourceResult{Err: "web_search: not initialized"}
	}
	return runWithRetry(ctx, a.Kind(), q, a.cfg.RetryAttempts, func(ctx context.Context) ([]contextagg.ContextChunk, error) {
		u := a.cfg.Endpoint + "/search?q=" + url.QueryEscape(q.Text) +
			"&count=" + strconv.Itoa(q.MaxChunks)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if a.cfg.APIKey != "" {
			req.Header.Set("X-Api-Key", a.cfg.APIKey)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := readCapped(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
		}
		return a.parseResults(raw), nil
	})
}

// Dispose releases the HTTP client's idle connections.
func (a *WebSearchAdapter) Dispose() error {
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	return nil
}

func (a *WebSearchAdapter) parseResults(raw []byte) []contextagg.ContextChunk {
	results := gjson.GetBytes(raw, "results")
	chunks := make([]contextagg.ContextChunk, 0, int(results.Get("#").Int()))
	results.ForEach(func(_, r gjson.Result) bool {
		content := r.Get("snippet").String()
		if title := r.Get("title").String(); title != "" {
			content = title + "\n" + content
		}
		if content == "" {
			return true
		}
		chunks = append(chunks, contextagg.ContextChunk{
			ID:        r.Get("url").String(),
			Content:   content,
			Source:    contextagg.SourceWebSearch,
			Relevance: clampScore(r.Get("score").Float()),
			Provenance: contextagg.ChunkProvenance{
				URL: r.Get("url").String(),
			},
		})
		return true
	})
	return chunks
}
