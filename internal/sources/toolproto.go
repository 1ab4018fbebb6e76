// Tool protocol adapter - context retrieval from an external tool server
// speaking JSON-RPC over websocket.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

// ToolProtoAdapter calls an external tool-protocol server.
//
// Each Retrieve dials, issues one "context/search" JSON-RPC call, reads the
// matching response, and closes. One connection per query keeps the adapter
// stateless across requests; the backend multiplexes nothing.
type ToolProtoAdapter struct {
	cfg    config.SourceConfig
	nextID atomic.Int64
}

// NewToolProtoAdapter creates an uninitialized adapter.
func NewToolProtoAdapter() *ToolProtoAdapter {
	return &ToolProtoAdapter{}
}

// Kind identifies the backend.
func (a *ToolProtoAdapter) Kind() contextagg.SourceKind {
	return contextagg.SourceToolProto
}

// Initialize validates the websocket endpoint.
func (a *ToolProtoAdapter) Initialize(cfg config.SourceConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("tool_proto: endpoint not configured")
	}
	a.cfg = cfg
	return nil
}

// IsAvailable dials the endpoint and closes immediately.
func (a *ToolProtoAdapter) IsAvailable(ctx context.Context) bool {
	if a.cfg.Endpoint == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, a.cfg.Endpoint, a.dialOptions())
	if err != nil {
		return false
	}
	conn.Close(websocket.StatusNormalClosure, "probe")
	return true
}

// Retrieve issues one context/search call.
func (a *ToolProtoAdapter) Retrieve(ctx context.Context, q contextagg.SourceQuery) contextagg.SourceResult {
	if a.cfg.Endpoint == "" {
		return contextagg.SourceResult{Err: "tool_proto: not initialized"}
	}
	return runWithRetry(ctx, a.Kind(), q, a.cfg.RetryAttempts, func(ctx context.Context) ([]contextagg.ContextChunk, error) {
		return a.call(ctx, q)
	})
}

// Dispose is a no-op: connections are per-call.
func (a *ToolProtoAdapter) Dispose() error { return nil }

func (a *ToolProtoAdapter) dialOptions() *websocket.DialOptions {
	opts := &websocket.DialOptions{}
	if a.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + a.cfg.APIKey}}
	}
	return opts
}

func (a *ToolProtoAdapter) call(ctx context.Context, q contextagg.SourceQuery) ([]contextagg.ContextChunk, error) {
	conn, _, err := websocket.Dial(ctx, a.cfg.Endpoint, a.dialOptions())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	id := a.nextID.Add(1)
	req, err := a.buildCall(id, q)
	if err != nil {
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return nil, fmt.Errorf("write call: %w", err)
	}

	// Read until the response matching our call id arrives. Servers may
	// interleave notifications.
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		msg := gjson.ParseBytes(raw)
		if msg.Get("id").Int() != id {
			continue
		}
		if errMsg := msg.Get("error.message"); errMsg.Exists() {
			return nil, fmt.Errorf("backend error: %s", errMsg.String())
		}
		return a.parseItems(msg.Get("result.items")), nil
	}
}

func (a *ToolProtoAdapter) buildCall(id int64, q contextagg.SourceQuery) ([]byte, error) {
	body := []byte(`{"jsonrpc":"2.0","method":"context/search"}`)
	var err error
	if body, err = sjson.SetBytes(body, "id", id); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "params.query", q.Text); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "params.limit", q.MaxChunks); err != nil {
		return nil, err
	}
	if len(q.Filters.Paths) > 0 {
		if body, err = sjson.SetBytes(body, "params.paths", q.Filters.Paths); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (a *ToolProtoAdapter) parseItems(items gjson.Result) []contextagg.ContextChunk {
	chunks := make([]contextagg.ContextChunk, 0, int(items.Get("#").Int()))
	items.ForEach(func(_, item gjson.Result) bool {
		content := item.Get("content").String()
		if content == "" {
			return true
		}
		chunk := contextagg.ContextChunk{
			ID:        item.Get("id").String(),
			Content:   content,
			Source:    contextagg.SourceToolProto,
			Relevance: clampScore(item.Get("relevance").Float()),
			Provenance: contextagg.ChunkProvenance{
				Symbol: item.Get("tool").String(),
			},
		}
		if ts := item.Get("ts").Int(); ts > 0 {
			chunk.Provenance.Timestamp = time.Unix(ts, 0).UTC()
		}
		chunks = append(chunks, chunk)
		return true
	})
	return chunks
}
