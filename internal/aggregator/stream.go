// Streaming delivery of assembled context.
package aggregator

import (
	"context"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

// StreamContext delivers the assembled chunks over a channel, in rank order.
//
// Rank-ordered streaming requires buffering until every source settles, so
// chunks start flowing only after assembly completes (the latency-for-order
// trade from the concurrency model). The channel is closed when the budget
// is exhausted or the ranked list is drained. Single consumer.
//
// Validation failures surface as an error before any chunk is sent.
func (a *Aggregator) StreamContext(ctx context.Context, req *contextagg.ContextRequest) (<-chan contextagg.ContextChunk, error) {
	resp, err := a.GetContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan contextagg.ContextChunk)
	go func() {
		defer close(out)
		for _, c := range resp.Context.Chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
