package aggregator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

func TestStreamContext_EmitsChunksInRankOrder(t *testing.T) {
	agg := newAggregator(testConfig(),
		&fakeAdapter{kind: contextagg.SourceCodeIndex, chunks: []contextagg.ContextChunk{
			chunkFor(contextagg.SourceCodeIndex, "mid", "b", 0.5),
			chunkFor(contextagg.SourceCodeIndex, "top", "a", 0.9),
			chunkFor(contextagg.SourceCodeIndex, "low", "c", 0.1),
		}},
	)

	req := baseRequest()
	req.Sources = []contextagg.SourceKind{contextagg.SourceCodeIndex}

	chunks, err := agg.StreamContext(context.Background(), req)
	require.NoError(t, err)

	var ids []string
	for c := range chunks {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"top", "mid", "low"}, ids)
}

func TestStreamContext_InvalidRequestFailsBeforeStreaming(t *testing.T) {
	agg := newAggregator(testConfig())

	chunks, err := agg.StreamContext(context.Background(), &contextagg.ContextRequest{})
	assert.ErrorIs(t, err, contextagg.ErrInvalidRequest)
	assert.Nil(t, chunks)
}

func TestStreamContext_CancellationClosesChannel(t *testing.T) {
	agg := newAggregator(testConfig(),
		&fakeAdapter{kind: contextagg.SourceCodeIndex, chunks: []contextagg.ContextChunk{
			chunkFor(contextagg.SourceCodeIndex, "a", "1", 0.9),
			chunkFor(contextagg.SourceCodeIndex, "b", "2", 0.8),
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	req := baseRequest()
	req.Sources = []contextagg.SourceKind{contextagg.SourceCodeIndex}

	chunks, err := agg.StreamContext(ctx, req)
	require.NoError(t, err)

	// Consume one chunk, then cancel: the channel must close without the
	// consumer draining the rest.
	<-chunks
	cancel()

	for range chunks {
	}
}

func TestStreamContext_EmptyResultClosesImmediately(t *testing.T) {
	agg := newAggregator(testConfig(),
		&fakeAdapter{kind: contextagg.SourceCodeIndex, errMsg: "down"},
	)

	req := baseRequest()
	req.Sources = []contextagg.SourceKind{contextagg.SourceCodeIndex}

	chunks, err := agg.StreamContext(context.Background(), req)
	require.NoError(t, err)

	count := 0
	for range chunks {
		count++
	}
	assert.Equal(t, 0, count)
}
