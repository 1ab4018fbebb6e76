// Package tokens provides token counting for budget enforcement.
//
// DESIGN: Two counters behind one interface:
//   - TiktokenCounter: exact BPE counts via tiktoken (cl100k_base)
//   - HeuristicCounter: chars/4 estimate, no dependencies, never fails
//
// One request must use a single counter throughout so the budget invariant
// holds against whatever counting method is configured.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// EstimateRatio is the approximate number of characters per token.
const EstimateRatio = 4

// DefaultEncoding is the BPE encoding used for exact counts.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
	Name() string
}

// =============================================================================
// Heuristic counter
// =============================================================================

// HeuristicCounter estimates tokens as len(text)/EstimateRatio, rounded up.
type HeuristicCounter struct{}

// Count returns the estimated token count.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + EstimateRatio - 1) / EstimateRatio
}

// Name returns the counter identifier.
func (HeuristicCounter) Name() string { return "heuristic" }

// =============================================================================
// Tiktoken counter
// =============================================================================

// TiktokenCounter counts tokens with a real BPE tokenizer.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken

	mu sync.Mutex
}

// NewTiktokenCounter loads the named encoding (DefaultEncoding if empty).
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the exact token count for text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// Name returns the counter identifier.
func (c *TiktokenCounter) Name() string { return "tiktoken" }

// NewCounter returns the exact counter when requested and available, falling
// back to the heuristic. The fallback keeps the engine usable offline, where
// tiktoken cannot fetch its encoding files.
func NewCounter(exact bool) Counter {
	if exact {
		if c, err := NewTiktokenCounter(""); err == nil {
			return c
		}
	}
	return HeuristicCounter{}
}
