package tokens_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/issuepilot/context-engine/internal/tokens"
)

func TestHeuristicCounter(t *testing.T) {
	c := tokens.HeuristicCounter{}

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("a"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
	assert.Equal(t, 25, c.Count(strings.Repeat("x", 100)))
	assert.Equal(t, "heuristic", c.Name())
}

func TestHeuristicCounter_Monotonic(t *testing.T) {
	c := tokens.HeuristicCounter{}
	prev := 0
	for i := 1; i <= 64; i++ {
		n := c.Count(strings.Repeat("a", i))
		assert.GreaterOrEqual(t, n, prev)
		prev = n
	}
}

func TestNewCounter_HeuristicByDefault(t *testing.T) {
	c := tokens.NewCounter(false)
	assert.Equal(t, "heuristic", c.Name())
}

func TestNewCounter_ExactNeverNil(t *testing.T) {
	// Exact mode may fall back to heuristic when the encoding cannot be
	// loaded, but it always returns a usable counter.
	c := tokens.NewCounter(true)
	assert.NotNil(t, c)
	assert.Positive(t, c.Count("hello world"))
}
