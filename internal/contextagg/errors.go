// Error taxonomy for the aggregation engine.
//
// DESIGN: Only configuration problems terminate a request. Source and cache
// failures degrade the response instead: sources report through
// SourceContribution.Error, cache failures are treated as misses.
package contextagg

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is the base error for malformed requests. The aggregator
// raises it synchronously from validation, before any network call.
var ErrInvalidRequest = errors.New("invalid context request")

// ErrInvalidConfig is the base error for invalid configuration.
var ErrInvalidConfig = errors.New("invalid aggregator config")

// ValidateRequest checks a request before any work is done.
// The only failure mode that reaches the caller as an error.
func ValidateRequest(req *ContextRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.Query == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidRequest, req.MaxTokens)
	}
	if req.ReservedTokens < 0 {
		return fmt.Errorf("%w: reserved_tokens must not be negative, got %d", ErrInvalidRequest, req.ReservedTokens)
	}
	if req.ReservedTokens >= req.MaxTokens {
		return fmt.Errorf("%w: reserved_tokens %d leaves no effective budget under max_tokens %d",
			ErrInvalidRequest, req.ReservedTokens, req.MaxTokens)
	}
	for _, s := range req.Sources {
		if SourceKindFromString(string(s)) == SourceUnknown {
			return fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, s)
		}
	}
	for s, p := range req.Priorities {
		if p < 0 {
			return fmt.Errorf("%w: negative priority %d for source %q", ErrInvalidRequest, p, s)
		}
	}
	return nil
}
