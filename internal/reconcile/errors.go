package reconcile

import (
	"fmt"

	"lawchat-gateway/internal/dedupe"
)

// ErrEmptyAnswer indicates the final answer text was blank.
var ErrEmptyAnswer = dedupe.ErrEmptyAnswer

const finishMaxTokens = "MAX_TOKENS"

// DualUpstreamFailure is returned when both the grounded and the ungrounded call failed.
type DualUpstreamFailure struct {
	Grounded   error
	Ungrounded error
}

func (e *DualUpstreamFailure) Error() string {
	return fmt.Sprintf("both upstream calls failed: grounded: %v; ungrounded: %v", e.Grounded, e.Ungrounded)
}

func (e *DualUpstreamFailure) Unwrap() []error {
	return []error{e.Grounded, e.Ungrounded}
}

// TruncatedResponse is returned when the upstream stopped at its output token limit.
type TruncatedResponse struct {
	FinishReason string
	// Partial is the answer text produced before the cutoff, possibly empty.
	Partial string
}

func (e *TruncatedResponse) Error() string {
	return fmt.Sprintf("upstream response truncated (finish reason %s)", e.FinishReason)
}
