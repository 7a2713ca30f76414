package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lawchat-gateway/internal/metrics"
	"lawchat-gateway/internal/provider"
	"lawchat-gateway/internal/reconcile"
)

// ErrRegionRestricted marks failures caused by the provider refusing the caller's region.
var ErrRegionRestricted = errors.New("upstream provider is not available in this region")

// Status classifies how one strategy attempt ended.
type Status int

const (
	StatusSucceeded Status = iota
	// StatusFailed is a retryable failure; the next strategy runs.
	StatusFailed
	// StatusRegionRestricted stops the cascade.
	StatusRegionRestricted
	// StatusFatal is a non-retryable failure that stops the cascade.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return metrics.OutcomeOK
	case StatusFailed:
		return metrics.OutcomeError
	case StatusRegionRestricted:
		return metrics.OutcomeRegion
	case StatusFatal:
		return metrics.OutcomeFatal
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Strategy is one attempt in a cascade.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Outcome records the result of one strategy attempt.
type Outcome struct {
	Strategy string
	Status   Status
	Err      error
	Elapsed  time.Duration
}

// CascadeError is returned when every strategy failed.
type CascadeError struct {
	Outcomes []Outcome
}

func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		parts = append(parts, fmt.Sprintf("%s: %v", o.Strategy, o.Err))
	}
	return "all upstream strategies failed: " + strings.Join(parts, "; ")
}

func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		errs = append(errs, o.Err)
	}
	return errs
}

// Cascade runs strategies in order until one succeeds, a failure is not worth
// retrying, or the strategies are exhausted.
type Cascade[T any] struct {
	Operation  string
	Strategies []Strategy[T]
	Metrics    *metrics.Metrics
}

// Run executes the cascade and returns the first successful value along with the
// outcome of every attempt made.
func (c Cascade[T]) Run(ctx context.Context) (T, []Outcome, error) {
	var zero T
	outcomes := make([]Outcome, 0, len(c.Strategies))

	for _, s := range c.Strategies {
		start := time.Now()
		v, err := s.Run(ctx)
		o := Outcome{Strategy: s.Name, Status: classify(err), Err: err, Elapsed: time.Since(start)}
		outcomes = append(outcomes, o)
		c.Metrics.CascadeAttempt(c.Operation, s.Name, o.Status.String())

		switch o.Status {
		case StatusSucceeded:
			return v, outcomes, nil
		case StatusRegionRestricted:
			slog.Warn("upstream refused caller region, not retrying", "operation", c.Operation, "strategy", s.Name, "err", err)
			return zero, outcomes, fmt.Errorf("%w: %w", ErrRegionRestricted, err)
		case StatusFatal:
			return zero, outcomes, err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, outcomes, ctxErr
		}
		slog.Warn("upstream strategy failed", "operation", c.Operation, "strategy", s.Name, "elapsed_ms", o.Elapsed.Milliseconds(), "err", err)
	}

	if len(outcomes) == 0 {
		return zero, outcomes, errors.New("cascade has no strategies")
	}
	if len(outcomes) == 1 {
		return zero, outcomes, outcomes[0].Err
	}
	return zero, outcomes, &CascadeError{Outcomes: outcomes}
}

// classify decides whether err is worth another strategy. Only upstream
// transport or HTTP failures are.
func classify(err error) Status {
	if err == nil {
		return StatusSucceeded
	}
	if provider.IsRegionRestricted(err) {
		return StatusRegionRestricted
	}

	var dual *reconcile.DualUpstreamFailure
	if provider.IsUpstream(err) || errors.As(err, &dual) {
		return StatusFailed
	}
	return StatusFatal
}
