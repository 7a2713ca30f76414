package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/metrics"
	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/provider"
	"lawchat-gateway/internal/reconcile"
	"lawchat-gateway/internal/relay"
)

const (
	strategyPrimary  = "primary"
	strategyDegraded = "degraded"
)

// Router answers questions through the fallback cascade: the full dual-call
// reconciliation first, then one degraded single call.
type Router struct {
	primary    provider.Provider
	fallback   provider.Provider
	reconciler *reconcile.Reconciler
	cfg        config.Config
	metrics    *metrics.Metrics
}

// New constructs a router backed by the providers in registry.
func New(registry *provider.Registry, cfg config.Config, m *metrics.Metrics) (*Router, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}

	primary, err := registry.Lookup(cfg.Providers.Primary.Name)
	if err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}

	fallback := primary
	if fb := cfg.Providers.Fallback; fb != nil {
		if fallback, err = registry.Lookup(fb.Name); err != nil {
			return nil, fmt.Errorf("fallback provider: %w", err)
		}
	}

	rec, err := reconcile.New(primary, reconcile.Settings{
		Generation:     cfg.Generation,
		Prompts:        cfg.Prompts,
		RequestTimeout: cfg.Upstream.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Router{
		primary:    primary,
		fallback:   fallback,
		reconciler: rec,
		cfg:        cfg,
		metrics:    m,
	}, nil
}

// Answer returns the reconciled answer for question.
func (r *Router) Answer(ctx context.Context, question string, opts reconcile.Options) (*models.ReconciledAnswer, error) {
	cascade := Cascade[*models.ReconciledAnswer]{
		Operation: "answer",
		Metrics:   r.metrics,
		Strategies: []Strategy[*models.ReconciledAnswer]{
			{Name: strategyPrimary, Run: func(ctx context.Context) (*models.ReconciledAnswer, error) {
				return r.reconciler.Reconcile(ctx, question, opts)
			}},
			{Name: strategyDegraded, Run: func(ctx context.Context) (*models.ReconciledAnswer, error) {
				return r.degradedAnswer(ctx, question, opts)
			}},
		},
	}

	ans, outcomes, err := cascade.Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(outcomes) > 1 {
		slog.Info("answered by degraded fallback", "provider", r.fallback.Name())
	}
	return ans, nil
}

func (r *Router) degradedAnswer(ctx context.Context, question string, opts reconcile.Options) (*models.ReconciledAnswer, error) {
	if t := r.cfg.Upstream.RequestTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	resp, err := r.fallback.Complete(ctx, r.degradedRequest(question))
	if err != nil {
		return nil, err
	}
	return reconcile.Finish(resp, nil, reconcile.Options{ShowReferences: opts.ShowReferences})
}

// degradedRequest is the simpler fallback call: no grounding, no thinking.
func (r *Router) degradedRequest(question string) models.CompletionRequest {
	req := models.CompletionRequest{
		Prompt:            question,
		SystemInstruction: r.cfg.Prompts.Fallback,
		MaxOutputTokens:   r.cfg.FallbackGeneration.MaxOutputTokens,
	}
	if t := r.cfg.FallbackGeneration.Temperature; t != nil {
		req.Temperature = *t
	}
	return req
}

// Stream is an opened upstream stream waiting to be relayed.
type Stream struct {
	body  io.ReadCloser
	relay *relay.Relay
}

// Run relays the upstream stream to sink. It must be called exactly once.
func (s *Stream) Run(ctx context.Context, sink relay.Sink) error {
	return s.relay.Run(ctx, s.body, sink)
}

// Close releases the upstream body when Run is never called.
func (s *Stream) Close() error {
	return s.body.Close()
}

// OpenStream opens the upstream stream through the cascade. Failures here happen
// before any downstream byte is written, so callers can still answer with an error status.
func (r *Router) OpenStream(ctx context.Context, question string, opts reconcile.Options) (*Stream, error) {
	cascade := Cascade[io.ReadCloser]{
		Operation: "stream",
		Metrics:   r.metrics,
		Strategies: []Strategy[io.ReadCloser]{
			{Name: strategyPrimary, Run: func(ctx context.Context) (io.ReadCloser, error) {
				return r.primary.CompleteStream(ctx, r.reconciler.Request(question, opts.ShowReferences, opts))
			}},
			{Name: strategyDegraded, Run: func(ctx context.Context) (io.ReadCloser, error) {
				// The fallback provider may not stream; the degraded stream stays on the primary.
				return r.primary.CompleteStream(ctx, r.degradedRequest(question))
			}},
		},
	}

	body, outcomes, err := cascade.Run(ctx)
	if err != nil {
		return nil, err
	}

	showThinking := opts.ShowThinking && len(outcomes) == 1
	return &Stream{
		body: body,
		relay: relay.New(relay.Options{
			ShowThinking: showThinking,
			IdleTimeout:  r.cfg.Upstream.StreamIdleTimeout,
			Backfill:     r.backfill(question, opts),
		}),
	}, nil
}

// backfill fetches the full answer in the background while the stream is relayed,
// so citations can be completed. Nil when references are off.
func (r *Router) backfill(question string, opts reconcile.Options) relay.Backfiller {
	if !opts.ShowReferences {
		return nil
	}
	return func(ctx context.Context) (*models.ReconciledAnswer, error) {
		start := time.Now()
		ans, err := r.Answer(ctx, question, reconcile.Options{ShowReferences: opts.ShowReferences})
		if err != nil {
			return nil, err
		}
		slog.Debug("stream backfill complete", "elapsed_ms", time.Since(start).Milliseconds(), "references", len(ans.References))
		return ans, nil
	}
}
