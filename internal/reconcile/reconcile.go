// Package reconcile merges a grounded and an ungrounded completion of the same
// question into one answer with references and an optional thinking trace.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"lawchat-gateway/internal/citation"
	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/dedupe"
	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/provider"
)

// Options are the per-request display switches.
type Options struct {
	ShowReferences bool
	ShowThinking   bool
}

// Settings configure the upstream calls issued by a Reconciler.
type Settings struct {
	Generation     config.GenerationConfig
	Prompts        config.PromptsConfig
	RequestTimeout time.Duration
}

// Reconciler issues the two concurrent calls and merges their results.
type Reconciler struct {
	provider provider.Provider
	settings Settings
}

// New constructs a reconciler calling p.
func New(p provider.Provider, settings Settings) (*Reconciler, error) {
	if p == nil {
		return nil, errors.New("provider must not be nil")
	}
	return &Reconciler{provider: p, settings: settings}, nil
}

// Request builds the completion request for one side of the fan-out.
func (r *Reconciler) Request(question string, grounded bool, opts Options) models.CompletionRequest {
	instruction := r.settings.Prompts.Reasoning
	if grounded {
		instruction = r.settings.Prompts.Grounded
	}

	req := models.CompletionRequest{
		Prompt:            question,
		SystemInstruction: instruction,
		Grounding:         grounded,
		ThinkingBudget:    r.settings.Generation.ThinkingBudget,
		IncludeThoughts:   opts.ShowThinking,
		MaxOutputTokens:   r.settings.Generation.MaxOutputTokens,
	}
	if t := r.settings.Generation.Temperature; t != nil {
		req.Temperature = *t
	}
	return req
}

// Reconcile answers question from two concurrent upstream calls. It waits for both
// calls to settle and only fails when both failed.
func (r *Reconciler) Reconcile(ctx context.Context, question string, opts Options) (*models.ReconciledAnswer, error) {
	if r.settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.RequestTimeout)
		defer cancel()
	}

	var (
		grounded, ungrounded       *models.CompletionResponse
		groundedErr, ungroundedErr error
		g                          errgroup.Group
	)
	g.Go(func() error {
		grounded, groundedErr = r.provider.Complete(ctx, r.Request(question, true, opts))
		return nil
	})
	g.Go(func() error {
		ungrounded, ungroundedErr = r.provider.Complete(ctx, r.Request(question, false, opts))
		return nil
	})
	_ = g.Wait()

	var base *models.CompletionResponse
	switch {
	case groundedErr != nil && ungroundedErr != nil:
		return nil, &DualUpstreamFailure{Grounded: groundedErr, Ungrounded: ungroundedErr}
	case groundedErr != nil:
		slog.Warn("grounded upstream call failed, using ungrounded response", "provider", r.provider.Name(), "err", groundedErr)
		base, grounded = ungrounded, nil
	case ungroundedErr != nil:
		slog.Warn("ungrounded upstream call failed, using grounded response", "provider", r.provider.Name(), "err", ungroundedErr)
		base, ungrounded = grounded, nil
	case opts.ShowReferences:
		base = grounded
	default:
		base = withGrounding(ungrounded, grounded)
	}

	var thinking *string
	if opts.ShowThinking {
		thinking = chooseThinking(grounded, ungrounded)
	}

	return Finish(base, thinking, opts)
}

// Finish turns a single base response into the reconciled answer: it collapses duplicate
// answer parts, checks for truncation and empty answers and renders references.
func Finish(base *models.CompletionResponse, thinking *string, opts Options) (*models.ReconciledAnswer, error) {
	cand := base.FirstCandidate()
	if cand == nil {
		return nil, ErrEmptyAnswer
	}

	text, err := dedupe.Dedupe(*cand, opts.ShowReferences)
	if cand.FinishReason == finishMaxTokens {
		return nil, &TruncatedResponse{FinishReason: cand.FinishReason, Partial: text}
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyAnswer
	}

	answer := &models.ReconciledAnswer{
		Text:          text,
		Thinking:      thinking,
		References:    []models.Reference{},
		AnnotatedText: text,
		Response:      base,
	}
	if !opts.ShowReferences {
		return answer, nil
	}

	if md := cand.GroundingMetadata; md != nil && (len(md.GroundingChunks) > 0 || len(md.GroundingSupports) > 0) {
		res := citation.MapCitations(text, md)
		answer.References = res.References
		answer.AnnotatedText = res.AnnotatedText
		return answer, nil
	}

	res := citation.Extract(text)
	answer.References = res.References
	answer.AnnotatedText = res.CleanedText
	return answer, nil
}

// withGrounding returns a copy of base whose first candidate carries the grounding
// metadata of other, when base has none of its own.
func withGrounding(base, other *models.CompletionResponse) *models.CompletionResponse {
	src := other.FirstCandidate()
	if src == nil || src.GroundingMetadata == nil || base.FirstCandidate() == nil {
		return base
	}
	if base.FirstCandidate().GroundingMetadata != nil {
		return base
	}

	out := *base
	out.Candidates = append([]models.Candidate(nil), base.Candidates...)
	out.Candidates[0].GroundingMetadata = src.GroundingMetadata
	return &out
}

// chooseThinking picks the thinking trace of the response that reasoned more.
// Reasoning token counts decide when both are reported, text length otherwise.
// A side without any thinking text never wins; ties go to the grounded side.
func chooseThinking(grounded, ungrounded *models.CompletionResponse) *string {
	gText := grounded.FirstCandidate().ThinkingText()
	uText := ungrounded.FirstCandidate().ThinkingText()

	switch {
	case gText == "" && uText == "":
		return nil
	case uText == "":
		return &gText
	case gText == "":
		return &uText
	}

	gWeight, uWeight := grounded.ThoughtsTokens(), ungrounded.ThoughtsTokens()
	if gWeight <= 0 || uWeight <= 0 {
		gWeight, uWeight = utf8.RuneCountInString(gText), utf8.RuneCountInString(uText)
	}

	slog.Debug("selected thinking trace",
		"grounded_weight", gWeight,
		"ungrounded_weight", uWeight,
	)
	if uWeight > gWeight {
		return &uText
	}
	return &gText
}
