package translator

import (
	"strings"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/reconcile"
)

// ChatRequest is the body accepted by both chat endpoints.
type ChatRequest struct {
	Question     string `json:"question" validate:"notblank"`
	EnableSearch bool   `json:"enableSearch"`
	ShowThinking bool   `json:"showThinking"`
}

// TrimmedQuestion returns the question without surrounding whitespace.
func (r ChatRequest) TrimmedQuestion() string {
	return strings.TrimSpace(r.Question)
}

// ToOptions maps the request flags onto reconciliation options. Search doubles
// as the switch for reference rendering.
func (r ChatRequest) ToOptions() reconcile.Options {
	return reconcile.Options{
		ShowReferences: r.EnableSearch,
		ShowThinking:   r.ShowThinking,
	}
}

// ChatResponse mirrors the provider response and adds the reconciled answer.
type ChatResponse struct {
	Candidates         []models.Candidate `json:"candidates"`
	UsageMetadata      *models.Usage      `json:"usageMetadata,omitempty"`
	ReconciledThinking *string            `json:"reconciledThinking,omitempty"`
	Answer             Answer             `json:"answer"`
}

// Answer is the rendered answer with its reference list.
type Answer struct {
	Text          string             `json:"text"`
	AnnotatedText string             `json:"annotatedText"`
	References    []models.Reference `json:"references"`
}

// FromReconciled builds the response body for a reconciled answer.
func FromReconciled(ans *models.ReconciledAnswer) ChatResponse {
	out := ChatResponse{
		Candidates: []models.Candidate{},
		Answer: Answer{
			Text:          ans.Text,
			AnnotatedText: ans.AnnotatedText,
			References:    ans.References,
		},
	}
	if out.Answer.References == nil {
		out.Answer.References = []models.Reference{}
	}
	if ans.Thinking != nil && *ans.Thinking != "" {
		out.ReconciledThinking = ans.Thinking
	}
	if resp := ans.Response; resp != nil {
		if resp.Candidates != nil {
			out.Candidates = resp.Candidates
		}
		out.UsageMetadata = resp.UsageMetadata
	}
	return out
}
