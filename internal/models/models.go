package models

import "strings"

// CompletionRequest is the canonical representation of a single upstream completion call.
type CompletionRequest struct {
	Prompt            string
	SystemInstruction string
	Grounding         bool
	ThinkingBudget    int
	IncludeThoughts   bool
	Temperature       float64
	MaxOutputTokens   int
}

// CompletionResponse mirrors the provider-native generateContent response.
type CompletionResponse struct {
	Candidates    []Candidate `json:"candidates"`
	UsageMetadata *Usage      `json:"usageMetadata,omitempty"`
	ModelVersion  string      `json:"modelVersion,omitempty"`
}

// FirstCandidate returns the first candidate, or nil when the response carries none.
func (r *CompletionResponse) FirstCandidate() *Candidate {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// ThoughtsTokens reports the reasoning token count, zero when usage is absent.
func (r *CompletionResponse) ThoughtsTokens() int {
	if r == nil || r.UsageMetadata == nil {
		return 0
	}
	return r.UsageMetadata.ThoughtsTokenCount
}

// Candidate is one generated answer. Delta is only populated on streamed fragments.
type Candidate struct {
	Content           *Content           `json:"content,omitempty"`
	Delta             *Content           `json:"delta,omitempty"`
	FinishReason      string             `json:"finishReason,omitempty"`
	Index             int                `json:"index"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// Parts returns the candidate's content parts, nil when content is absent.
func (c *Candidate) Parts() []Part {
	if c == nil || c.Content == nil {
		return nil
	}
	return c.Content.Parts
}

// AnswerParts returns the non-thought parts in order.
func (c *Candidate) AnswerParts() []Part {
	var out []Part
	for _, p := range c.Parts() {
		if !p.Thought {
			out = append(out, p)
		}
	}
	return out
}

// ThinkingText concatenates all thought parts.
func (c *Candidate) ThinkingText() string {
	var b strings.Builder
	for _, p := range c.Parts() {
		if p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Content holds an ordered list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a fragment of text; Thought marks chain-of-thought text.
type Part struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

// Usage records token accounting information.
type Usage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// GroundingMetadata carries the search citations attached to a grounded answer.
type GroundingMetadata struct {
	WebSearchQueries  []string           `json:"webSearchQueries,omitempty"`
	GroundingChunks   []GroundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []GroundingSupport `json:"groundingSupports,omitempty"`
}

// GroundingChunk is one cited source document.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// WebSource identifies a web document.
type WebSource struct {
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// GroundingSupport maps a span of answer text to the chunks backing it.
type GroundingSupport struct {
	Segment               *Segment `json:"segment,omitempty"`
	GroundingChunkIndices []int    `json:"groundingChunkIndices,omitempty"`
}

// SpanText returns the supported text, empty when the segment is absent.
func (s GroundingSupport) SpanText() string {
	if s.Segment == nil {
		return ""
	}
	return s.Segment.Text
}

// Segment is a span of answer text.
type Segment struct {
	StartIndex int    `json:"startIndex,omitempty"`
	EndIndex   int    `json:"endIndex,omitempty"`
	Text       string `json:"text"`
}

// Reference is one entry of the rendered reference list. IDs are 1-based and contiguous.
type Reference struct {
	ID      int     `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet *string `json:"snippet,omitempty"`
}

// ReconciledAnswer is the merged result of one user turn.
type ReconciledAnswer struct {
	Text          string
	Thinking      *string
	References    []Reference
	AnnotatedText string
	// Response is the base provider response the answer was derived from.
	Response *CompletionResponse
}
