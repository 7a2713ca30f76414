package models

// EventType names a downstream stream event.
type EventType string

const (
	EventThinkingStart EventType = "thinking_start"
	EventThinkingChunk EventType = "thinking_chunk"
	EventThinkingEnd   EventType = "thinking_end"
	EventAnswerStart   EventType = "answer_start"
	EventAnswerChunk   EventType = "answer_chunk"
	EventGrounding     EventType = "grounding"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

// Terminal reports whether no event may follow an event of this type.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// StreamEvent is the downstream wire entity written as one SSE data frame.
type StreamEvent struct {
	Type       EventType   `json:"type"`
	Content    string      `json:"content,omitempty"`
	References []Reference `json:"references,omitempty"`
	Message    string      `json:"message,omitempty"`
	// Answer carries the cleaned full answer from a backfill fetch on complete events.
	Answer string `json:"answer,omitempty"`
}
