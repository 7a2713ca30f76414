package relay

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/refpattern"
)

var (
	bracketMarkers = regexp.MustCompile(`\[\d+(?:\s*,\s*\d+)*\]`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// Cleanup strips a trailing references section and bracketed numeric citation markers
// and collapses runs of three or more newlines to two. Cleanup(Cleanup(s)) == Cleanup(s).
func Cleanup(text string) string {
	for {
		next := cleanupOnce(text)
		if next == text {
			return text
		}
		text = next
	}
}

// cleanupOnce never grows its input, so Cleanup reaches a fixed point.
func cleanupOnce(text string) string {
	out := strings.ReplaceAll(text, "\r\n", "\n")
	out = refpattern.StripBlock(out)
	out = bracketMarkers.ReplaceAllString(out, "")
	return excessNewlines.ReplaceAllString(out, "\n\n")
}

// CollapseDuplicateAnswers keeps the thought parts and the single longest answer part
// of a candidate carrying more than one answer part.
func CollapseDuplicateAnswers(c models.Candidate) models.Candidate {
	answers := c.AnswerParts()
	if len(answers) < 2 {
		return c
	}

	longest := answers[0]
	for _, p := range answers[1:] {
		if utf8.RuneCountInString(p.Text) > utf8.RuneCountInString(longest.Text) {
			longest = p
		}
	}

	parts := make([]models.Part, 0, len(c.Parts())-len(answers)+1)
	for _, p := range c.Parts() {
		if p.Thought {
			parts = append(parts, p)
		}
	}
	parts = append(parts, longest)

	content := *c.Content
	content.Parts = parts
	c.Content = &content
	return c
}
