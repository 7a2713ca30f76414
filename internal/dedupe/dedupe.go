// Package dedupe collapses a candidate carrying several answer variants into one.
//
// The upstream model occasionally returns more than one non-thought part when its
// reasoning and search tool-use paths each complete separately. Which variant is
// preferable depends on whether the caller renders references.
package dedupe

import (
	"errors"
	"log/slog"
	"sort"
	"unicode/utf8"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/refpattern"
)

// ErrEmptyAnswer indicates the candidate carried no answer text at all.
var ErrEmptyAnswer = errors.New("upstream returned no answer text")

// Dedupe returns exactly one of the candidate's non-thought part texts, verbatim.
func Dedupe(candidate models.Candidate, preferReferences bool) (string, error) {
	parts := candidate.AnswerParts()
	switch len(parts) {
	case 0:
		return "", ErrEmptyAnswer
	case 1:
		return parts[0].Text, nil
	}

	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}

	var withRefs, withoutRefs []string
	for _, t := range texts {
		if refpattern.HasBlock(t) {
			withRefs = append(withRefs, t)
		} else {
			withoutRefs = append(withoutRefs, t)
		}
	}

	var chosen, rule string
	switch {
	case preferReferences && len(withRefs) > 0:
		chosen, rule = longest(withRefs), "longest-with-references"
	case preferReferences:
		chosen, rule = longest(texts), "longest-overall"
	case len(withoutRefs) > 0:
		chosen, rule = longest(withoutRefs), "longest-without-references"
	default:
		chosen, rule = shortest(texts), "shortest-overall"
	}

	slog.Debug("collapsed duplicate answer parts",
		"parts", len(texts),
		"with_references", len(withRefs),
		"prefer_references", preferReferences,
		"rule", rule,
	)
	return chosen, nil
}

func longest(texts []string) string {
	sorted := append([]string(nil), texts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})
	return sorted[0]
}

func shortest(texts []string) string {
	sorted := append([]string(nil), texts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) < utf8.RuneCountInString(sorted[j])
	})
	return sorted[0]
}
