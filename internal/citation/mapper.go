// Package citation turns grounding metadata and raw answer text into a numbered
// reference list and an answer annotated with inline footnote markers.
package citation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/refpattern"
)

const (
	maxSnippetRunes      = 150
	maxSpanTitleRunes    = 100
	minSupportRefRunes   = 20
	minInlineSpanRunes   = 10
	maxReferences        = 10
	placeholderTitle     = "Source"
	placeholderURL       = "#"
	ellipsis             = "..."
	footnoteAnchorPrefix = "#ref-"
)

// Result is the output of MapCitations.
type Result struct {
	References    []models.Reference
	AnnotatedText string
}

// MapCitations builds the reference list from md and inserts footnote markers into text.
// A nil or empty md yields no references and the text unchanged.
func MapCitations(text string, md *models.GroundingMetadata) Result {
	res := Result{References: []models.Reference{}, AnnotatedText: text}
	if md == nil {
		return res
	}

	switch {
	case len(md.GroundingChunks) > 0:
		res.References = referencesFromChunks(md.GroundingChunks)
	case len(md.GroundingSupports) > 0:
		res.References = referencesFromSupports(md.GroundingSupports)
	default:
		return res
	}

	if len(md.GroundingSupports) > 0 {
		res.AnnotatedText = insertMarkers(text, md.GroundingSupports, len(md.GroundingChunks))
	}
	return res
}

// ReferencesFromChunks maps grounding chunks to references in chunk order.
func ReferencesFromChunks(chunks []models.GroundingChunk) []models.Reference {
	return referencesFromChunks(chunks)
}

func referencesFromChunks(chunks []models.GroundingChunk) []models.Reference {
	refs := make([]models.Reference, 0, len(chunks))
	for i, chunk := range chunks {
		var src models.WebSource
		if chunk.Web != nil {
			src = *chunk.Web
		}

		title := strings.TrimSpace(src.Title)
		if title == "" {
			title = titleFromURL(src.URI)
		}

		refs = append(refs, models.Reference{
			ID:      i + 1,
			Title:   title,
			URL:     src.URI,
			Snippet: snippet(src.Snippet),
		})
	}
	return refs
}

func referencesFromSupports(supports []models.GroundingSupport) []models.Reference {
	seen := make(map[string]struct{}, len(supports))
	var refs []models.Reference
	for _, s := range supports {
		if len(refs) == maxReferences {
			break
		}
		span := s.SpanText()
		if utf8.RuneCountInString(span) <= minSupportRefRunes {
			continue
		}
		if _, dup := seen[span]; dup {
			continue
		}
		seen[span] = struct{}{}

		ref := models.Reference{ID: len(refs) + 1}
		if u, ok := refpattern.FirstURL(span); ok {
			ref.URL = u
			ref.Title = titleFromURL(u)
			if ref.Title == placeholderTitle {
				ref.Title = u
			}
		} else {
			ref.URL = placeholderURL
			ref.Title = truncateRunes(strings.TrimSpace(span), maxSpanTitleRunes, "")
		}
		refs = append(refs, ref)
	}
	if refs == nil {
		refs = []models.Reference{}
	}
	return refs
}

type spanMarker struct {
	span    string
	indices []int
}

func insertMarkers(text string, supports []models.GroundingSupport, chunkCount int) string {
	bySpan := make(map[string]*spanMarker)
	var markers []*spanMarker
	for _, s := range supports {
		span := s.SpanText()
		if len(s.GroundingChunkIndices) == 0 || utf8.RuneCountInString(span) <= minInlineSpanRunes {
			continue
		}
		var valid []int
		for _, idx := range s.GroundingChunkIndices {
			if idx >= 0 && idx < chunkCount {
				valid = append(valid, idx)
			}
		}
		if len(valid) == 0 {
			continue
		}
		m, ok := bySpan[span]
		if !ok {
			m = &spanMarker{span: span}
			bySpan[span] = m
			markers = append(markers, m)
		}
		for _, idx := range valid {
			if !containsInt(m.indices, idx) {
				m.indices = append(m.indices, idx)
			}
		}
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return utf8.RuneCountInString(markers[i].span) > utf8.RuneCountInString(markers[j].span)
	})

	var anchored []interval
	for _, m := range markers {
		start := findAnchor(text, m.span, anchored)
		if start < 0 {
			continue
		}
		end := start + len(m.span)
		marker := footnote(m.indices)
		text = text[:end] + marker + text[end:]

		for i := range anchored {
			if anchored[i].start >= end {
				anchored[i].start += len(marker)
				anchored[i].end += len(marker)
			}
		}
		anchored = append(anchored, interval{start: start, end: end + len(marker)})
	}
	return text
}

type interval struct {
	start, end int
}

// findAnchor returns the byte offset of the first occurrence of span that is outside
// any HTML tag and does not overlap an already anchored span or marker.
func findAnchor(text, span string, anchored []interval) int {
	from := 0
	for from <= len(text) {
		i := strings.Index(text[from:], span)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(span)
		if !insideTag(text, start) && !overlaps(anchored, start, end) {
			return start
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		from = start + size
	}
	return -1
}

// insideTag reports whether pos falls between a tag's opening "<" and its closing ">".
// A "<" only opens a tag when a letter or "/" follows it.
func insideTag(text string, pos int) bool {
	for open := strings.LastIndex(text[:pos], "<"); open >= 0; open = strings.LastIndex(text[:open], "<") {
		if !startsTag(text[open+1:]) {
			continue
		}
		end := strings.IndexByte(text[open:], '>')
		return end >= 0 && open+end >= pos
	}
	return false
}

func startsTag(rest string) bool {
	if rest == "" {
		return false
	}
	c := rest[0]
	return c == '/' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func overlaps(anchored []interval, start, end int) bool {
	for _, a := range anchored {
		if start < a.end && end > a.start {
			return true
		}
	}
	return false
}

func footnote(indices []int) string {
	var b strings.Builder
	b.WriteString("<sup>")
	for _, idx := range indices {
		n := idx + 1
		fmt.Fprintf(&b, `<a href="%s%d">[%d]</a>`, footnoteAnchorPrefix, n, n)
	}
	b.WriteString("</sup>")
	return b.String()
}

func snippet(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = truncateRunes(s, maxSnippetRunes, ellipsis)
	return &s
}

func truncateRunes(s string, max int, suffix string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + suffix
}

// titleFromURL derives a title from the URL's hostname, minus a leading "www.".
func titleFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return placeholderTitle
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return placeholderTitle
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
