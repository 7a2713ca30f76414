package citation

import (
	"strings"
	"unicode/utf8"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/refpattern"
)

const minItemRunes = 5

// ExtractResult is the output of Extract.
type ExtractResult struct {
	CleanedText string
	References  []models.Reference
}

// Extract splits a trailing reference section from raw answer text. When no section
// heading is present it scans for implicit statute citations and bare URLs instead,
// leaving the text untouched. Non-string input yields an empty result.
func Extract(input any) ExtractResult {
	text, ok := input.(string)
	if !ok || text == "" {
		return ExtractResult{References: []models.Reference{}}
	}

	refs := newRefList()
	if m, found := refpattern.MatchBlock(text); found {
		if m.Policy.Itemised {
			for _, item := range refpattern.BulletItems(m.Body) {
				if utf8.RuneCountInString(item) > minItemRunes {
					refs.addTitle(item, "")
				}
			}
		}
		return ExtractResult{
			CleanedText: strings.TrimRight(text[:m.Start], " \t\r\n"),
			References:  refs.list(),
		}
	}

	for _, c := range refpattern.StatuteArticles(text) {
		refs.addTitle(c, "")
	}
	for _, name := range refpattern.StatuteNames(text) {
		if refs.coveredBy(name) {
			continue
		}
		refs.addTitle(name, "")
	}
	for _, u := range refpattern.URLs(text) {
		if refs.hasURL(u) {
			continue
		}
		refs.addTitle(titleFromURL(u), u)
	}

	return ExtractResult{CleanedText: text, References: refs.list()}
}

type refList struct {
	refs []models.Reference
}

func newRefList() *refList {
	return &refList{refs: []models.Reference{}}
}

func (l *refList) addTitle(title, url string) {
	if len(l.refs) == maxReferences {
		return
	}
	for _, r := range l.refs {
		if r.Title == title && r.URL == url {
			return
		}
	}
	l.refs = append(l.refs, models.Reference{
		ID:    len(l.refs) + 1,
		Title: title,
		URL:   url,
	})
}

// coveredBy reports whether a collected reference already mentions s.
func (l *refList) coveredBy(s string) bool {
	for _, r := range l.refs {
		if strings.Contains(r.Title, s) {
			return true
		}
	}
	return false
}

func (l *refList) hasURL(u string) bool {
	for _, r := range l.refs {
		if r.URL == u {
			return true
		}
	}
	return false
}

func (l *refList) list() []models.Reference {
	return l.refs
}
