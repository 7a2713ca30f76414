// Package refpattern holds the ordered heading and citation policies used to find
// provider-injected reference sections and implicit legal citations in answer text.
package refpattern

import (
	"regexp"
	"strings"
)

const headingWords = `參考資料|參考文獻|參考來源|資料來源|引用來源|法源依據|References|Sources|Citations`

// Policy pairs a heading pattern with how a matched block should be interpreted.
type Policy struct {
	Name    string
	Pattern *regexp.Regexp
	// Itemised marks structured list blocks whose bullet items become references.
	Itemised bool
}

// Evaluated first-match-wins; more structured shapes come first.
var defaultPolicies = []Policy{
	{
		Name:     "divider-heading",
		Pattern:  regexp.MustCompile(`(?im)^[ \t]*-{3,}[ \t]*\r?\n(?:[ \t]*\r?\n)*[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*)?(?:` + headingWords + `)(?:\*\*)?[ \t]*[:：]?`),
		Itemised: true,
	},
	{
		Name:    "inline-divider",
		Pattern: regexp.MustCompile(`(?i)-{3,}[ \t]*(?:\*\*)?(?:` + headingWords + `)(?:\*\*)?[ \t]*[:：]`),
	},
	{
		Name:     "markdown-heading",
		Pattern:  regexp.MustCompile(`(?im)^[ \t]*#{1,6}[ \t]*(?:\*\*)?(?:` + headingWords + `)(?:\*\*)?[ \t]*[:：]?[ \t]*$`),
		Itemised: true,
	},
	{
		Name:     "bold-heading",
		Pattern:  regexp.MustCompile(`(?im)^[ \t]*\*\*(?:` + headingWords + `)[:：]?\*\*[ \t]*[:：]?[ \t]*$`),
		Itemised: true,
	},
	{
		Name:    "label-line",
		Pattern: regexp.MustCompile(`(?im)^[ \t]*(?:` + headingWords + `)[ \t]*[:：]`),
	},
}

// Policies returns a copy of the default heading policy table.
func Policies() []Policy {
	out := make([]Policy, len(defaultPolicies))
	copy(out, defaultPolicies)
	return out
}

// Match describes a located reference block.
type Match struct {
	Policy Policy
	// Start is the byte offset where the block begins.
	Start int
	// Body is the block text after the heading line.
	Body string
}

// MatchBlock finds the trailing reference block using the default policies.
func MatchBlock(text string) (Match, bool) {
	return MatchBlockWith(defaultPolicies, text)
}

// MatchBlockWith evaluates policies in order and returns the first that matches.
// When a policy matches more than once the last occurrence is used, since reference
// sections trail the answer.
func MatchBlockWith(policies []Policy, text string) (Match, bool) {
	for _, p := range policies {
		locs := p.Pattern.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		loc := locs[len(locs)-1]
		return Match{
			Policy: p,
			Start:  loc[0],
			Body:   text[loc[1]:],
		}, true
	}
	return Match{}, false
}

// HasBlock reports whether text carries a reference section.
func HasBlock(text string) bool {
	_, ok := MatchBlock(text)
	return ok
}

// StripBlock removes a trailing reference block, returning text unchanged when none is found.
func StripBlock(text string) string {
	m, ok := MatchBlock(text)
	if !ok {
		return text
	}
	return strings.TrimRight(text[:m.Start], " \t\r\n")
}

var bulletLine = regexp.MustCompile(`^[ \t]*(?:[-*•·]|\d+[.)、]|\[\d+\])[ \t]+(.+?)[ \t]*$`)

// BulletItems returns the text of each bullet line in block, in order.
func BulletItems(block string) []string {
	var items []string
	for _, line := range strings.Split(block, "\n") {
		m := bulletLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		items = append(items, m[1])
	}
	return items
}

var (
	statuteArticle = regexp.MustCompile(`《[^《》\n]{1,40}》[ \t]*第[ \t]*[0-9０-９一二三四五六七八九十百千零〇]+(?:[ \t]*條)?(?:之[0-9０-９一二三四五六七八九十]+)?`)
	statuteName    = regexp.MustCompile(`《[^《》\n]{1,40}》`)
	urlPattern     = regexp.MustCompile(`https?://[^\s\]\)\>\<"'）》」]+`)
)

// StatuteArticles returns every bracketed code-plus-article citation in order of appearance.
func StatuteArticles(text string) []string {
	return statuteArticle.FindAllString(text, -1)
}

// StatuteNames returns every bracketed statute name in order of appearance.
func StatuteNames(text string) []string {
	return statuteName.FindAllString(text, -1)
}

// URLs returns every http(s) URL in text with trailing punctuation trimmed.
func URLs(text string) []string {
	raw := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = TrimURL(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// FirstURL returns the first URL in text.
func FirstURL(text string) (string, bool) {
	urls := URLs(text)
	if len(urls) == 0 {
		return "", false
	}
	return urls[0], true
}

// TrimURL drops sentence punctuation a URL match may have swallowed.
func TrimURL(u string) string {
	return strings.TrimRight(u, ".,;:!?。，；：！？、")
}
