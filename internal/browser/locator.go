package browser

import (
	"net/url"
	"regexp"
	"strings"
)

// Locator is a structural element address usable to re-find the same logical
// element across two independently rendered DOM trees. A document-unique id
// is preferred; otherwise a tag-indexed path from the document root is used.
// FrameKey scopes the address to a same-origin iframe (empty = top document).
type Locator struct {
	FrameKey string `json:"frame,omitempty"`
	ID       string `json:"id,omitempty"`
	Path     string `json:"path,omitempty"`
}

// IsZero reports whether the locator addresses nothing.
func (l Locator) IsZero() bool { return l.ID == "" && l.Path == "" }

// Key returns a stable identity string used for frontier deduplication.
func (l Locator) Key() string {
	if l.ID != "" {
		return l.FrameKey + "!#" + l.ID
	}
	return l.FrameKey + "!" + l.Path
}

// Clickable describes one discovered interactive element: its locator plus
// the semantic features used to find an equivalent element on the sibling
// deployment when the direct locator fails there.
type Clickable struct {
	Locator Locator `json:"locator"`
	Kind    string  `json:"kind"` // a, button, input, onclick
	Text    string  `json:"text"`
	Href    string  `json:"href,omitempty"`
	OnClick string  `json:"onclick,omitempty"`
}

// Equivalence scoring weights. The direct locator is always tried first;
// scoring only runs as a fallback, so the floor errs toward "not found"
// rather than clicking an unrelated element.
const (
	scoreExactText     = 4
	scoreSubstringText = 2
	scoreHrefPath      = 3
	scoreOnClick       = 2
	minEquivalentScore = 3
)

var jsNoiseRe = regexp.MustCompile(`\s+|;$`)

// normalizeHandler canonicalizes an inline handler for comparison: collapse
// whitespace, drop a trailing semicolon.
func normalizeHandler(js string) string {
	return jsNoiseRe.ReplaceAllString(strings.TrimSpace(js), "")
}

// hrefPath reduces an href to its path component so the two deployments'
// different hosts never defeat the comparison.
func hrefPath(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return u.Path
}

// scoreCandidate rates how well candidate matches the wanted descriptor.
// Candidates of a different kind never match.
func scoreCandidate(wanted, candidate Clickable) int {
	if wanted.Kind != candidate.Kind {
		return 0
	}
	score := 0

	wantText := strings.TrimSpace(wanted.Text)
	candText := strings.TrimSpace(candidate.Text)
	switch {
	case wantText != "" && wantText == candText:
		score += scoreExactText
	case wantText != "" && candText != "" &&
		(strings.Contains(candText, wantText) || strings.Contains(wantText, candText)):
		score += scoreSubstringText
	}

	if wp := hrefPath(wanted.Href); wp != "" && wp == hrefPath(candidate.Href) {
		score += scoreHrefPath
	}

	if wh := normalizeHandler(wanted.OnClick); wh != "" && wh == normalizeHandler(candidate.OnClick) {
		score += scoreOnClick
	}

	return score
}

// FindEquivalentIn scores candidates against the descriptor and returns the
// single top scorer above the minimum bar, or false when nothing qualifies.
// Ties are resolved in favor of the earliest candidate in document order.
func FindEquivalentIn(wanted Clickable, candidates []Clickable) (Locator, bool) {
	best := -1
	bestScore := 0
	for i, cand := range candidates {
		if s := scoreCandidate(wanted, cand); s > bestScore {
			best = i
			bestScore = s
		}
	}
	if best < 0 || bestScore < minEquivalentScore {
		return Locator{}, false
	}
	return candidates[best].Locator, true
}
