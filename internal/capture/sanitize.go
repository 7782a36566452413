package capture

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitizer canonicalizes rendered HTML before hashing: configured selectors
// are dropped wholesale, attribute patterns (timestamps, cache busters) are
// stripped, and whitespace is collapsed. Reference and new sides must share
// one Sanitizer configuration or the hash oracle is meaningless.
type Sanitizer struct {
	dropSelectors []string
	stripPatterns []*regexp.Regexp
}

// NewSanitizer compiles the ignore configuration. Selector syntax is checked
// lazily by goquery; pattern syntax is checked here.
func NewSanitizer(dropSelectors, stripPatterns []string) (*Sanitizer, error) {
	s := &Sanitizer{dropSelectors: append([]string(nil), dropSelectors...)}
	for _, p := range stripPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", p, err)
		}
		s.stripPatterns = append(s.stripPatterns, re)
	}
	return s, nil
}

// Canonicalize returns the canonical text form of the page used for hashing.
func (s *Sanitizer) Canonicalize(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	for _, sel := range s.dropSelectors {
		doc.Find(sel).Remove()
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}

	for _, re := range s.stripPatterns {
		out = re.ReplaceAllString(out, "")
	}

	out = whitespaceRun.ReplaceAllString(out, " ")
	return strings.TrimSpace(out), nil
}
