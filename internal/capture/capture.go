// Package capture defines the immutable snapshot taken at every visited
// place and the comparison logic between the reference and new snapshots of
// the same place. The sanitized-HTML hash is the primary equality oracle;
// everything else (status, content type, alerts, pixels) refines the verdict.
package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Capture is one visit snapshot. It is immutable once built; the browser
// session that produced it is its only writer.
type Capture struct {
	SanitizedHTML string              `json:"sanitized_html"`
	DOMHash       string              `json:"dom_hash"`
	Status        int                 `json:"status"`
	Headers       map[string][]string `json:"headers,omitempty"`
	ContentType   string              `json:"content_type"`
	FinalURL      string              `json:"final_url"`
	Alerts        []string            `json:"alerts,omitempty"`
	Screenshot    []byte              `json:"screenshot,omitempty"`
}

// HashHTML hashes canonical HTML text with SHA-256 and returns a hex digest.
func HashHTML(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Link is one outbound anchor discovered in a capture.
type Link struct {
	Href     string
	Path     string // path?query relative to the capture's host
	Text     string
	SameHost bool
}

// Links extracts outbound anchors from the sanitized HTML, resolved against
// base. Fragments-only and javascript: anchors are skipped.
func (c *Capture) Links(base *url.URL) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.SanitizedHTML))
	if err != nil {
		return nil, err
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(strings.ToLower(href), "javascript:") ||
			strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		target, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(target)
		link := Link{
			Href:     resolved.String(),
			Text:     strings.TrimSpace(sel.Text()),
			SameHost: strings.EqualFold(resolved.Hostname(), base.Hostname()),
		}
		link.Path = resolved.RequestURI()
		links = append(links, link)
	})
	return links, nil
}
