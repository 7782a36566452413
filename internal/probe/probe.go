// Package probe resolves HTTP status and content type with a direct
// same-origin request, used when the browser network log carries no usable
// document response for the current page.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// Prober issues one HTTP GET per call through a Colly collector.
type Prober struct {
	base    *colly.Collector
	timeout time.Duration
}

// New builds a Prober. The crawl targets are the operator's own deployments,
// so robots.txt is intentionally ignored.
func New(userAgent string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if userAgent != "" {
		c.UserAgent = userAgent
	}
	c.SetRequestTimeout(timeout)
	return &Prober{base: c, timeout: timeout}
}

// Probe fetches rawURL and reports the response status and content type. An
// HTTP error status (4xx/5xx) is a successful probe; only transport failures
// return an error.
func (p *Prober) Probe(ctx context.Context, rawURL string) (int, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	collector := p.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(p.timeout)

	var (
		status      int
		contentType string
		visitErr    error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		contentType = r.Headers.Get("Content-Type")
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// The server answered; an error status is still an answer.
			status = r.StatusCode
			if r.Headers != nil {
				contentType = r.Headers.Get("Content-Type")
			}
			return
		}
		visitErr = err
	})

	if err := collector.Visit(rawURL); err != nil && status == 0 {
		return 0, "", fmt.Errorf("probe %s: %w", rawURL, err)
	}
	collector.Wait()

	if visitErr != nil && status == 0 {
		return 0, "", fmt.Errorf("probe %s: %w", rawURL, visitErr)
	}
	return status, contentType, nil
}
