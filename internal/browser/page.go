package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
)

// CapturePage waits for readiness and assembles the visit snapshot. A hard
// readiness failure aborts the capture; a failed screenshot or unresolvable
// status degrades gracefully, since the HTML hash is the primary oracle.
func (s *Session) CapturePage(ctx context.Context) (*capture.Capture, error) {
	report, err := s.awaitReady(ctx)
	if err != nil {
		return nil, err
	}
	if !report.Ready {
		return nil, fmt.Errorf("capture page: not ready")
	}

	var html, finalURL string
	runCtx, cancel := context.WithTimeout(s.tab, s.cfg.ScriptTimeout)
	err = chromedp.Run(runCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch rendered html: %w", err)
	}

	canonical, err := s.sanitizer.Canonicalize(html)
	if err != nil {
		return nil, fmt.Errorf("sanitize html: %w", err)
	}

	status, contentType, headers := s.resolveStatus(ctx, finalURL)

	shot, err := s.Screenshot(ctx)
	if err != nil {
		s.logger.Warn("screenshot failed, capture proceeds without it",
			zap.String("side", string(s.cfg.Side)), zap.Error(err))
		shot = nil
	}

	return &capture.Capture{
		SanitizedHTML: canonical,
		DOMHash:       capture.HashHTML(canonical),
		Status:        status,
		Headers:       headers,
		ContentType:   contentType,
		FinalURL:      finalURL,
		Alerts:        s.drainAlerts(),
		Screenshot:    shot,
	}, nil
}

// resolveStatus derives HTTP status and content type, preferring the network
// log's document response, then the same-origin probe, then a heuristic
// default for pages that rendered without either.
func (s *Session) resolveStatus(ctx context.Context, finalURL string) (int, string, map[string][]string) {
	if doc, ok := s.netlog.LastDocument(); ok && doc.Status > 0 {
		return doc.Status, doc.ContentType, doc.Headers
	}
	if s.probe != nil && finalURL != "" {
		if status, contentType, err := s.probe.Probe(ctx, finalURL); err == nil && status > 0 {
			return status, contentType, nil
		} else if err != nil {
			s.logger.Debug("status probe failed",
				zap.String("url", finalURL), zap.Error(err))
		}
	}
	contentType := "text/html"
	if strings.HasPrefix(finalURL, "data:") {
		contentType = ""
	}
	return 200, contentType, nil
}
