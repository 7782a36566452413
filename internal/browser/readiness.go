package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/metrics"
)

// pollInterval paces every readiness poll loop.
const pollInterval = 100 * time.Millisecond

// Hard readiness failures. Both degrade the visit to a cancelled outcome.
var (
	// ErrBodyTimeout means no body element materialized within the shared
	// deadline.
	ErrBodyTimeout = errors.New("body did not appear")
	// ErrNetworkBusy means network traffic never stopped long enough to
	// consider the page settled.
	ErrNetworkBusy = errors.New("network never went idle")
)

// ReadyReport is the outcome of the three-stage readiness wait.
type ReadyReport struct {
	Ready       bool
	Alerts      []string
	Log         []NetEvent
	SawDocument bool
}

// awaitReady runs the bounded three-stage wait under one shared deadline:
// body presence (hard), network idle (hard), DOM stability (best effort). JS
// dialogs opening during any stage are dismissed by the session listener and
// their texts surface in the report.
func (s *Session) awaitReady(ctx context.Context) (ReadyReport, error) {
	deadline := s.clock.Now().Add(s.cfg.ReadyTimeout)
	report := ReadyReport{}

	if err := s.waitForBody(ctx, deadline); err != nil {
		report.Alerts = s.alertsSnapshot()
		report.Log = s.netlog.Snapshot()
		return report, err
	}

	if err := s.waitNetworkIdle(ctx, deadline); err != nil {
		report.Alerts = s.alertsSnapshot()
		report.Log = s.netlog.Snapshot()
		return report, err
	}
	_, report.SawDocument = s.netlog.LastDocument()

	s.waitDOMStable(ctx, deadline)

	report.Ready = true
	report.Alerts = s.alertsSnapshot()
	report.Log = s.netlog.Snapshot()
	return report, nil
}

func (s *Session) waitForBody(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var hasBody bool
		if err := s.evalOnce(bodyExistsScript, &hasBody); err == nil && hasBody {
			return nil
		}
		if s.clock.Now().After(deadline) {
			metrics.ObserveReadinessTimeout(string(s.cfg.Side), "body")
			return fmt.Errorf("wait for body: %w", ErrBodyTimeout)
		}
		s.clock.Sleep(pollInterval)
	}
}

func (s *Session) waitNetworkIdle(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.netlog.QuietFor(s.clock.Now(), s.cfg.QuietWindow) {
			return nil
		}
		if s.clock.Now().After(deadline) {
			metrics.ObserveReadinessTimeout(string(s.cfg.Side), "network_idle")
			return fmt.Errorf("wait for network idle: %w", ErrNetworkBusy)
		}
		s.clock.Sleep(pollInterval)
	}
}

// waitDOMStable polls a cheap DOM fingerprint until it holds unchanged for
// the quiet window. Timing out here only logs a warning: the capture still
// proceeds with whatever the DOM looks like.
func (s *Session) waitDOMStable(ctx context.Context, deadline time.Time) {
	var last string
	var stableSince time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		var fp string
		if err := s.evalOnce(fingerprintScript, &fp); err == nil {
			now := s.clock.Now()
			if fp == last {
				if stableSince.IsZero() {
					stableSince = now
				} else if now.Sub(stableSince) >= s.cfg.QuietWindow {
					return
				}
			} else {
				last = fp
				stableSince = time.Time{}
			}
		}
		if s.clock.Now().After(deadline) {
			metrics.ObserveReadinessTimeout(string(s.cfg.Side), "dom_stable")
			s.logger.Warn("dom never stabilized, capturing anyway",
				zap.String("side", string(s.cfg.Side)),
				zap.String("fingerprint", last))
			return
		}
		s.clock.Sleep(pollInterval)
	}
}

// evalOnce runs one script evaluation with a short bound and no retries; the
// surrounding poll loop is the retry mechanism.
func (s *Session) evalOnce(script string, out any) error {
	runCtx, cancel := context.WithTimeout(s.tab, 2*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(script, out))
}

func (s *Session) alertsSnapshot() []string {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	return append([]string(nil), s.alerts...)
}
