// Package browser owns one live headless-browser connection per deployment
// side and exposes the navigation, click, discovery, capture and signature
// primitives the crawler drives. All DOM access goes through in-page scripts
// so the same addressing works in the top document and same-origin iframes.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/clock"
	"github.com/trychlos/TheToolsProject-sub002/internal/metrics"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

// Side labels which deployment a session drives.
type Side string

// The two compared deployments.
const (
	SideRef Side = "ref"
	SideNew Side = "new"
)

// ErrNavExhausted indicates navigation retries were used up; the visit
// degrades to a cancelled outcome, never a crawl-wide failure.
var ErrNavExhausted = errors.New("navigation retries exhausted")

// Config holds the settings for one browser session. It is decoupled from
// the configuration loader so sessions stay easy to construct in tests.
type Config struct {
	BaseURL   string
	Side      Side
	Role      string
	UserAgent string
	Headless  bool

	ReadyTimeout  time.Duration
	QuietWindow   time.Duration
	ScriptTimeout time.Duration
	NavRetries    int
	RetrySleep    time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.QuietWindow <= 0 {
		c.QuietWindow = 500 * time.Millisecond
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = 10 * time.Second
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = time.Second
	}
}

// StatusProbe resolves HTTP status and content type when the network log has
// no usable document response for the current page.
type StatusProbe interface {
	Probe(ctx context.Context, rawURL string) (status int, contentType string, err error)
}

// Session is one live browser connection.
type Session struct {
	cfg       Config
	logger    *zap.Logger
	clock     clock.Clock
	sanitizer *capture.Sanitizer
	probe     StatusProbe

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context

	netlog *netRing

	alertMu sync.Mutex
	alerts  []string

	sigMu    sync.Mutex
	sig      signature.Signature
	sigValid bool
}

// NewSession launches a tab against a fresh headless browser and wires the
// network-log and dialog listeners. The session owns the browser lifetime;
// Close tears everything down.
func NewSession(
	ctx context.Context,
	cfg Config,
	sanitizer *capture.Sanitizer,
	probe StatusProbe,
	clk clock.Clock,
	logger *zap.Logger,
) (*Session, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("browser session: base URL is required")
	}
	if sanitizer == nil {
		return nil, fmt.Errorf("browser session: sanitizer is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser warmup: %w", err)
	}

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		clock:       clk,
		sanitizer:   sanitizer,
		probe:       probe,
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tab:         tabCtx,
		netlog:      newNetRing(2048, clk.Now()),
	}
	s.listen()
	return s, nil
}

// Close tears down the tab and browser process.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.tabCancel()
	s.allocCancel()
}

// listen registers the CDP event listeners feeding the network-log ring and
// the alert collector. JS dialogs are always accepted: an unanswered dialog
// blocks navigation, and the recorded text is reported as a comparison
// mismatch later.
func (s *Session) listen() {
	chromedp.ListenTarget(s.tab, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			s.netlog.Add(NetEvent{
				At:       s.clock.Now(),
				Kind:     "request",
				URL:      e.Request.URL,
				Document: e.Type == network.ResourceTypeDocument,
			})
		case *network.EventResponseReceived:
			ev := NetEvent{
				At:          s.clock.Now(),
				Kind:        "response",
				URL:         e.Response.URL,
				Document:    e.Type == network.ResourceTypeDocument,
				Status:      int(e.Response.Status),
				ContentType: e.Response.MimeType,
			}
			if ev.Document {
				ev.Headers = make(map[string][]string, len(e.Response.Headers))
				for k, v := range e.Response.Headers {
					ev.Headers[k] = append(ev.Headers[k], fmt.Sprint(v))
				}
			}
			s.netlog.Add(ev)
		case *network.EventLoadingFailed:
			s.netlog.Add(NetEvent{At: s.clock.Now(), Kind: "failed"})
		case *page.EventJavascriptDialogOpening:
			s.recordAlert(fmt.Sprintf("%s: %s", e.Type, e.Message))
			go func() {
				if err := chromedp.Run(s.tab, page.HandleJavaScriptDialog(true)); err != nil {
					s.logger.Warn("dismiss dialog", zap.Error(err))
				}
			}()
		}
	})
}

func (s *Session) recordAlert(text string) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.alerts = append(s.alerts, text)
}

func (s *Session) drainAlerts() []string {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	out := s.alerts
	s.alerts = nil
	return out
}

// Navigate loads base URL + path, retrying transient timeouts a bounded
// number of times with a sleep between attempts.
func (s *Session) Navigate(ctx context.Context, path string) error {
	target := s.cfg.BaseURL + path
	var lastErr error
	for attempt := 0; attempt <= s.cfg.NavRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("navigate %s: %w", target, err)
		}
		if attempt > 0 {
			s.clock.Sleep(s.cfg.RetrySleep)
			metrics.ObserveNavigationRetry(string(s.cfg.Side))
			s.logger.Debug("retrying navigation",
				zap.String("target", target), zap.Int("attempt", attempt))
		}
		s.netlog.Reset(s.clock.Now())
		s.invalidateSignature()

		runCtx, cancel := context.WithTimeout(s.tab, s.cfg.ReadyTimeout)
		err := chromedp.Run(runCtx, chromedp.Navigate(target))
		cancel()
		if err == nil {
			metrics.ObserveNavigation(string(s.cfg.Side), true)
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			metrics.ObserveNavigation(string(s.cfg.Side), false)
			return fmt.Errorf("navigate %s: %w", target, err)
		}
	}
	metrics.ObserveNavigation(string(s.cfg.Side), false)
	return fmt.Errorf("navigate %s: %w: %w", target, ErrNavExhausted, lastErr)
}

// Click resolves the locator inside its frame and clicks it. A false return
// means the element was not found; replay then falls back to equivalence
// search on the new side.
func (s *Session) Click(ctx context.Context, loc Locator) (bool, error) {
	script, err := clickScriptFor(loc)
	if err != nil {
		return false, err
	}
	var clicked bool
	if err := s.runScript(ctx, script, &clicked); err != nil {
		return false, fmt.Errorf("click %s: %w", loc.Key(), err)
	}
	if clicked {
		s.invalidateSignature()
	}
	return clicked, nil
}

// DiscoverClickables lists the interactive elements of the current place
// across the top document and same-origin iframes.
func (s *Session) DiscoverClickables(ctx context.Context) ([]Clickable, error) {
	var out []Clickable
	if err := s.runScript(ctx, discoverScript, &out); err != nil {
		return nil, fmt.Errorf("discover clickables: %w", err)
	}
	return out, nil
}

// FindEquivalent searches the current page for an element equivalent to the
// descriptor discovered on the sibling deployment.
func (s *Session) FindEquivalent(ctx context.Context, desc Clickable) (Locator, bool, error) {
	candidates, err := s.DiscoverClickables(ctx)
	if err != nil {
		return Locator{}, false, err
	}
	loc, ok := FindEquivalentIn(desc, candidates)
	return loc, ok, nil
}

// Signature computes (or returns the cached) place fingerprint. The cache is
// invalidated by Navigate and by any successful Click.
func (s *Session) Signature(ctx context.Context) (signature.Signature, error) {
	s.sigMu.Lock()
	if s.sigValid {
		sig := s.sig
		s.sigMu.Unlock()
		return sig, nil
	}
	s.sigMu.Unlock()

	var info signature.Info
	if err := s.runScript(ctx, walkScript, &info); err != nil {
		return signature.Signature{}, fmt.Errorf("compute signature: %w", err)
	}
	sig := signature.Compute(info)

	s.sigMu.Lock()
	s.sig = sig
	s.sigValid = true
	s.sigMu.Unlock()
	return sig, nil
}

func (s *Session) invalidateSignature() {
	s.sigMu.Lock()
	s.sigValid = false
	s.sigMu.Unlock()
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(s.tab, s.cfg.ScriptTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Login fills and submits the configured re-authentication form. It is the
// concrete action behind the "relogin" replay escalation.
func (s *Session) Login(ctx context.Context, form LoginForm) error {
	if form.Path == "" {
		return fmt.Errorf("login: no form configured")
	}
	if err := s.Navigate(ctx, form.Path); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if report, err := s.awaitReady(ctx); err != nil || !report.Ready {
		return fmt.Errorf("login: page not ready: %w", err)
	}
	for _, field := range form.Fields {
		script, err := fillScriptFor(field.Selector, field.Value)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		var filled bool
		if err := s.runScript(ctx, script, &filled); err != nil {
			return fmt.Errorf("login: fill %s: %w", field.Selector, err)
		}
		if !filled {
			return fmt.Errorf("login: field %s not found", field.Selector)
		}
	}
	if form.Submit != "" {
		runCtx, cancel := context.WithTimeout(s.tab, s.cfg.ScriptTimeout)
		err := chromedp.Run(runCtx, chromedp.Click(form.Submit, chromedp.ByQuery))
		cancel()
		if err != nil {
			return fmt.Errorf("login: submit: %w", err)
		}
		s.invalidateSignature()
	}
	if report, err := s.awaitReady(ctx); err != nil || !report.Ready {
		return fmt.Errorf("login: post-submit page not ready: %w", err)
	}
	return nil
}

// LoginForm describes the re-authentication form with values already
// resolved for the host OS.
type LoginForm struct {
	Path   string
	Fields []LoginField
	Submit string
}

// LoginField pairs a CSS selector with the value to fill.
type LoginField struct {
	Selector string
	Value    string
}

// runScript evaluates an in-page script with bounded retries on transient
// timeouts, mirroring Navigate's failure semantics.
func (s *Session) runScript(ctx context.Context, script string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.NavRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			s.clock.Sleep(s.cfg.RetrySleep)
		}
		runCtx, cancel := context.WithTimeout(s.tab, s.cfg.ScriptTimeout)
		err := chromedp.Run(runCtx, chromedp.Evaluate(script, out))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrNavExhausted, lastErr)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// forwardCancel propagates the caller's cancellation into a chromedp run
// bounded by its own timeout.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
