package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/artifacts"
	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/clock"
	"github.com/trychlos/TheToolsProject-sub002/internal/config"
	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

// Driver is the browser surface the crawler needs from each deployment side.
// *browser.Session implements it in-process; rpc.Client implements it against
// a remote worker daemon.
type Driver interface {
	Navigate(ctx context.Context, path string) error
	Click(ctx context.Context, loc browser.Locator) (bool, error)
	FindEquivalent(ctx context.Context, desc browser.Clickable) (browser.Locator, bool, error)
	DiscoverClickables(ctx context.Context) ([]browser.Clickable, error)
	Signature(ctx context.Context) (signature.Signature, error)
	CapturePage(ctx context.Context) (*capture.Capture, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Recognized per-visit failures. Each degrades the visit to a cancelled
// record instead of aborting the run.
var (
	errClickLost      = errors.New("clickable not found on reference page")
	errNoEquivalent   = errors.New("no equivalent clickable on new deployment")
	errChainExhausted = errors.New("chain replay exhausted without reaching origin")
)

// Cancellation reasons recorded in Result.Cancelled.
const (
	reasonNoBody         = "no_body"
	reasonNetworkBusy    = "network_busy"
	reasonNavExhausted   = "nav_exhausted"
	reasonClickLost      = "click_not_found"
	reasonNoCapture      = "no_capture"
	reasonChainExhausted = "chain_exhausted"
)

// sharedFailureFloor is the status from which identical failures on both
// sides stop counting as divergences.
const sharedFailureFloor = 400

// Pacer throttles visit starts. *ratelimit.Pacer implements it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Options carries the crawler's optional collaborators.
type Options struct {
	Emitter progress.Emitter
	Logger  *zap.Logger
	Clock   clock.Clock
	RunID   uuid.UUID
	// Pacer, when set, is consulted before every visit.
	Pacer Pacer
}

// Crawler walks both deployments in lockstep, compares every visited place,
// and aggregates the outcome.
type Crawler struct {
	role    config.Role
	refSide Driver
	newSide Driver
	store   *artifacts.Store
	emitter progress.Emitter
	logger  *zap.Logger
	clk     clock.Clock
	runID   uuid.UUID
	pacer   Pacer
	refBase *url.URL

	frontier Frontier
	enqueued map[string]bool
	result   *Result
	ordinals int
}

// New wires a Crawler for one role. Both drivers must already be logged in
// and idle.
func New(role config.Role, refSide, newSide Driver, store *artifacts.Store, opts Options) (*Crawler, error) {
	if refSide == nil || newSide == nil {
		return nil, fmt.Errorf("both drivers are required")
	}
	base, err := url.Parse(role.RefBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ref base url: %w", err)
	}
	if opts.Emitter == nil {
		opts.Emitter = progress.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	return &Crawler{
		role:     role,
		refSide:  refSide,
		newSide:  newSide,
		store:    store,
		emitter:  opts.Emitter,
		logger:   opts.Logger.With(zap.String("role", role.Name)),
		clk:      opts.Clock,
		runID:    opts.RunID,
		pacer:    opts.Pacer,
		refBase:  base,
		enqueued: make(map[string]bool),
		result:   NewResult(role.Name, opts.RunID.String()),
	}, nil
}

// Run drains the frontier until it empties, the visit cap is reached, or ctx
// is cancelled. Operational failures become records; only bookkeeping bugs
// and context cancellation abort the run.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	c.result.Started = c.clk.Now()
	c.emitRun(progress.StageRunStart, 0)

	for _, route := range c.role.Routes {
		c.enqueue(NewLinkItem(route, nil))
	}

	for c.result.Visited < c.role.MaxVisited {
		it, ok := c.frontier.Pop()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return c.finish(fmt.Errorf("run interrupted: %w", err))
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return c.finish(fmt.Errorf("run interrupted: %w", err))
			}
		}
		c.ordinals++
		if err := it.stamp(c.ordinals); err != nil {
			return c.finish(err)
		}
		if err := c.visit(ctx, it); err != nil {
			return c.finish(err)
		}
	}
	return c.finish(nil)
}

func (c *Crawler) finish(err error) (*Result, error) {
	c.result.Finished = c.clk.Now()
	dur := c.result.Finished.Sub(c.result.Started)
	if err != nil {
		c.emitRun(progress.StageRunError, dur)
	} else {
		c.emitRun(progress.StageRunDone, dur)
	}
	c.logger.Info("run finished",
		zap.Int("visited", c.result.Visited),
		zap.Int("mismatches", len(c.result.Mismatches)),
		zap.Duration("dur", dur),
		zap.Error(err),
	)
	return c.result, err
}

// enqueue adds the item unless its key was already queued or visited.
func (c *Crawler) enqueue(it *Item) {
	key := it.Key()
	if c.enqueued[key] {
		return
	}
	c.enqueued[key] = true
	c.frontier.Push(it)
}

// visit runs the full mirror-and-compare pipeline for one item. The returned
// error is fatal for the run; per-visit failures are filed as records.
func (c *Crawler) visit(ctx context.Context, it *Item) error {
	start := c.clk.Now()
	rec := &Record{Ordinal: it.Ordinal(), Key: it.Key(), Kind: it.Kind, Label: it.Label()}

	refCap, newCap, err := c.resolve(ctx, it)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("visit %d: %w", it.Ordinal(), err)
		}
		return c.file(rec, start, c.classify(rec, err))
	}
	rec.Status = refCap.Status

	if dest, err := c.refSide.Signature(ctx); err != nil {
		c.logger.Warn("destination signature failed",
			zap.Int("ordinal", it.Ordinal()), zap.Error(err))
	} else {
		it.setDest(dest)
		rec.Dest = dest.Stripped()
	}

	if refCap.Status >= sharedFailureFloor && refCap.Status == newCap.Status {
		rec.Outcome = OutcomeShared
		rec.Reasons = []string{fmt.Sprintf("both sides answered %d", refCap.Status)}
		c.persist(ctx, it, refCap, newCap)
		c.logger.Debug("shared failure, comparison skipped",
			zap.Int("ordinal", it.Ordinal()), zap.Int("status", refCap.Status))
		return c.file(rec, start, nil)
	}

	c.persist(ctx, it, refCap, newCap)

	mismatches := refCap.Compare(ctx, newCap, c.visualOptions(it))
	if len(mismatches) == 0 {
		rec.Outcome = OutcomePass
	} else {
		rec.Outcome = OutcomeMismatch
		for _, m := range mismatches {
			rec.Reasons = append(rec.Reasons, m.String())
			c.emitVisit(progress.StageMismatch, it, refCap.Status, m.Reason, 0)
		}
	}

	c.discover(ctx, it, refCap)
	return c.file(rec, start, nil)
}

// file records the visit and emits the terminal progress event. A non-nil
// err here means classification failed and the run must stop.
func (c *Crawler) file(rec *Record, start time.Time, err error) error {
	if err != nil {
		return err
	}
	if err := c.result.Add(rec); err != nil {
		return err
	}
	dur := c.clk.Now().Sub(start)
	switch rec.Outcome {
	case OutcomeCancelled, OutcomeUnexpected:
		c.emitVisitRecord(progress.StageVisitCancelled, rec, firstReason(rec), dur)
	default:
		c.emitVisitRecord(progress.StageVisitDone, rec, "", dur)
	}
	return nil
}

// classify buckets a resolution failure into a cancelled or unexpected
// outcome on the record.
func (c *Crawler) classify(rec *Record, err error) error {
	if reason, known := cancelReason(err); known {
		rec.Outcome = OutcomeCancelled
		rec.Reasons = []string{reason, err.Error()}
		c.logger.Warn("visit cancelled",
			zap.Int("ordinal", rec.Ordinal), zap.String("reason", reason), zap.Error(err))
		return nil
	}
	rec.Outcome = OutcomeUnexpected
	rec.Reasons = []string{err.Error()}
	c.logger.Error("visit aborted unexpectedly", zap.Int("ordinal", rec.Ordinal), zap.Error(err))
	return nil
}

func cancelReason(err error) (string, bool) {
	switch {
	case errors.Is(err, browser.ErrBodyTimeout):
		return reasonNoBody, true
	case errors.Is(err, browser.ErrNetworkBusy):
		return reasonNetworkBusy, true
	case errors.Is(err, browser.ErrNavExhausted):
		return reasonNavExhausted, true
	case errors.Is(err, errClickLost):
		return reasonClickLost, true
	case errors.Is(err, errNoEquivalent):
		return reasonNoCapture, true
	case errors.Is(err, errChainExhausted):
		return reasonChainExhausted, true
	}
	return "", false
}

// resolve brings both sessions to the item's place and captures each side.
func (c *Crawler) resolve(ctx context.Context, it *Item) (*capture.Capture, *capture.Capture, error) {
	switch it.Kind {
	case KindLink:
		if err := c.refSide.Navigate(ctx, it.Path); err != nil {
			return nil, nil, fmt.Errorf("ref navigate %s: %w", it.Path, err)
		}
		if err := c.newSide.Navigate(ctx, it.Path); err != nil {
			return nil, nil, fmt.Errorf("new navigate %s: %w", it.Path, err)
		}
	case KindClick:
		if err := c.position(ctx, it); err != nil {
			return nil, nil, err
		}
		found, err := c.refSide.Click(ctx, it.Desc.Locator)
		if err != nil {
			return nil, nil, fmt.Errorf("ref click: %w", err)
		}
		if !found {
			return nil, nil, errClickLost
		}
		if err := c.clickOnNew(ctx, it); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown item kind %q", it.Kind)
	}

	refCap, err := c.refSide.CapturePage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ref capture: %w", err)
	}
	newCap, err := c.newSide.CapturePage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("new capture: %w", err)
	}
	return refCap, newCap, nil
}

// position ensures the reference session sits on the item's origin page,
// replaying the ancestor chain when it does not.
func (c *Crawler) position(ctx context.Context, it *Item) error {
	sig, err := c.refSide.Signature(ctx)
	if err != nil {
		return fmt.Errorf("ref signature: %w", err)
	}
	if sig.Equal(it.Origin) {
		return nil
	}
	return c.restoreChain(ctx, it)
}

// restoreChain replays every ancestor hop on both sessions, in order, taking
// an intermediate screenshot after each hop, until the origin signature is
// reached or the chain runs out.
func (c *Crawler) restoreChain(ctx context.Context, it *Item) error {
	c.logger.Debug("restoring chain",
		zap.Int("ordinal", it.Ordinal()), zap.Int("hops", len(it.Chain())))
	for i, hop := range it.Chain() {
		if err := c.replayHop(ctx, hop); err != nil {
			return fmt.Errorf("replay hop %d of %d: %w", i+1, len(it.Chain()), err)
		}
		c.snapshotHop(ctx, it, i)
		c.emitVisit(progress.StageReplayHop, it, 0, hop.Key(), 0)

		sig, err := c.refSide.Signature(ctx)
		if err != nil {
			return fmt.Errorf("ref signature after hop %d: %w", i+1, err)
		}
		if sig.Equal(it.Origin) {
			return nil
		}
	}
	return errChainExhausted
}

// replayHop re-executes one ancestor navigation exactly as it was originally
// performed, on both sessions.
func (c *Crawler) replayHop(ctx context.Context, hop *Item) error {
	if hop.Kind == KindLink {
		if err := c.refSide.Navigate(ctx, hop.Path); err != nil {
			return fmt.Errorf("ref navigate %s: %w", hop.Path, err)
		}
		if err := c.newSide.Navigate(ctx, hop.Path); err != nil {
			return fmt.Errorf("new navigate %s: %w", hop.Path, err)
		}
		return nil
	}
	for _, side := range c.sides() {
		found, err := side.drv.Click(ctx, hop.Desc.Locator)
		if err != nil {
			return fmt.Errorf("%s click %s: %w", side.name, hop.Desc.Locator.Key(), err)
		}
		if !found {
			return fmt.Errorf("%s click %s: %w", side.name, hop.Desc.Locator.Key(), errChainExhausted)
		}
	}
	return nil
}

type namedDriver struct {
	name string
	drv  Driver
}

// sides returns both drivers in fixed order, reference first.
func (c *Crawler) sides() [2]namedDriver {
	return [2]namedDriver{{"ref", c.refSide}, {"new", c.newSide}}
}

// snapshotHop keeps a screenshot of both sides after a replayed hop, so a
// failed restoration can be debugged visually. Failures only log.
func (c *Crawler) snapshotHop(ctx context.Context, it *Item, hopIndex int) {
	if c.store == nil {
		return
	}
	suffix := fmt.Sprintf("replay%02d", hopIndex+1)
	for _, side := range c.sides() {
		png, err := side.drv.Screenshot(ctx)
		if err != nil {
			c.logger.Warn("replay screenshot failed",
				zap.String("side", side.name), zap.Int("hop", hopIndex+1), zap.Error(err))
			continue
		}
		if err := c.store.SaveScreenshot(ctx, it.Ordinal(), side.name, it.Label(), suffix, png); err != nil {
			c.logger.Warn("replay screenshot save failed",
				zap.String("side", side.name), zap.Int("hop", hopIndex+1), zap.Error(err))
		}
	}
}

// clickOnNew mirrors the reference click on the new deployment: same locator
// first, then the closest equivalent clickable.
func (c *Crawler) clickOnNew(ctx context.Context, it *Item) error {
	found, err := c.newSide.Click(ctx, it.Desc.Locator)
	if err != nil {
		return fmt.Errorf("new click: %w", err)
	}
	if found {
		return nil
	}

	loc, ok, err := c.newSide.FindEquivalent(ctx, it.Desc)
	if err != nil {
		return fmt.Errorf("new find equivalent: %w", err)
	}
	if !ok {
		return errNoEquivalent
	}
	c.logger.Debug("clicking equivalent on new deployment",
		zap.Int("ordinal", it.Ordinal()),
		zap.String("wanted", it.Desc.Locator.Key()),
		zap.String("equivalent", loc.Key()),
	)
	found, err = c.newSide.Click(ctx, loc)
	if err != nil {
		return fmt.Errorf("new click equivalent: %w", err)
	}
	if !found {
		return errNoEquivalent
	}
	return nil
}

// persist writes both sides' HTML and screenshots to the artifact store.
// Storage failures degrade to warnings; the comparison still runs.
func (c *Crawler) persist(ctx context.Context, it *Item, refCap, newCap *capture.Capture) {
	if c.store == nil {
		return
	}
	for _, pair := range [2]struct {
		side string
		snap *capture.Capture
	}{{"ref", refCap}, {"new", newCap}} {
		if err := c.store.SaveHTML(ctx, it.Ordinal(), pair.side, it.Label(), "", []byte(pair.snap.SanitizedHTML)); err != nil {
			c.logger.Warn("html artifact save failed", zap.String("side", pair.side), zap.Error(err))
		}
		if err := c.store.SaveScreenshot(ctx, it.Ordinal(), pair.side, it.Label(), "", pair.snap.Screenshot); err != nil {
			c.logger.Warn("screenshot artifact save failed", zap.String("side", pair.side), zap.Error(err))
		}
	}
}

func (c *Crawler) visualOptions(it *Item) *capture.VisualOptions {
	if !c.role.Visual.Enabled {
		return nil
	}
	opts := &capture.VisualOptions{
		Threshold:      c.role.Visual.Threshold,
		AcceptedPixels: c.role.Visual.AcceptedPixels,
		Name:           fmt.Sprintf("%06d_%s", it.Ordinal(), it.Label()),
		Logger:         c.logger,
	}
	if c.store != nil {
		opts.Sink = c.store
	}
	return opts
}

// discover extracts follow-up links and clickables from the reference
// capture and enqueues the unseen ones.
func (c *Crawler) discover(ctx context.Context, it *Item, refCap *capture.Capture) {
	chain := it.ChainPlus()

	if c.role.ByLink {
		links, err := refCap.Links(c.refBase)
		if err != nil {
			c.logger.Warn("link extraction failed", zap.Int("ordinal", it.Ordinal()), zap.Error(err))
		} else {
			for _, link := range links {
				if !link.SameHost {
					continue
				}
				if !allowed(link.Path, c.role.AllowHref, c.role.DenyHref) {
					continue
				}
				if !allowed(link.Href, c.role.AllowURL, c.role.DenyURL) {
					continue
				}
				c.enqueue(NewLinkItem(link.Path, chain))
			}
		}
	}

	if !c.role.ByClick {
		return
	}
	origin, ok := it.Dest()
	if !ok {
		c.logger.Warn("no destination signature, click discovery skipped", zap.Int("ordinal", it.Ordinal()))
		return
	}
	clickables, err := c.refSide.DiscoverClickables(ctx)
	if err != nil {
		c.logger.Warn("clickable discovery failed", zap.Int("ordinal", it.Ordinal()), zap.Error(err))
		return
	}
	for _, cl := range clickables {
		// Plain links are already covered by link mode when both modes run.
		if c.role.ByLink && cl.Kind == "a" && cl.Href != "" {
			continue
		}
		if !allowed(cl.Locator.Path, c.role.AllowXPath, c.role.DenyXPath) {
			continue
		}
		c.enqueue(NewClickItem(origin, cl, chain))
	}
}

// allowed applies the allow-then-deny pattern filters: with a non-empty allow
// list the value must match at least one entry, and any deny match drops it.
func allowed(value string, allow, deny []*regexp.Regexp) bool {
	if len(allow) > 0 {
		ok := false
		for _, re := range allow {
			if re.MatchString(value) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, re := range deny {
		if re.MatchString(value) {
			return false
		}
	}
	return true
}

func (c *Crawler) emitRun(stage progress.Stage, dur time.Duration) {
	c.emitter.Emit(progress.Event{
		RunID: progress.UUIDToBytes(c.runID),
		TS:    c.clk.Now().UTC(),
		Stage: stage,
		Role:  c.role.Name,
		Dur:   dur,
	})
}

func (c *Crawler) emitVisit(stage progress.Stage, it *Item, status int, reason string, dur time.Duration) {
	c.emitter.Emit(progress.Event{
		RunID:       progress.UUIDToBytes(c.runID),
		TS:          c.clk.Now().UTC(),
		Stage:       stage,
		Role:        c.role.Name,
		Ordinal:     it.Ordinal(),
		Key:         it.Key(),
		Status:      status,
		StatusClass: progress.ClassifyStatus(status),
		Reason:      reason,
		Dur:         dur,
	})
}

func (c *Crawler) emitVisitRecord(stage progress.Stage, rec *Record, reason string, dur time.Duration) {
	c.emitter.Emit(progress.Event{
		RunID:       progress.UUIDToBytes(c.runID),
		TS:          c.clk.Now().UTC(),
		Stage:       stage,
		Role:        c.role.Name,
		Ordinal:     rec.Ordinal,
		Key:         rec.Key,
		Status:      rec.Status,
		StatusClass: progress.ClassifyStatus(rec.Status),
		Reason:      reason,
		Dur:         dur,
	})
}
