package capture

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Mismatch reasons reported by Compare.
const (
	ReasonContentType = "content-type"
	ReasonDOMHash     = "dom-hash"
	ReasonAlert       = "alert"
	ReasonVisual      = "visual"
)

// Mismatch is one comparison failure. Mismatches are result data, never
// errors: a mismatching visit still completes normally.
type Mismatch struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

func (m Mismatch) String() string { return m.Reason + ": " + m.Detail }

// DiffSink receives both screenshots whenever the visual check fails, so the
// failing pair can be inspected side by side.
type DiffSink interface {
	SaveDiffPair(ctx context.Context, name string, refPNG, newPNG []byte) error
}

// VisualOptions enables the screenshot check within Compare.
type VisualOptions struct {
	// Threshold is the fractional color distance (0..1) above which a
	// pixel counts as different; it is scaled internally to the comparator's
	// native per-channel units.
	Threshold float64
	// AcceptedPixels is an absolute differing-pixel allowance that absorbs
	// render noise on visually identical pages.
	AcceptedPixels int
	// Name labels the diff artifacts for this visit.
	Name string
	Sink DiffSink
	// Logger reports sink failures; the comparison result is unaffected.
	Logger *zap.Logger
}

// Compare checks this capture (reference side) against the sibling capture
// from the new deployment. Every check runs regardless of earlier failures so
// a single report lists all divergences; an empty slice means the visit
// passed.
func (c *Capture) Compare(ctx context.Context, other *Capture, visual *VisualOptions) []Mismatch {
	var mismatches []Mismatch

	if !strings.EqualFold(c.ContentType, other.ContentType) {
		mismatches = append(mismatches, Mismatch{
			Reason: ReasonContentType,
			Detail: fmt.Sprintf("ref %q vs new %q", c.ContentType, other.ContentType),
		})
	}

	if c.DOMHash != other.DOMHash {
		mismatches = append(mismatches, Mismatch{
			Reason: ReasonDOMHash,
			Detail: fmt.Sprintf("ref %.12s vs new %.12s", c.DOMHash, other.DOMHash),
		})
	}

	for _, text := range c.Alerts {
		mismatches = append(mismatches, Mismatch{Reason: ReasonAlert, Detail: "ref: " + text})
	}
	for _, text := range other.Alerts {
		mismatches = append(mismatches, Mismatch{Reason: ReasonAlert, Detail: "new: " + text})
	}

	if visual != nil && len(c.Screenshot) > 0 && len(other.Screenshot) > 0 {
		if m := c.compareVisual(ctx, other, visual); m != nil {
			mismatches = append(mismatches, *m)
		}
	}

	return mismatches
}

func (c *Capture) compareVisual(ctx context.Context, other *Capture, visual *VisualOptions) *Mismatch {
	count, err := DiffPixelCount(c.Screenshot, other.Screenshot, visual.Threshold)
	if err != nil {
		return &Mismatch{Reason: ReasonVisual, Detail: "compare screenshots: " + err.Error()}
	}
	if count <= visual.AcceptedPixels {
		return nil
	}
	if visual.Sink != nil {
		if err := visual.Sink.SaveDiffPair(ctx, visual.Name, c.Screenshot, other.Screenshot); err != nil && visual.Logger != nil {
			visual.Logger.Warn("save diff screenshots", zap.String("name", visual.Name), zap.Error(err))
		}
	}
	return &Mismatch{
		Reason: ReasonVisual,
		Detail: fmt.Sprintf("%d differing pixels (accepted %d)", count, visual.AcceptedPixels),
	}
}
