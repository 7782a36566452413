package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func htmlCapture(html, contentType string) *Capture {
	return &Capture{
		SanitizedHTML: html,
		DOMHash:       HashHTML(html),
		Status:        200,
		ContentType:   contentType,
		FinalURL:      "http://ref.internal/",
	}
}

func TestCompareIdenticalIsEmpty(t *testing.T) {
	a := htmlCapture("<html><body>hi</body></html>", "text/html")
	b := htmlCapture("<html><body>hi</body></html>", "text/html")

	require.Empty(t, a.Compare(context.Background(), b, nil))
}

func TestCompareContentTypeCaseInsensitive(t *testing.T) {
	a := htmlCapture("<html></html>", "Text/HTML; charset=UTF-8")
	b := htmlCapture("<html></html>", "text/html; charset=utf-8")

	require.Empty(t, a.Compare(context.Background(), b, nil))

	b.ContentType = "application/json"
	mismatches := a.Compare(context.Background(), b, nil)
	require.Len(t, mismatches, 1)
	require.Equal(t, ReasonContentType, mismatches[0].Reason)
}

func TestCompareDOMHash(t *testing.T) {
	a := htmlCapture("<html><body>one</body></html>", "text/html")
	b := htmlCapture("<html><body>two</body></html>", "text/html")

	mismatches := a.Compare(context.Background(), b, nil)
	require.Len(t, mismatches, 1)
	require.Equal(t, ReasonDOMHash, mismatches[0].Reason)
}

func TestCompareReportsEverySideAlert(t *testing.T) {
	a := htmlCapture("<html></html>", "text/html")
	b := htmlCapture("<html></html>", "text/html")
	a.Alerts = []string{"session expired"}
	b.Alerts = []string{"boom", "again"}

	mismatches := a.Compare(context.Background(), b, nil)
	require.Len(t, mismatches, 3)
	for _, m := range mismatches {
		require.Equal(t, ReasonAlert, m.Reason)
	}
	require.Contains(t, mismatches[0].Detail, "ref: session expired")
	require.Contains(t, mismatches[1].Detail, "new: boom")
}

func TestCompareAllChecksRunTogether(t *testing.T) {
	a := htmlCapture("<html>a</html>", "text/html")
	b := htmlCapture("<html>b</html>", "text/plain")
	b.Alerts = []string{"oops"}

	mismatches := a.Compare(context.Background(), b, nil)
	reasons := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		reasons = append(reasons, m.Reason)
	}
	require.Equal(t, []string{ReasonContentType, ReasonDOMHash, ReasonAlert}, reasons)
}

// solidPNG renders a w x h image filled with base, then overrides the first n
// pixels of the top row with delta.
func solidPNG(t *testing.T, w, h int, base, delta color.RGBA, n int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, base)
		}
	}
	for i := 0; i < n; i++ {
		img.SetRGBA(i%w, i/w, delta)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type memDiffSink struct {
	name     string
	ref, new []byte
	calls    int
}

func (s *memDiffSink) SaveDiffPair(_ context.Context, name string, refPNG, newPNG []byte) error {
	s.calls++
	s.name = name
	s.ref = refPNG
	s.new = newPNG
	return nil
}

func TestVisualThresholdBoundary(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	black := color.RGBA{0, 0, 0, 255}

	ref := solidPNG(t, 20, 20, white, white, 0)
	changed := solidPNG(t, 20, 20, white, black, 5) // exactly 5 differing pixels

	a := htmlCapture("<html></html>", "text/html")
	b := htmlCapture("<html></html>", "text/html")
	a.Screenshot = ref
	b.Screenshot = changed

	sink := &memDiffSink{}
	opts := &VisualOptions{Threshold: 0.01, AcceptedPixels: 5, Name: "000001_home", Sink: sink}

	// Count equal to the accepted maximum passes and writes no diff pair.
	require.Empty(t, a.Compare(context.Background(), b, opts))
	require.Zero(t, sink.calls)

	// One more differing pixel fails and triggers the diff-artifact copy.
	b.Screenshot = solidPNG(t, 20, 20, white, black, 6)
	mismatches := a.Compare(context.Background(), b, opts)
	require.Len(t, mismatches, 1)
	require.Equal(t, ReasonVisual, mismatches[0].Reason)
	require.Contains(t, mismatches[0].Detail, "6 differing pixels")
	require.Equal(t, 1, sink.calls)
	require.Equal(t, "000001_home", sink.name)
	require.Equal(t, ref, sink.ref)
}

func TestDiffPixelCountDimensionMismatch(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	small := solidPNG(t, 2, 2, white, white, 0)
	big := solidPNG(t, 4, 3, white, white, 0)

	count, err := DiffPixelCount(small, big, 0.01)
	require.NoError(t, err)
	require.Equal(t, 12, count)
}

func TestDiffPixelCountToleratesNoise(t *testing.T) {
	base := color.RGBA{120, 120, 120, 255}
	near := color.RGBA{121, 121, 121, 255} // distance sqrt(3) ~ 1.7 of 441.7

	a := solidPNG(t, 10, 10, base, base, 0)
	b := solidPNG(t, 10, 10, near, near, 0)

	count, err := DiffPixelCount(a, b, 0.01) // limit ~4.4
	require.NoError(t, err)
	require.Zero(t, count)
}
