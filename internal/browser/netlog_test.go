package browser

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetRingQuietFor(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ring := newNetRing(8, base)

	// No events yet: quiet window runs from the reset time.
	require.False(t, ring.QuietFor(base.Add(200*time.Millisecond), 500*time.Millisecond))
	require.True(t, ring.QuietFor(base.Add(600*time.Millisecond), 500*time.Millisecond))

	ring.Add(NetEvent{At: base.Add(time.Second), Kind: "request", URL: "/a"})
	require.False(t, ring.QuietFor(base.Add(1200*time.Millisecond), 500*time.Millisecond))
	require.True(t, ring.QuietFor(base.Add(1600*time.Millisecond), 500*time.Millisecond))
}

func TestNetRingLastDocument(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ring := newNetRing(8, base)

	_, ok := ring.LastDocument()
	require.False(t, ok)

	ring.Add(NetEvent{At: base, Kind: "response", URL: "/style.css", Status: 200})
	ring.Add(NetEvent{At: base, Kind: "response", URL: "/", Document: true, Status: 302})
	ring.Add(NetEvent{At: base, Kind: "response", URL: "/home", Document: true, Status: 200, ContentType: "text/html"})

	doc, ok := ring.LastDocument()
	require.True(t, ok)
	require.Equal(t, "/home", doc.URL)
	require.Equal(t, 200, doc.Status)
}

func TestNetRingDropsOldestButKeepsBookkeeping(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ring := newNetRing(4, base)

	ring.Add(NetEvent{At: base, Kind: "response", URL: "/", Document: true, Status: 200})
	for i := 0; i < 10; i++ {
		ring.Add(NetEvent{At: base.Add(time.Duration(i) * time.Millisecond), Kind: "request", URL: fmt.Sprintf("/r%d", i)})
	}

	snap := ring.Snapshot()
	require.Len(t, snap, 4)
	require.Equal(t, "/r6", snap[0].URL)
	require.Equal(t, "/r9", snap[3].URL)

	// The document response fell out of the ring but is still known.
	doc, ok := ring.LastDocument()
	require.True(t, ok)
	require.Equal(t, "/", doc.URL)
}

func TestNetRingReset(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ring := newNetRing(4, base)
	ring.Add(NetEvent{At: base, Kind: "response", URL: "/", Document: true})

	ring.Reset(base.Add(time.Minute))
	require.Empty(t, ring.Snapshot())
	_, ok := ring.LastDocument()
	require.False(t, ok)
	require.False(t, ring.QuietFor(base.Add(time.Minute+100*time.Millisecond), time.Second))
}
