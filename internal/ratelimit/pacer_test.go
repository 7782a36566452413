package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitUnlimited(t *testing.T) {
	t.Parallel()
	p := New(0, 0)

	start := time.Now()
	for range 100 {
		require.NoError(t, p.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestWaitBurst(t *testing.T) {
	t.Parallel()
	p := New(1, 3)

	start := time.Now()
	for range 3 {
		require.NoError(t, p.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitCancelled(t *testing.T) {
	t.Parallel()
	p := New(0.001, 1)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorContains(t, p.Wait(ctx), "visit pacing")
}

func TestNilPacer(t *testing.T) {
	t.Parallel()
	var p *Pacer
	require.NoError(t, p.Wait(context.Background()))
}
