package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProbeOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	p := New("webdiff-test", 5*time.Second)
	status, contentType, err := p.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "text/html; charset=utf-8", contentType)
}

func TestProbeErrorStatusIsAnAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	p := New("", 5*time.Second)
	status, _, err := p.Probe(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
}

func TestProbeTransportFailure(t *testing.T) {
	p := New("", time.Second)
	_, _, err := p.Probe(context.Background(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
}

func TestProbeRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New("", time.Second)
	_, _, err := p.Probe(ctx, "http://example.invalid/")
	require.ErrorIs(t, err, context.Canceled)
}

func TestProbeAllowsRevisit(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New("", 5*time.Second)
	for i := 0; i < 2; i++ {
		status, _, err := p.Probe(context.Background(), srv.URL)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, status)
	}
	require.Equal(t, 2, hits)
}
