package rpc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

type stubSession struct {
	mu        sync.Mutex
	navs      []string
	clicked   []string
	loggedOut bool
	relogins  int
}

func (s *stubSession) Navigate(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navs = append(s.navs, path)
	return nil
}

func (s *stubSession) Click(_ context.Context, loc browser.Locator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicked = append(s.clicked, loc.Key())
	return loc.ID == "known", nil
}

func (s *stubSession) FindEquivalent(_ context.Context, desc browser.Clickable) (browser.Locator, bool, error) {
	return browser.Locator{FrameKey: desc.Locator.FrameKey, ID: "equivalent"}, true, nil
}

func (s *stubSession) DiscoverClickables(context.Context) ([]browser.Clickable, error) {
	return []browser.Clickable{
		{Locator: browser.Locator{ID: "buy"}, Kind: "button", Text: "Buy"},
	}, nil
}

func (s *stubSession) Signature(context.Context) (signature.Signature, error) {
	return signature.Compute(signature.Info{TopURL: "http://ref.local/", DocPrint: "t:5;e:1"}), nil
}

func (s *stubSession) CapturePage(context.Context) (*capture.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOut {
		return &capture.Capture{Status: 200, FinalURL: "http://ref.local/login"}, nil
	}
	return &capture.Capture{
		SanitizedHTML: "<html><body>ok</body></html>",
		DOMHash:       capture.HashHTML("<html><body>ok</body></html>"),
		Status:        200,
		ContentType:   "text/html",
		FinalURL:      "http://ref.local/",
	}, nil
}

func (s *stubSession) Screenshot(context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (s *stubSession) reloginFunc() func(context.Context) error {
	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.loggedOut = false
		s.relogins++
		return nil
	}
}

func needsLogin(c *capture.Capture) bool {
	return strings.Contains(c.FinalURL, "/login")
}

func startServer(t *testing.T, stub *stubSession, opts ...ServerOption) (*Server, *Client) {
	t.Helper()
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Side: "ref"}, stub, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	client, err := NewClient(ClientConfig{
		Addr:           srv.Addr(),
		SendTimeout:    2 * time.Second,
		AnswerTimeout:  5 * time.Second,
		ConnectBackoff: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return srv, client
}

func TestPingRoundTrip(t *testing.T) {
	_, client := startServer(t, &stubSession{})
	require.NoError(t, client.Ping(context.Background()))
	require.Equal(t, OriginDaemon, client.Origin())
}

func TestNavigateAndClickRoundTrip(t *testing.T) {
	stub := &stubSession{}
	_, client := startServer(t, stub)
	ctx := context.Background()

	require.NoError(t, client.Navigate(ctx, "/catalog"))

	found, err := client.Click(ctx, browser.Locator{FrameKey: "top", ID: "known"})
	require.NoError(t, err)
	require.True(t, found)

	found, err = client.Click(ctx, browser.Locator{FrameKey: "top", ID: "gone"})
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, []string{"/catalog"}, stub.navs)
	require.Equal(t, []string{"top!#known", "top!#gone"}, stub.clicked)
}

func TestSignatureAndDiscoverRoundTrip(t *testing.T) {
	stub := &stubSession{}
	_, client := startServer(t, stub)
	ctx := context.Background()

	sig, err := client.Signature(ctx)
	require.NoError(t, err)
	want, _ := stub.Signature(ctx)
	require.True(t, sig.Equal(want))
	require.Equal(t, want.Stripped(), sig.Stripped())

	clickables, err := client.DiscoverClickables(ctx)
	require.NoError(t, err)
	require.Len(t, clickables, 1)
	require.Equal(t, "Buy", clickables[0].Text)

	loc, found, err := client.FindEquivalent(ctx, browser.Clickable{
		Locator: browser.Locator{FrameKey: "top", ID: "buy"},
	})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "equivalent", loc.ID)
}

func TestCaptureAndScreenshotRoundTrip(t *testing.T) {
	_, client := startServer(t, &stubSession{})
	ctx := context.Background()

	snap, err := client.CapturePage(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, snap.Status)
	require.Equal(t, capture.HashHTML(snap.SanitizedHTML), snap.DOMHash)

	png, err := client.Screenshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png)
}

func TestUnknownCommand(t *testing.T) {
	_, client := startServer(t, &stubSession{})
	err := client.Call(context.Background(), "frobnicate", struct{}{}, nil)
	require.ErrorContains(t, err, "unknown command")
}

func TestReplayEscalationRelogsInAndRetries(t *testing.T) {
	stub := &stubSession{loggedOut: true}
	_, client := startServer(t, stub, WithRelogin(stub.reloginFunc(), needsLogin))

	snap, err := client.CapturePage(context.Background())
	require.NoError(t, err)
	require.NotContains(t, snap.FinalURL, "/login")
	require.Equal(t, 1, stub.relogins)
}

func TestReplayLoopGuard(t *testing.T) {
	stub := &stubSession{loggedOut: true}
	// relogin that never actually fixes the session
	brokenRelogin := func(context.Context) error { return nil }
	_, client := startServer(t, stub, WithRelogin(brokenRelogin, needsLogin))

	_, err := client.CapturePage(context.Background())
	require.ErrorContains(t, err, "replay:"+CmdRelogin)
}

func TestBroadcastReachesEveryDaemon(t *testing.T) {
	refStub := &stubSession{}
	newStub := &stubSession{}
	_, refClient := startServer(t, refStub)
	_, newClient := startServer(t, newStub)

	clients := []*Client{refClient, newClient}
	require.NoError(t, PingAll(context.Background(), clients...))
	require.NoError(t, Broadcast(context.Background(), clients, CmdNavigate, navigateRequest{Path: "/"}))

	require.Equal(t, []string{"/"}, refStub.navs)
	require.Equal(t, []string{"/"}, newStub.navs)
}

func deadClient(t *testing.T, addr string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Addr:           addr, // nothing listens here
		SendTimeout:    300 * time.Millisecond,
		ConnectBackoff: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestBroadcastSurvivesDeadSibling(t *testing.T) {
	liveStub := &stubSession{}
	_, liveClient := startServer(t, liveStub)
	clients := []*Client{deadClient(t, "127.0.0.1:1"), liveClient}

	err := Broadcast(context.Background(), clients, CmdNavigate, navigateRequest{Path: "/settings"})
	require.ErrorContains(t, err, "daemon 127.0.0.1:1")

	// The live daemon's call ran to completion despite the sibling failing.
	require.Equal(t, []string{"/settings"}, liveStub.navs)
	require.NotContains(t, err.Error(), liveClient.cfg.Addr)
}

func TestBroadcastReportsEveryFailure(t *testing.T) {
	clients := []*Client{deadClient(t, "127.0.0.1:1"), deadClient(t, "127.0.0.2:1")}

	err := Broadcast(context.Background(), clients, CmdNavigate, navigateRequest{Path: "/"})
	require.Error(t, err)
	require.ErrorContains(t, err, "daemon 127.0.0.1:1")
	require.ErrorContains(t, err, "daemon 127.0.0.2:1")

	err = PingAll(context.Background(), clients...)
	require.Error(t, err)
	require.ErrorContains(t, err, "daemon 127.0.0.1:1")
	require.ErrorContains(t, err, "daemon 127.0.0.2:1")
}

func TestConnectRetriesUntilBudget(t *testing.T) {
	client, err := NewClient(ClientConfig{
		Addr:           "127.0.0.1:1", // nothing listens here
		SendTimeout:    300 * time.Millisecond,
		ConnectBackoff: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	err = client.Ping(context.Background())
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}
