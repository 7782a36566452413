package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/clock"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

// ClientConfig tunes one daemon connection.
type ClientConfig struct {
	// Addr is the daemon's TCP address.
	Addr string
	// SendTimeout bounds connecting plus writing the request.
	SendTimeout time.Duration
	// AnswerTimeout bounds waiting for the full response.
	AnswerTimeout time.Duration
	// ConnectBackoff paces dial retries within the send budget.
	ConnectBackoff time.Duration
	Logger         *zap.Logger
	Clock          clock.Clock
}

func (c *ClientConfig) applyDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 2 * time.Minute
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
}

// Client drives a remote worker daemon over the socket protocol. It opens one
// connection per call and implements the same driver surface as an in-process
// browser session.
type Client struct {
	cfg    ClientConfig
	logger *zap.Logger
	clk    clock.Clock
	dial   func(ctx context.Context, addr string) (net.Conn, error)
}

// NewClient builds a Client for the daemon at cfg.Addr.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("daemon address is required")
	}
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("daemon", cfg.Addr)),
		clk:    cfg.Clock,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}, nil
}

// Origin reports where this driver executes.
func (c *Client) Origin() Origin { return OriginDaemon }

// Call sends one command and decodes the answer into out (out may be nil).
// A replay token in the response runs the named recovery command, then
// re-issues the original call; re-seeing a token within the same logical
// call is a protocol error.
func (c *Client) Call(ctx context.Context, command string, payload, out any) error {
	replayed := make(map[string]bool)
	for {
		rep, err := c.once(ctx, command, payload)
		if err != nil {
			return fmt.Errorf("%s: %w", command, err)
		}
		for _, fragment := range rep.fragments {
			c.logger.Debug("daemon fragment", zap.String("command", command), zap.String("line", fragment))
		}
		if rep.token == "" {
			if out == nil || rep.answer == nil {
				return nil
			}
			if err := json.Unmarshal(rep.answer, out); err != nil {
				return fmt.Errorf("%s: decode answer: %w", command, err)
			}
			return nil
		}
		if replayed[rep.token] {
			return fmt.Errorf("%s: replay:%s", command, rep.token)
		}
		replayed[rep.token] = true
		c.logger.Info("replay escalation",
			zap.String("command", command), zap.String("token", rep.token))
		if _, err := c.once(ctx, rep.token, struct{}{}); err != nil {
			return fmt.Errorf("%s: replay %s: %w", command, rep.token, err)
		}
	}
}

// once performs a single request/response exchange on a fresh connection.
func (c *Client) once(ctx context.Context, command string, payload any) (reply, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return reply{}, err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(c.clk.Now().Add(c.cfg.SendTimeout)); err != nil {
		return reply{}, fmt.Errorf("set write deadline: %w", err)
	}
	if err := writeRequest(conn, command, payload); err != nil {
		return reply{}, err
	}
	// Half-close tells the daemon the request is complete.
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return reply{}, fmt.Errorf("close write: %w", err)
		}
	}

	if err := conn.SetReadDeadline(c.clk.Now().Add(c.cfg.AnswerTimeout)); err != nil {
		return reply{}, fmt.Errorf("set read deadline: %w", err)
	}
	return readReply(conn, isReplayToken)
}

// connect dials with backoff until the send budget runs out.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	deadline := c.clk.Now().Add(c.cfg.SendTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for {
		conn, err := c.dial(dialCtx, c.cfg.Addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil || !c.clk.Now().Add(c.cfg.ConnectBackoff).Before(deadline) {
			return nil, fmt.Errorf("connect %s: %w", c.cfg.Addr, lastErr)
		}
		c.logger.Debug("daemon not reachable, retrying", zap.Error(err))
		c.clk.Sleep(c.cfg.ConnectBackoff)
	}
}

// isReplayToken recognizes the recovery commands a daemon may escalate with.
func isReplayToken(token string) bool {
	return token == CmdRelogin
}

// Ping verifies the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	var ans pingAnswer
	if err := c.Call(ctx, CmdPing, struct{}{}, &ans); err != nil {
		return err
	}
	if !ans.Pong {
		return fmt.Errorf("ping: daemon answered without pong")
	}
	return nil
}

// Navigate implements the driver surface.
func (c *Client) Navigate(ctx context.Context, path string) error {
	return c.Call(ctx, CmdNavigate, navigateRequest{Path: path}, nil)
}

// Click implements the driver surface.
func (c *Client) Click(ctx context.Context, loc browser.Locator) (bool, error) {
	var ans clickAnswer
	if err := c.Call(ctx, CmdClick, clickRequest{Locator: loc}, &ans); err != nil {
		return false, err
	}
	return ans.Found, nil
}

// FindEquivalent implements the driver surface.
func (c *Client) FindEquivalent(ctx context.Context, desc browser.Clickable) (browser.Locator, bool, error) {
	var ans findEquivalentAnswer
	if err := c.Call(ctx, CmdFindEquivalent, findEquivalentRequest{Desc: desc}, &ans); err != nil {
		return browser.Locator{}, false, err
	}
	return ans.Locator, ans.Found, nil
}

// DiscoverClickables implements the driver surface.
func (c *Client) DiscoverClickables(ctx context.Context) ([]browser.Clickable, error) {
	var ans discoverAnswer
	if err := c.Call(ctx, CmdDiscover, struct{}{}, &ans); err != nil {
		return nil, err
	}
	return ans.Clickables, nil
}

// Signature implements the driver surface.
func (c *Client) Signature(ctx context.Context) (signature.Signature, error) {
	var ans signatureAnswer
	if err := c.Call(ctx, CmdSignature, struct{}{}, &ans); err != nil {
		return signature.Signature{}, err
	}
	return signature.FromParts(ans.Key, ans.Stripped), nil
}

// CapturePage implements the driver surface.
func (c *Client) CapturePage(ctx context.Context) (*capture.Capture, error) {
	var ans captureAnswer
	if err := c.Call(ctx, CmdCapture, struct{}{}, &ans); err != nil {
		return nil, err
	}
	if ans.Capture == nil {
		return nil, fmt.Errorf("capture: daemon answered without capture")
	}
	return ans.Capture, nil
}

// Screenshot implements the driver surface.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	var ans screenshotAnswer
	if err := c.Call(ctx, CmdScreenshot, struct{}{}, &ans); err != nil {
		return nil, err
	}
	return ans.PNG, nil
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, CmdShutdown, struct{}{}, nil)
}
