package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/metrics"
	"github.com/trychlos/TheToolsProject-sub002/internal/signature"
)

// Session is the browser surface a daemon exposes over the wire.
// *browser.Session implements it.
type Session interface {
	Navigate(ctx context.Context, path string) error
	Click(ctx context.Context, loc browser.Locator) (bool, error)
	FindEquivalent(ctx context.Context, desc browser.Clickable) (browser.Locator, bool, error)
	DiscoverClickables(ctx context.Context) ([]browser.Clickable, error)
	Signature(ctx context.Context) (signature.Signature, error)
	CapturePage(ctx context.Context) (*capture.Capture, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// replayError asks the client to run a recovery command and retry.
type replayError struct{ token string }

func (e replayError) Error() string { return "replay escalation: " + e.token }

// ReplayEscalation wraps a token so a handler can demand client-side replay.
func ReplayEscalation(token string) error { return replayError{token: token} }

// ServerConfig describes one worker daemon.
type ServerConfig struct {
	// Addr is the TCP address to listen on.
	Addr string
	// Side labels this daemon (ref or new) in logs and ping answers.
	Side string
	// HandlerTimeout bounds each command's execution.
	HandlerTimeout time.Duration
	Logger         *zap.Logger
}

// Server accepts engine connections and executes commands against a single
// browser session.
type Server struct {
	cfg     ServerConfig
	session Session
	// relogin re-authenticates the session; nil disables the escalation.
	relogin func(ctx context.Context) error
	// needsLogin inspects a capture for a logged-out page; when it reports
	// true the capture command escalates instead of answering.
	needsLogin func(*capture.Capture) bool

	logger   *zap.Logger
	handlers map[string]func(ctx context.Context, payload json.RawMessage) (any, error)

	mu       sync.Mutex
	ln       net.Listener
	stopping bool
	wg       sync.WaitGroup
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithRelogin wires the re-authentication action and the detector that
// triggers its escalation.
func WithRelogin(relogin func(ctx context.Context) error, needsLogin func(*capture.Capture) bool) ServerOption {
	return func(s *Server) {
		s.relogin = relogin
		s.needsLogin = needsLogin
	}
}

// NewServer wires the command table for one session.
func NewServer(cfg ServerConfig, session Session, opts ...ServerOption) (*Server, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		cfg:     cfg,
		session: session,
		logger:  cfg.Logger.With(zap.String("side", cfg.Side)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[string]func(ctx context.Context, payload json.RawMessage) (any, error){
		CmdPing:           s.handlePing,
		CmdNavigate:       s.handleNavigate,
		CmdClick:          s.handleClick,
		CmdFindEquivalent: s.handleFindEquivalent,
		CmdDiscover:       s.handleDiscover,
		CmdSignature:      s.handleSignature,
		CmdCapture:        s.handleCapture,
		CmdScreenshot:     s.handleScreenshot,
		CmdRelogin:        s.handleRelogin,
		CmdShutdown:       s.handleShutdown,
	}
	return s, nil
}

// Serve listens and handles connections until Shutdown or ctx cancellation.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("daemon listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			s.wg.Wait()
			if stopping || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the bound listen address, for tests using port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting new connections. In-flight commands finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.stopping = true
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := newConnReader(conn)
	command, payload, err := readRequest(reader)
	if err != nil {
		s.logger.Warn("bad request", zap.Error(err))
		return
	}

	handler, ok := s.handlers[command]
	if !ok {
		s.respondError(conn, command, fmt.Errorf("unknown command %q", command))
		metrics.ObserveRPCCommand(command, "unknown")
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	defer cancel()
	answer, err := handler(cmdCtx, payload)

	var replay replayError
	switch {
	case errors.As(err, &replay):
		metrics.ObserveRPCCommand(command, "replay")
		metrics.ObserveRPCReplay(replay.token)
		s.logger.Info("escalating replay",
			zap.String("command", command), zap.String("token", replay.token))
		fmt.Fprintf(conn, "%s\n%s\n", replay.token, sentinel)
	case err != nil:
		metrics.ObserveRPCCommand(command, "error")
		s.respondError(conn, command, err)
	default:
		metrics.ObserveRPCCommand(command, "ok")
		s.respondAnswer(conn, command, answer)
	}
}

func (s *Server) respondAnswer(conn net.Conn, command string, answer any) {
	raw, err := json.Marshal(answer)
	if err != nil {
		s.respondError(conn, command, fmt.Errorf("marshal answer: %w", err))
		return
	}
	env, err := json.Marshal(envelope{Answer: raw})
	if err != nil {
		s.respondError(conn, command, fmt.Errorf("marshal envelope: %w", err))
		return
	}
	if _, err := fmt.Fprintf(conn, "%s\n%s\n", env, sentinel); err != nil {
		s.logger.Warn("write answer failed", zap.String("command", command), zap.Error(err))
	}
}

func (s *Server) respondError(conn net.Conn, command string, cause error) {
	s.logger.Warn("command failed", zap.String("command", command), zap.Error(cause))
	env, err := json.Marshal(envelope{Error: cause.Error()})
	if err != nil {
		return
	}
	fmt.Fprintf(conn, "%s\n%s\n", env, sentinel)
}

func (s *Server) handlePing(context.Context, json.RawMessage) (any, error) {
	return pingAnswer{Pong: true, Side: s.cfg.Side}, nil
}

func (s *Server) handleNavigate(ctx context.Context, payload json.RawMessage) (any, error) {
	var req navigateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode navigate request: %w", err)
	}
	if err := s.session.Navigate(ctx, req.Path); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) handleClick(ctx context.Context, payload json.RawMessage) (any, error) {
	var req clickRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode click request: %w", err)
	}
	found, err := s.session.Click(ctx, req.Locator)
	if err != nil {
		return nil, err
	}
	return clickAnswer{Found: found}, nil
}

func (s *Server) handleFindEquivalent(ctx context.Context, payload json.RawMessage) (any, error) {
	var req findEquivalentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode find_equivalent request: %w", err)
	}
	loc, found, err := s.session.FindEquivalent(ctx, req.Desc)
	if err != nil {
		return nil, err
	}
	return findEquivalentAnswer{Locator: loc, Found: found}, nil
}

func (s *Server) handleDiscover(ctx context.Context, _ json.RawMessage) (any, error) {
	clickables, err := s.session.DiscoverClickables(ctx)
	if err != nil {
		return nil, err
	}
	return discoverAnswer{Clickables: clickables}, nil
}

func (s *Server) handleSignature(ctx context.Context, _ json.RawMessage) (any, error) {
	sig, err := s.session.Signature(ctx)
	if err != nil {
		return nil, err
	}
	return signatureAnswer{Key: sig.Key(), Stripped: sig.Stripped()}, nil
}

func (s *Server) handleCapture(ctx context.Context, _ json.RawMessage) (any, error) {
	snap, err := s.session.CapturePage(ctx)
	if err != nil {
		return nil, err
	}
	if s.needsLogin != nil && s.relogin != nil && s.needsLogin(snap) {
		return nil, ReplayEscalation(CmdRelogin)
	}
	return captureAnswer{Capture: snap}, nil
}

func (s *Server) handleScreenshot(ctx context.Context, _ json.RawMessage) (any, error) {
	png, err := s.session.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return screenshotAnswer{PNG: png}, nil
}

func (s *Server) handleRelogin(ctx context.Context, _ json.RawMessage) (any, error) {
	if s.relogin == nil {
		return nil, fmt.Errorf("relogin is not configured")
	}
	if err := s.relogin(ctx); err != nil {
		return nil, fmt.Errorf("relogin: %w", err)
	}
	return struct{}{}, nil
}

func (s *Server) handleShutdown(context.Context, json.RawMessage) (any, error) {
	// Answer first, stop right after: closing the listener ends Serve.
	go s.Shutdown()
	return struct{}{}, nil
}
