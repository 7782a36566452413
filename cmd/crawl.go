// Package cmd defines the webdiff CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/api"
	"github.com/trychlos/TheToolsProject-sub002/internal/app"
	"github.com/trychlos/TheToolsProject-sub002/internal/artifacts"
	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/clock"
	"github.com/trychlos/TheToolsProject-sub002/internal/config"
	"github.com/trychlos/TheToolsProject-sub002/internal/crawl"
	"github.com/trychlos/TheToolsProject-sub002/internal/probe"
	"github.com/trychlos/TheToolsProject-sub002/internal/ratelimit"
	"github.com/trychlos/TheToolsProject-sub002/internal/rpc"
	"github.com/trychlos/TheToolsProject-sub002/internal/store"
)

func newCrawlCmd() *cobra.Command {
	var roleName string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one differential crawl for a role",
		Long: `Walks the reference and new deployments of the role through the same
navigation, capturing and comparing page state at every step. The exit code is
non-zero when any divergence was found.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), roleName)
		},
	}

	cmd.Flags().StringVar(&roleName, "role", "", "role to crawl (required)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func runCrawl(ctx context.Context, roleName string) error {
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	role, err := a.Cfg.CompileRole(roleName)
	if err != nil {
		return err
	}
	logger := a.Logger.With(zap.String("role", role.Name))
	runID := uuid.New()

	// The status server reads the result through this pointer; it stays nil
	// until the run completes.
	var final atomic.Pointer[crawl.Result]
	if a.Cfg.Status.Enabled {
		status := api.NewServer(logger, a.Recent, func() *crawl.Result { return final.Load() })
		go func() {
			if serr := status.Run(ctx, a.Cfg.Status.Port); serr != nil {
				logger.Warn("status server stopped", zap.Error(serr))
			}
		}()
	}

	refSide, newSide, cleanup, err := buildDrivers(ctx, a, role, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var pacer crawl.Pacer
	if role.VisitRPS > 0 {
		pacer = ratelimit.New(role.VisitRPS, role.VisitBurst)
	}
	engine, err := crawl.New(role, refSide, newSide,
		artifacts.NewStore(a.Storage, role.Name, logger),
		crawl.Options{Emitter: a.Hub, Logger: logger, RunID: runID, Pacer: pacer})
	if err != nil {
		return err
	}

	result, runErr := engine.Run(ctx)
	if result != nil {
		final.Store(result)
		persistResult(a, logger, runID, result)
		fmt.Print(result.Summary())
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run crawl: %w", runErr)
	}
	if result != nil && !result.Clean() {
		return fmt.Errorf("role %s: %d mismatches, %d unexpected failures",
			role.Name, len(result.Mismatches), len(result.Unexpected))
	}
	return nil
}

// buildDrivers returns one driver per deployment side: socket clients when
// worker daemons are configured, otherwise two in-process browser sessions.
func buildDrivers(ctx context.Context, a *app.App, role config.Role, logger *zap.Logger) (crawl.Driver, crawl.Driver, func(), error) {
	if a.Cfg.Daemons.Enabled {
		refClient, err := newDaemonClient(a.Cfg.Daemons, a.Cfg.Daemons.RefAddr, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		newClient, err := newDaemonClient(a.Cfg.Daemons, a.Cfg.Daemons.NewAddr, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := rpc.PingAll(ctx, refClient, newClient); err != nil {
			return nil, nil, nil, fmt.Errorf("daemons unreachable: %w", err)
		}
		return refClient, newClient, func() {}, nil
	}

	refSession, err := newSideSession(ctx, role, browser.SideRef, role.RefBaseURL, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	newSession, err := newSideSession(ctx, role, browser.SideNew, role.NewBaseURL, logger)
	if err != nil {
		refSession.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		newSession.Close()
		refSession.Close()
	}

	if role.Login.Path != "" {
		form, err := loginForm(role.Login)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		for _, s := range []*browser.Session{refSession, newSession} {
			if err := s.Login(ctx, form); err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("login: %w", err)
			}
		}
	}
	return refSession, newSession, cleanup, nil
}

func newDaemonClient(dcfg config.DaemonsConfig, addr string, logger *zap.Logger) (*rpc.Client, error) {
	return rpc.NewClient(rpc.ClientConfig{
		Addr:           addr,
		SendTimeout:    time.Duration(dcfg.SendTimeoutSec) * time.Second,
		AnswerTimeout:  time.Duration(dcfg.AnswerTimeoutSec) * time.Second,
		ConnectBackoff: time.Duration(dcfg.ConnectBackoffMs) * time.Millisecond,
		Logger:         logger,
	})
}

func newSideSession(ctx context.Context, role config.Role, side browser.Side, baseURL string, logger *zap.Logger) (*browser.Session, error) {
	sanitizer, err := capture.NewSanitizer(role.IgnoreSelectors, role.IgnoreAttrs)
	if err != nil {
		return nil, fmt.Errorf("sanitizer: %w", err)
	}
	session, err := browser.NewSession(ctx, browser.Config{
		BaseURL:       baseURL,
		Side:          side,
		Role:          role.Name,
		UserAgent:     role.UserAgent,
		Headless:      true,
		ReadyTimeout:  role.ReadyTimeout,
		QuietWindow:   role.QuietWindow,
		ScriptTimeout: role.ScriptTimeout,
		NavRetries:    role.NavRetries,
		RetrySleep:    role.RetrySleep,
	}, sanitizer, probe.New(role.UserAgent, role.ReadyTimeout), clock.System{}, logger)
	if err != nil {
		return nil, fmt.Errorf("%s session: %w", side, err)
	}
	return session, nil
}

// loginForm resolves the per-OS field values into the flat form the browser
// session fills in.
func loginForm(login config.Login) (browser.LoginForm, error) {
	form := browser.LoginForm{Path: login.Path, Submit: login.Submit}
	for _, f := range login.Fields {
		value, err := f.Value.ResolveHost()
		if err != nil {
			return browser.LoginForm{}, fmt.Errorf("login field %s: %w", f.Selector, err)
		}
		form.Fields = append(form.Fields, browser.LoginField{Selector: f.Selector, Value: value})
	}
	return form, nil
}

// persistResult writes the run to every configured backend. Storage failures
// are logged, not fatal: the in-memory result already decided the exit code.
func persistResult(a *app.App, logger *zap.Logger, runID uuid.UUID, result *crawl.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Visits.StoreRun(ctx, store.RunRecord{
		RunID:      runID,
		Role:       result.Role,
		Started:    result.Started,
		Finished:   result.Finished,
		Visited:    result.Visited,
		Mismatches: len(result.Mismatches),
		Clean:      result.Clean(),
	}); err != nil {
		logger.Warn("store run summary failed", zap.Error(err))
	}
	for _, rec := range result.Seen {
		if err := a.Visits.StoreVisit(ctx, store.VisitRecord{
			RunID:     runID,
			Role:      result.Role,
			Ordinal:   rec.Ordinal,
			Key:       rec.Key,
			Kind:      string(rec.Kind),
			Label:     rec.Label,
			Status:    rec.Status,
			Outcome:   string(rec.Outcome),
			Reasons:   rec.Reasons,
			Dest:      rec.Dest,
			VisitedAt: result.Finished,
		}); err != nil {
			logger.Warn("store visit failed", zap.Int("ordinal", rec.Ordinal), zap.Error(err))
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Warn("encode summary failed", zap.Error(err))
		return
	}
	summaryStore := artifacts.NewStore(a.Storage, result.Role, logger)
	if err := summaryStore.SaveSummary(ctx, data); err != nil {
		logger.Warn("save summary artifact failed", zap.Error(err))
	}
}
