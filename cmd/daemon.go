package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
	"github.com/trychlos/TheToolsProject-sub002/internal/rpc"
)

func newDaemonCmd() *cobra.Command {
	var (
		roleName string
		side     string
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Runs a worker daemon owning one browser session",
		Long: `Launches a browser against one deployment side and serves it to the crawl
engine over TCP. Run one daemon per side, usually close to the deployment it
drives, then point the engine at both with daemons.enabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), roleName, side, listen)
		},
	}

	cmd.Flags().StringVar(&roleName, "role", "", "role whose deployment this daemon drives (required)")
	cmd.Flags().StringVar(&side, "side", "", "deployment side, ref or new (required)")
	cmd.Flags().StringVar(&listen, "listen", "", "TCP listen address (defaults to the side's configured daemon address)")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("side")
	return cmd
}

func runDaemon(ctx context.Context, roleName, side, listen string) error {
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	role, err := a.Cfg.CompileRole(roleName)
	if err != nil {
		return err
	}

	var (
		browserSide browser.Side
		baseURL     string
	)
	switch side {
	case string(browser.SideRef):
		browserSide, baseURL = browser.SideRef, role.RefBaseURL
		if listen == "" {
			listen = a.Cfg.Daemons.RefAddr
		}
	case string(browser.SideNew):
		browserSide, baseURL = browser.SideNew, role.NewBaseURL
		if listen == "" {
			listen = a.Cfg.Daemons.NewAddr
		}
	default:
		return fmt.Errorf("side must be %q or %q, got %q", browser.SideRef, browser.SideNew, side)
	}
	if listen == "" {
		return fmt.Errorf("no listen address: pass --listen or configure daemons.%s_addr", side)
	}

	logger := a.Logger.With(zap.String("role", role.Name), zap.String("side", side))
	session, err := newSideSession(ctx, role, browserSide, baseURL, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	var opts []rpc.ServerOption
	if role.Login.Path != "" {
		form, err := loginForm(role.Login)
		if err != nil {
			return err
		}
		opts = append(opts, rpc.WithRelogin(
			func(ctx context.Context) error { return session.Login(ctx, form) },
			loginPageDetector(role.Login.Path),
		))
		if err := session.Login(ctx, form); err != nil {
			return fmt.Errorf("initial login: %w", err)
		}
	}

	server, err := rpc.NewServer(rpc.ServerConfig{
		Addr:   listen,
		Side:   side,
		Logger: logger,
	}, session, opts...)
	if err != nil {
		return err
	}

	logger.Info("daemon listening", zap.String("addr", listen))
	return server.Serve(ctx)
}

// loginPageDetector reports whether a capture landed on the login form,
// meaning the session lost its authentication.
func loginPageDetector(loginPath string) func(*capture.Capture) bool {
	return func(c *capture.Capture) bool {
		return c != nil && strings.Contains(c.FinalURL, loginPath)
	}
}
