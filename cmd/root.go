package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trychlos/TheToolsProject-sub002/internal/app"
)

var (
	cfgFile    string
	devLogging bool
)

// appKeyType is the context key for the service container.
type appKeyType string

const appKey appKeyType = "app"

// newApp is a variable so tests can swap in a mock container.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfgFile, devLogging)
}

// newRootCmd builds the command tree. Services are constructed in
// PersistentPreRunE, after flags and config are resolved, and torn down in
// PersistentPostRun.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webdiff",
		Short: "Differential crawler for comparing two deployments of a site",
		Long: `webdiff drives a reference deployment and a candidate deployment of the
same web application through an identical navigation, captures the page state
on both sides at every step, and reports where they diverge.`,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().BoolVar(&devLogging, "dev-logging", false, "force the human-readable development logger")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newDaemonCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context so a
// running crawl winds down instead of leaving browsers behind.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
