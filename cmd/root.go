// Package cmd defines the CLI commands for the gymscout executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/app"
	"github.com/pwnlabs/gymscout/internal/config"
	"github.com/pwnlabs/gymscout/internal/logging"
)

type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory. A variable so tests can swap in a
// container built around fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gymscout",
		Short: "Crawls a training platform and drafts challenge write-ups.",
		Long: `gymscout walks the topic, module, and challenge pages of a training
platform with a headless browser, captures each challenge, extracts its
content with a vision model, and drafts a reviewed write-up ticket for
every extracted challenge.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.GetViper()
			if err := config.Init(v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close(cmd.Context())
				_ = a.Logger.Sync()
			}
		},
	}

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command under the given context.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gymscout: %v\n", err)
		os.Exit(1)
	}
}
