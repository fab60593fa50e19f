package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/api"
	"github.com/JakeFAU/price-sentinel/internal/config"
	"github.com/JakeFAU/price-sentinel/internal/logging"
	"github.com/JakeFAU/price-sentinel/internal/server"
)

// App is what the subcommands need from the built application.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Crawler() api.Crawler
	Checker() api.ReminderChecker
}

type appKeyType struct{}

const closeTimeout = 10 * time.Second

// newApp builds the application. Tests replace it with a fake factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Track competitor prices from rendered page snapshots",
		Long: `sentinel captures product pages in a headless browser, reads name and
price from the screenshot with a vision model, and records the result as
either one of your products or a competitor observation.

Run "sentinel serve" for the HTTP API and scheduler, or use the crawl
commands for one-off runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},

	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SENTINEL_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newRecrawlCmd())
	cmd.AddCommand(newRemindCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the application for run and closes it afterwards, whether
// or not run fails.
func withApp(run func(cmd *cobra.Command, args []string, app App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			err = errors.Join(err, appInstance.Close(closeCtx))
		}()
		return run(cmd, args, appInstance)
	}
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	err := NewRootCmd().ExecuteContext(ctx)
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
