package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/api"
	"github.com/JakeFAU/realtime-scraper/internal/app"
	"github.com/JakeFAU/realtime-scraper/internal/config"
	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/logging"
	"github.com/JakeFAU/realtime-scraper/internal/scraper"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

const closeTimeout = 10 * time.Second

// App is the part of the service container the commands use. Tests swap
// newApp to inject their own.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Scraper() *scraper.Scraper
	DefaultOptions() crawler.Options
	Server() *api.Server
	Close(ctx context.Context) error
}

// newApp loads configuration from cfgPath and builds the container.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd builds the command tree. The container built by the pre-run
// hook is stored in *holder so the caller can release it when a command
// fails before the post-run hook.
func newRootCmd(holder *App) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Fetch, parse, and extract structured records from web pages.",
		Long: `scraper fetches pages politely (rate limits, robots.txt, retries),
parses them into a document tree, and extracts records using named schemas,
custom selectors, and text patterns. Results can be exported to files,
databases, object storage, webhooks, or Pub/Sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*holder = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			closeApp(cmd.Context(), holder)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// closeApp shuts down the container in *holder once.
func closeApp(ctx context.Context, holder *App) {
	appInstance := *holder
	if appInstance == nil {
		return
	}
	*holder = nil
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := appInstance.Close(ctx); err != nil {
		appInstance.Logger().Warn("shutdown reported errors", zap.Error(err))
	}
}

// resolveApp pulls the container stored by the root pre-run hook.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI with args, writing command output to out.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	var appInstance App
	cmd := newRootCmd(&appInstance)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	err := cmd.ExecuteContext(ctx)
	closeApp(ctx, &appInstance)
	return err
}
