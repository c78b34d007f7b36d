// Package cmd defines the racecrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/app"
	"github.com/JakeFAU/racing-crawler/internal/config"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/logging"
	"github.com/JakeFAU/racing-crawler/internal/sites"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests swap in a fake.
type App interface {
	Crawl(ctx context.Context, kind sites.Kind, params crawler.Params) (crawler.Summary, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp loads configuration and builds the application. It is a variable so
// tests can replace it.
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
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "racecrawler",
		Short: "Crawls horse racing sites into structured records.",
		Long: heredoc.Doc(`
			racecrawler collects race entries, power rankings, news articles and
			race results, stores them through the configured sink and records each
			run's progress.
		`),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default racecrawler.yaml in ., /etc/racecrawler or $HOME/.racecrawler)")
	cmd.AddCommand(newCrawlCmd(), newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// closeApp releases the application once a subcommand is done with it.
func closeApp(ctx context.Context, a App) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		zap.L().Warn("application close failed", zap.Error(err))
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
