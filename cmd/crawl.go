package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/app"
	"github.com/eldlit/auto-ria-downloader/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs the full pipeline
// for the catalog URLs listed in the input file.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <input-file>",
		Short: "Crawl catalogs and scrape the discovered listings",
		Long: `Reads catalog URLs from the input file (one per line, blank lines and
#-comments ignored), walks their pagination, scrapes every discovered
listing, and writes accepted records to the configured CSV output.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accepted, err := app.New(cfg, logger).Run(ctx, args[0])
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted", zap.Int("accepted", accepted))
			return nil
		}
		return fmt.Errorf("crawl: %w", err)
	}

	logger.Info("crawl finished", zap.Int("accepted", accepted))
	return nil
}
