// Package cmd defines and implements the CLI commands for the
// auto-ria-downloader executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/logging"
)

var (
	cfgFile     string
	development bool
	logLevel    string
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-ria-downloader",
		Short: "Crawls a classifieds catalog and extracts listing records",
		Long: `auto-ria-downloader walks paginated search-result pages, visits every
discovered listing, reveals and extracts phone numbers plus configured
fields, deduplicates records by phone, and appends them to a CSV file
in batches.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().BoolVar(&development, "dev", false, "human-readable development logging")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug|info|warn|error)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCacheCmd())
	return cmd
}

// buildLogger constructs the process logger honoring the --dev and
// --log-level flags.
func buildLogger() (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{Development: development, Level: logLevel})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
