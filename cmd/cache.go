package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/cache"
	"github.com/eldlit/auto-ria-downloader/internal/config"
)

// newCacheCmd groups cache maintenance subcommands.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the listing cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached listing record",
		RunE:  runCacheClear,
	})
	return cmd
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := cache.Open(cfg.Cache.Directory, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = store.Close() }()

	n, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}
	if err := store.Clear(cmd.Context()); err != nil {
		return err
	}
	logger.Info("cache cleared", zap.Int("entries_dropped", n))
	return nil
}
