// Package app wires the pipeline together: session pool, catalog crawler,
// detail scraper, cache, and output sink.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/browser"
	"github.com/eldlit/auto-ria-downloader/internal/cache"
	"github.com/eldlit/auto-ria-downloader/internal/catalog"
	"github.com/eldlit/auto-ria-downloader/internal/config"
	"github.com/eldlit/auto-ria-downloader/internal/detail"
	"github.com/eldlit/auto-ria-downloader/internal/metrics"
	"github.com/eldlit/auto-ria-downloader/internal/output"
)

// App runs one crawl end to end.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	// Factories are swappable for tests.
	newPool   func() Pool
	openStore func() (cache.Store, error)
}

// Pool is the slice of the session pool the app drives directly.
type Pool interface {
	browser.Pool
	Start(ctx context.Context) error
	Shutdown()
}

// New builds an App around the given configuration.
func New(cfg config.Config, logger *zap.Logger) *App {
	a := &App{cfg: cfg, logger: logger}
	a.newPool = func() Pool {
		return browser.NewSessionPool(browser.Config{
			MaxSessions: cfg.Browser.MaxSessions,
			Headless:    cfg.Browser.Headless,
			UserAgent:   cfg.Browser.UserAgent,
			Proxies:     cfg.ProxyList(),
		}, logger)
	}
	a.openStore = func() (cache.Store, error) {
		if !cfg.Cache.Enabled {
			return nil, nil
		}
		return cache.Open(cfg.Cache.Directory, logger)
	}
	return a
}

// Run executes the crawl for the catalog URLs listed in inputPath and
// returns the number of accepted records.
func (a *App) Run(ctx context.Context, inputPath string) (int, error) {
	runID := uuid.NewString()
	log := a.logger.With(zap.String("run_id", runID))

	catalogURLs, err := config.ReadInputURLs(inputPath)
	if err != nil {
		return 0, err
	}
	log.Info("run starting",
		zap.Int("catalog_urls", len(catalogURLs)),
		zap.Int("max_sessions", a.cfg.Browser.MaxSessions),
		zap.Bool("cache", a.cfg.Cache.Enabled),
	)

	metrics.Init()
	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			if serr := metrics.Serve(ctx, addr, log); serr != nil {
				log.Warn("metrics server failed", zap.Error(serr))
			}
		}()
	}

	pool := a.newPool()
	if err := pool.Start(ctx); err != nil {
		return 0, fmt.Errorf("start session pool: %w", err)
	}
	defer pool.Shutdown()

	store, err := a.openStore()
	if err != nil {
		return 0, fmt.Errorf("open cache: %w", err)
	}
	if store != nil {
		defer func() {
			if cerr := store.Close(); cerr != nil {
				log.Warn("cache close failed", zap.Error(cerr))
			}
		}()
	}

	crawler := catalog.New(pool, a.catalogConfig(), log)
	listingURLs, err := crawler.Crawl(ctx, catalogURLs)
	if err != nil {
		return 0, fmt.Errorf("catalog crawl: %w", err)
	}
	if len(listingURLs) == 0 {
		log.Warn("no listing URLs discovered")
		return 0, nil
	}

	writer, err := output.New(output.Config{
		Path:      a.cfg.Output.File,
		Fields:    a.cfg.FieldNames(),
		Delimiter: []rune(a.cfg.Output.Delimiter)[0],
		Encoding:  a.cfg.Output.Encoding,
	}, log)
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}

	collector := detail.NewCollector(a.cfg.Output.BatchSize, writer.WriteBatch, log)
	scraper := detail.New(pool, store, collector, a.detailConfig(), log)
	accepted, err := scraper.Run(ctx, listingURLs)
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	if err != nil {
		return accepted, err
	}

	log.Info("run finished",
		zap.Int("listings", len(listingURLs)),
		zap.Int("accepted", accepted),
		zap.String("output", writer.Path()),
	)
	return accepted, nil
}

func (a *App) catalogConfig() catalog.Config {
	return catalog.Config{
		LinkStrategies:  selectors(a.cfg.Selectors.CatalogLinks),
		ReadyProbes:     selectors(a.cfg.Selectors.CatalogReady),
		PageTimeout:     a.cfg.Parsing.PageTimeout,
		ProbeTimeout:    a.cfg.Parsing.ProbeTimeout,
		DelayMin:        a.cfg.Parsing.DelayMin,
		DelayMax:        a.cfg.Parsing.DelayMax,
		RetryAttempts:   a.cfg.Parsing.RetryAttempts,
		ListingsPerPage: a.cfg.Parsing.ListingsPerPage,
	}
}

func (a *App) detailConfig() detail.Config {
	fields := make([]detail.FieldSpec, 0, len(a.cfg.DataFields))
	for _, f := range a.cfg.DataFields {
		fields = append(fields, detail.FieldSpec{
			Name:       f.Name,
			Strategies: selectors(f.Selectors),
		})
	}
	return detail.Config{
		Concurrency:   a.cfg.Browser.DetailConcurrency,
		ListingReady:  selectors(a.cfg.Selectors.ListingReady),
		PhoneButtons:  selectors(a.cfg.Selectors.PhoneButtons),
		PhoneVisible:  selectors(a.cfg.Selectors.PhoneVisible),
		Fields:        fields,
		PageTimeout:   a.cfg.Parsing.PageTimeout,
		ProbeTimeout:  a.cfg.Parsing.ProbeTimeout,
		ClickTimeout:  a.cfg.Parsing.ClickTimeout,
		DelayMin:      a.cfg.Parsing.DelayMin,
		DelayMax:      a.cfg.Parsing.DelayMax,
		RetryAttempts: a.cfg.Parsing.RetryAttempts,
	}
}

func selectors(raw []string) []browser.Selector {
	out := make([]browser.Selector, 0, len(raw))
	for _, s := range raw {
		out = append(out, browser.Selector(s))
	}
	return out
}
