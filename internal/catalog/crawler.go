// Package catalog walks paginated search-result pages and collects listing
// URLs.
package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eldlit/auto-ria-downloader/internal/browser"
	"github.com/eldlit/auto-ria-downloader/internal/metrics"
)

// Config controls pagination traversal and link extraction.
type Config struct {
	// LinkStrategies are tried in order on every catalog page; results are
	// unioned across strategies.
	LinkStrategies []browser.Selector
	// ReadyProbes are candidate signals that the catalog has rendered. The
	// first one to appear wins; the crawl proceeds even if none do.
	ReadyProbes     []browser.Selector
	PageTimeout     time.Duration
	ProbeTimeout    time.Duration
	DelayMin        time.Duration
	DelayMax        time.Duration
	RetryAttempts   int
	ListingsPerPage int
}

// Crawler traverses catalog pagination across the session pool.
type Crawler struct {
	pool   browser.Pool
	cfg    Config
	logger *zap.Logger
}

// New builds a catalog crawler on top of the given session pool.
func New(pool browser.Pool, cfg Config, logger *zap.Logger) *Crawler {
	return &Crawler{pool: pool, cfg: cfg, logger: logger}
}

// Crawl processes every catalog URL and returns the union of discovered
// listing URLs, deduplicated and sorted. Catalog URLs are split round-robin
// across sessions; each session works its share strictly in order while
// sessions run in parallel.
func (c *Crawler) Crawl(ctx context.Context, catalogURLs []string) ([]string, error) {
	urls := trimNonEmpty(catalogURLs)
	if len(urls) == 0 {
		return nil, nil
	}

	sessions := c.pool.Sessions()
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session pool has no live sessions")
	}

	assignments := Partition(urls, len(sessions))

	var mu sync.Mutex
	merged := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	for i, session := range sessions {
		assigned := assignments[i]
		if len(assigned) == 0 {
			continue
		}
		g.Go(func() error {
			found, err := c.crawlWithSession(gctx, session, assigned)
			if err != nil {
				return err
			}
			mu.Lock()
			for u := range found {
				merged[u] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]string, 0, len(merged))
	for u := range merged {
		result = append(result, u)
	}
	sort.Strings(result)
	c.logger.Info("catalog crawl finished", zap.Int("listing_urls", len(result)))
	return result, nil
}

// crawlWithSession works one session's share of catalog URLs sequentially.
// Failed catalog URLs are abandoned after the retry cap; the session moves on
// to its next URL.
func (c *Crawler) crawlWithSession(
	ctx context.Context,
	session browser.Session,
	urls []string,
) (map[string]struct{}, error) {
	log := c.logger.With(zap.String("session", session.Name()))
	log.Debug("session crawling catalogs",
		zap.String("proxy", session.ProxyLabel()),
		zap.Int("catalog_urls", len(urls)),
	)

	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page on %s: %w", session.Name(), err)
	}
	defer func() { page.Close() }()

	collected := make(map[string]struct{})
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		log.Info("loading catalog", zap.String("url", u))

		attempt := 0
		for attempt <= c.cfg.RetryAttempts {
			links, err := c.crawlCatalog(ctx, page, u)
			if err == nil {
				for l := range links {
					collected[l] = struct{}{}
				}
				break
			}

			attempt++
			if browser.IsDenied(err) {
				log.Warn("access denied on catalog; rotating session",
					zap.String("url", u), zap.Error(err))
				if attempt > c.cfg.RetryAttempts {
					log.Error("giving up on catalog",
						zap.String("url", u), zap.Int("attempts", attempt))
					break
				}
				metrics.Rotation()
				page.Close()
				if rerr := c.pool.Rotate(ctx, session); rerr != nil {
					return collected, fmt.Errorf("rotate session %s: %w", session.Name(), rerr)
				}
				page, err = session.NewPage(ctx)
				if err != nil {
					return collected, fmt.Errorf("reopen page on %s: %w", session.Name(), err)
				}
				continue
			}

			log.Error("catalog crawl attempt failed", zap.String("url", u), zap.Error(err))
			if attempt > c.cfg.RetryAttempts {
				log.Error("giving up on catalog",
					zap.String("url", u), zap.Int("attempts", attempt))
				break
			}
		}
	}
	return collected, nil
}

// crawlCatalog loads one catalog URL and walks its pagination to the end,
// returning every listing link found along the way.
func (c *Crawler) crawlCatalog(
	ctx context.Context,
	page browser.Page,
	catalogURL string,
) (map[string]struct{}, error) {
	current, err := page.Navigate(ctx, ApplyPageSize(catalogURL, c.cfg.ListingsPerPage), c.cfg.PageTimeout)
	if err != nil {
		return nil, err
	}
	c.waitCatalogReady(ctx, page)

	links := make(map[string]struct{})
	seenPages := make(map[string]struct{})
	for {
		canonical := CanonicalURL(current)
		if _, ok := seenPages[canonical]; ok {
			c.logger.Debug("repeated catalog page; stopping pagination",
				zap.String("url", canonical))
			break
		}
		seenPages[canonical] = struct{}{}

		added, err := c.extractLinks(ctx, page, links)
		if err != nil {
			return links, err
		}
		metrics.CatalogPage()
		c.logger.Info("catalog page extracted",
			zap.String("url", canonical),
			zap.Int("new_links", added),
			zap.Int("total_links", len(links)),
		)

		if IsLastPage(current) {
			c.logger.Info("reached declared last page", zap.String("url", current))
			break
		}

		next, err := NextPageURL(current, c.cfg.ListingsPerPage)
		if err != nil {
			return links, fmt.Errorf("compute next page for %s: %w", current, err)
		}

		if err := c.delay(ctx); err != nil {
			return links, err
		}

		landed, err := page.Navigate(ctx, next, c.cfg.PageTimeout)
		if err != nil {
			if browser.IsTimeout(err) {
				// A slow page may still be usable; fall back to wherever
				// the navigation actually got us.
				c.logger.Warn("pagination navigation timed out", zap.String("url", next))
				landed, err = page.CurrentURL(ctx)
				if err != nil {
					return links, err
				}
			} else {
				return links, err
			}
		}
		c.waitCatalogReady(ctx, page)

		if CanonicalURL(landed) == canonical {
			c.logger.Debug("pagination did not change page; assuming end",
				zap.String("url", landed))
			break
		}
		hasMore, err := c.hasListings(ctx, page)
		if err != nil {
			return links, err
		}
		if !hasMore {
			c.logger.Debug("no listings after pagination; assuming end",
				zap.String("url", landed))
			break
		}
		current = landed
	}
	return links, nil
}

// extractLinks unions every link strategy's matches into dst and returns how
// many were new.
func (c *Crawler) extractLinks(
	ctx context.Context,
	page browser.Page,
	dst map[string]struct{},
) (int, error) {
	added := 0
	for _, strategy := range c.cfg.LinkStrategies {
		found, err := page.Links(ctx, strategy)
		if err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			c.logger.Debug("link strategy failed",
				zap.String("selector", string(strategy)), zap.Error(err))
			continue
		}
		for _, link := range found {
			if _, ok := dst[link]; !ok {
				dst[link] = struct{}{}
				added++
			}
		}
	}
	return added, nil
}

func (c *Crawler) hasListings(ctx context.Context, page browser.Page) (bool, error) {
	for _, strategy := range c.cfg.LinkStrategies {
		n, err := page.Count(ctx, strategy)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// waitCatalogReady tries each readiness probe in order with a short timeout.
// All probes failing is not an error; some site variants render without any
// of the known markers.
func (c *Crawler) waitCatalogReady(ctx context.Context, page browser.Page) {
	for _, probe := range c.cfg.ReadyProbes {
		if err := page.WaitVisible(ctx, probe, c.cfg.ProbeTimeout); err == nil {
			return
		}
	}
	c.logger.Debug("no catalog ready probe matched; continuing anyway")
}

// delay sleeps a random duration in the configured range, honoring ctx.
func (c *Crawler) delay(ctx context.Context) error {
	if c.cfg.DelayMax <= 0 {
		return nil
	}
	d := c.cfg.DelayMin
	if c.cfg.DelayMax > c.cfg.DelayMin {
		d += time.Duration(rand.Int63n(int64(c.cfg.DelayMax - c.cfg.DelayMin)))
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
