// Package detail turns listing URLs into validated, deduplicated records
// using a worker pool over the shared session pool.
package detail

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eldlit/auto-ria-downloader/internal/browser"
	"github.com/eldlit/auto-ria-downloader/internal/cache"
	"github.com/eldlit/auto-ria-downloader/internal/listing"
	"github.com/eldlit/auto-ria-downloader/internal/metrics"
)

// phoneField is the configured field whose extracted text carries the phone
// numbers.
const phoneField = "phone"

// FieldSpec names one output field and the ordered extraction strategies
// tried for it. The first strategy whose first match yields non-empty
// normalized text wins.
type FieldSpec struct {
	Name       string
	Strategies []browser.Selector
}

// Config controls listing-page processing.
type Config struct {
	// Concurrency is the number of workers per live session.
	Concurrency int
	// ListingReady are candidate signals that the listing page rendered.
	ListingReady []browser.Selector
	// PhoneButtons are candidate reveal-control strategies, tried in order.
	PhoneButtons []browser.Selector
	// PhoneVisible are candidate signals that a phone number is displayed.
	PhoneVisible  []browser.Selector
	Fields        []FieldSpec
	PageTimeout   time.Duration
	ProbeTimeout  time.Duration
	ClickTimeout  time.Duration
	DelayMin      time.Duration
	DelayMax      time.Duration
	RetryAttempts int
}

// Scraper drains a queue of listing URLs through the session pool, consults
// the cache, and hands surviving records to the collector.
type Scraper struct {
	pool      browser.Pool
	store     cache.Store
	collector *Collector
	cfg       Config
	logger    *zap.Logger
}

// New builds a detail scraper. store may be nil when caching is disabled.
func New(
	pool browser.Pool,
	store cache.Store,
	collector *Collector,
	cfg Config,
	logger *zap.Logger,
) *Scraper {
	return &Scraper{pool: pool, store: store, collector: collector, cfg: cfg, logger: logger}
}

// Run processes every listing URL and returns the number of accepted
// records. The final partial batch is flushed before returning.
func (s *Scraper) Run(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	sessions := s.pool.Sessions()
	if len(sessions) == 0 {
		return 0, fmt.Errorf("session pool has no live sessions")
	}

	workersPerSession := s.cfg.Concurrency
	if workersPerSession <= 0 {
		workersPerSession = 1
	}
	s.logger.Info("detail scrape starting",
		zap.Int("listings", len(urls)),
		zap.Int("workers", len(sessions)*workersPerSession),
	)

	queue := NewQueue(urls)
	g, gctx := errgroup.WithContext(ctx)
	for _, session := range sessions {
		for w := 0; w < workersPerSession; w++ {
			name := fmt.Sprintf("%s/%d", session.Name(), w)
			g.Go(func() error {
				return s.worker(gctx, session, queue, name)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return s.collector.Accepted(), err
	}
	if err := queue.Join(ctx); err != nil {
		return s.collector.Accepted(), err
	}

	if err := s.collector.FinalFlush(); err != nil {
		return s.collector.Accepted(), err
	}
	accepted := s.collector.Accepted()
	s.logger.Info("detail scrape finished", zap.Int("accepted", accepted))
	return accepted, nil
}

// worker loops dequeue → process → acknowledge until the queue is
// exhausted. Per-URL failures are absorbed inside process; only systemic
// failures (context, rotation, sink) abort the worker.
func (s *Scraper) worker(
	ctx context.Context,
	session browser.Session,
	queue *Queue,
	name string,
) error {
	log := s.logger.With(zap.String("worker", name))

	page, err := session.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page on %s: %w", name, err)
	}
	defer func() { page.Close() }()

	for {
		url, ok, err := queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		err = s.process(ctx, session, &page, url, log)
		queue.Ack()
		if err != nil {
			return err
		}
		if err := s.delay(ctx); err != nil {
			return err
		}
	}
}

// process handles one listing URL end to end. A nil return means the item
// was acknowledged one way or another (accepted, duplicate, skipped, or
// abandoned past the retry cap); errors are reserved for failures that
// should stop the worker.
func (s *Scraper) process(
	ctx context.Context,
	session browser.Session,
	page *browser.Page,
	url string,
	log *zap.Logger,
) error {
	if s.store != nil {
		cached, hit, err := s.store.Load(ctx, url)
		if err != nil {
			log.Warn("cache lookup failed", zap.String("url", url), zap.Error(err))
		} else if hit {
			metrics.CacheLookup("hit")
			log.Debug("cache hit", zap.String("url", url))
			return s.deliver(ctx, cached, false, url, log)
		} else {
			metrics.CacheLookup("miss")
		}
	}

	attempt := 0
	for attempt <= s.cfg.RetryAttempts {
		result, err := s.scrapeListing(ctx, *page, url)
		if err == nil {
			if result == nil {
				metrics.Listing("skipped")
				return nil
			}
			return s.deliver(ctx, *result, true, url, log)
		}

		attempt++
		if browser.IsDenied(err) {
			log.Warn("access denied on listing; rotating session",
				zap.String("url", url), zap.Error(err))
			if attempt > s.cfg.RetryAttempts {
				log.Error("giving up on listing",
					zap.String("url", url), zap.Int("attempts", attempt))
				metrics.Listing("failed")
				return nil
			}
			metrics.Rotation()
			(*page).Close()
			if rerr := s.pool.Rotate(ctx, session); rerr != nil {
				return fmt.Errorf("rotate session %s: %w", session.Name(), rerr)
			}
			fresh, perr := session.NewPage(ctx)
			if perr != nil {
				return fmt.Errorf("reopen page on %s: %w", session.Name(), perr)
			}
			*page = fresh
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn("listing attempt failed", zap.String("url", url), zap.Error(err))
		if attempt > s.cfg.RetryAttempts {
			log.Error("giving up on listing",
				zap.String("url", url), zap.Int("attempts", attempt))
			metrics.Listing("failed")
			return nil
		}
	}
	return nil
}

// deliver pushes a scraped or cached record through the dedup gate and,
// when it came from a live scrape, writes it back to the cache keyed by the
// queued URL so the next run's lookup finds it even after a redirect.
func (s *Scraper) deliver(
	ctx context.Context,
	result listing.Result,
	scraped bool,
	url string,
	log *zap.Logger,
) error {
	accepted, err := s.collector.Accept(result)
	if err != nil {
		return err
	}
	switch {
	case accepted:
		metrics.Listing("accepted")
	case len(result.NormalizedPhones()) == 0:
		metrics.Listing("skipped")
		log.Info("no usable phone; record dropped", zap.String("url", url))
	default:
		metrics.Listing("duplicate")
		log.Info("duplicate phone; record dropped", zap.String("url", url))
	}

	if scraped && s.store != nil {
		if err := s.store.Save(ctx, url, result); err != nil {
			log.Warn("cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

// scrapeListing extracts one listing page. A (nil, nil) return is a
// business-rule skip: the page loaded but yielded no title or no phone.
func (s *Scraper) scrapeListing(
	ctx context.Context,
	page browser.Page,
	url string,
) (*listing.Result, error) {
	landed, err := page.Navigate(ctx, url, s.cfg.PageTimeout)
	if err != nil {
		return nil, err
	}

	if !s.waitListingReady(ctx, page) {
		// One reload before giving up on the render.
		if landed, err = page.Navigate(ctx, url, s.cfg.PageTimeout); err != nil {
			return nil, err
		}
		if !s.waitListingReady(ctx, page) {
			return nil, fmt.Errorf("listing %s never became ready", url)
		}
	}

	if !s.phoneVisible(ctx, page) {
		s.revealPhone(ctx, page)
	}

	fields := make(map[string]string, len(s.cfg.Fields))
	for _, field := range s.cfg.Fields {
		if value := s.extractField(ctx, page, field); value != "" {
			fields[field.Name] = value
		}
	}

	phones := listing.SplitPhones(fields[phoneField])
	result := listing.Result{URL: landed, Fields: fields, Phones: phones}
	if result.Title() == "" {
		s.logger.Info("skipping listing without title", zap.String("url", landed))
		return nil, nil
	}
	if len(phones) == 0 {
		s.logger.Info("skipping listing without phone", zap.String("url", landed))
		return nil, nil
	}
	return &result, nil
}

// waitListingReady tries each readiness probe with a short timeout and
// reports whether any appeared.
func (s *Scraper) waitListingReady(ctx context.Context, page browser.Page) bool {
	for _, probe := range s.cfg.ListingReady {
		if err := page.WaitVisible(ctx, probe, s.cfg.ProbeTimeout); err == nil {
			return true
		}
	}
	return len(s.cfg.ListingReady) == 0
}

// phoneVisible reports whether any of the phone-displayed signals is
// already present.
func (s *Scraper) phoneVisible(ctx context.Context, page browser.Page) bool {
	for _, probe := range s.cfg.PhoneVisible {
		if err := page.WaitVisible(ctx, probe, s.cfg.ProbeTimeout); err == nil {
			return true
		}
	}
	return false
}

// revealPhone clicks reveal controls until a phone becomes visible. Up to
// the first 3 matches of each strategy are tried in order; all strategies
// failing is not an error, the listing just keeps its masked phone.
func (s *Scraper) revealPhone(ctx context.Context, page browser.Page) {
	for _, strategy := range s.cfg.PhoneButtons {
		if err := page.WaitVisible(ctx, strategy, s.cfg.ProbeTimeout); err != nil {
			continue
		}
		n, err := page.Count(ctx, strategy)
		if err != nil || n == 0 {
			continue
		}
		if n > 3 {
			n = 3
		}
		for i := 0; i < n; i++ {
			if err := page.ClickNth(ctx, strategy, i, s.cfg.ClickTimeout); err != nil {
				continue
			}
			if s.phoneVisible(ctx, page) {
				return
			}
		}
	}
}

// extractField returns the first non-empty normalized text among the
// field's strategies.
func (s *Scraper) extractField(
	ctx context.Context,
	page browser.Page,
	field FieldSpec,
) string {
	for _, strategy := range field.Strategies {
		text, err := page.FirstText(ctx, strategy)
		if err != nil {
			continue
		}
		if cleaned := listing.CleanText(text); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

// delay sleeps a random duration inside the configured window.
func (s *Scraper) delay(ctx context.Context) error {
	if s.cfg.DelayMax <= 0 {
		return nil
	}
	d := s.cfg.DelayMin
	if span := s.cfg.DelayMax - s.cfg.DelayMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
