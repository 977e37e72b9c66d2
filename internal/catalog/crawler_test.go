package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/browser"
)

// fakeSite models the pages a fake session serves. Navigating to a URL with
// no entry lands on an empty page (no listing links), which is how real
// catalogs behave past the last page.
type fakeSite struct {
	mu        sync.Mutex
	links     map[string][]string // URL -> listing links
	redirects map[string]string   // URL -> URL the navigation lands on
	navErr    map[string]error    // URL -> error for next navigation
}

func (s *fakeSite) clearNavErr(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.navErr, url)
}

type fakePage struct {
	site    *fakeSite
	current string
	closed  bool
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) (string, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	if err := p.site.navErr[url]; err != nil {
		return "", err
	}
	landed := url
	if target, ok := p.site.redirects[url]; ok {
		landed = target
	}
	p.current = landed
	return landed, nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) { return p.current, nil }

func (p *fakePage) WaitVisible(context.Context, browser.Selector, time.Duration) error {
	return fmt.Errorf("probe never visible")
}

func (p *fakePage) Links(context.Context, browser.Selector) ([]string, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.links[p.current], nil
}

func (p *fakePage) Count(ctx context.Context, sel browser.Selector) (int, error) {
	links, _ := p.Links(ctx, sel)
	return len(links), nil
}

func (p *fakePage) FirstText(context.Context, browser.Selector) (string, error) { return "", nil }

func (p *fakePage) ClickNth(context.Context, browser.Selector, int, time.Duration) error {
	return nil
}

func (p *fakePage) Close() { p.closed = true }

type fakeSession struct {
	name string
	site *fakeSite
}

func (s *fakeSession) Name() string       { return s.name }
func (s *fakeSession) ProxyLabel() string { return "direct" }
func (s *fakeSession) NewPage(context.Context) (browser.Page, error) {
	return &fakePage{site: s.site}, nil
}

type fakePool struct {
	sessions []browser.Session
	mu       sync.Mutex
	rotated  int
	onRotate func()
}

func (p *fakePool) Sessions() []browser.Session { return p.sessions }

func (p *fakePool) Rotate(context.Context, browser.Session) error {
	p.mu.Lock()
	p.rotated++
	fn := p.onRotate
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func testConfig() Config {
	return Config{
		LinkStrategies: []browser.Selector{"//a[@data-car-id]"},
		ReadyProbes:    []browser.Selector{"#items"},
		PageTimeout:    time.Second,
		ProbeTimeout:   10 * time.Millisecond,
		RetryAttempts:  2,
	}
}

func TestCrawlWalksPaginationAndMerges(t *testing.T) {
	t.Parallel()

	site := &fakeSite{links: map[string][]string{
		"https://x.test/search?category_id=1": {
			"https://x.test/car/1", "https://x.test/car/2", "https://x.test/car/3",
		},
		"https://x.test/search?category_id=1&page=1": {
			"https://x.test/car/4", "https://x.test/car/5",
		},
	}}
	pool := &fakePool{sessions: []browser.Session{&fakeSession{name: "s0", site: site}}}

	crawler := New(pool, testConfig(), zap.NewNop())
	got, err := crawler.Crawl(context.Background(), []string{"https://x.test/search?category_id=1"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://x.test/car/1",
		"https://x.test/car/2",
		"https://x.test/car/3",
		"https://x.test/car/4",
		"https://x.test/car/5",
	}, got)
}

func TestCrawlStopsAtDeclaredPageCount(t *testing.T) {
	t.Parallel()

	// pages_count=3 and zero-based indexes: page=2 is the last one. Pages
	// beyond it exist in the fake to prove they are never fetched.
	site := &fakeSite{links: map[string][]string{
		"https://x.test/s?pages_count=3":        {"https://x.test/car/1"},
		"https://x.test/s?page=1&pages_count=3": {"https://x.test/car/2"},
		"https://x.test/s?page=2&pages_count=3": {"https://x.test/car/3"},
		"https://x.test/s?page=3&pages_count=3": {"https://x.test/car/999"},
		"https://x.test/s?page=4&pages_count=3": {"https://x.test/car/998"},
		"https://x.test/s?page=5&pages_count=3": {"https://x.test/car/997"},
	}}
	pool := &fakePool{sessions: []browser.Session{&fakeSession{name: "s0", site: site}}}

	crawler := New(pool, testConfig(), zap.NewNop())
	got, err := crawler.Crawl(context.Background(), []string{"https://x.test/s?pages_count=3"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://x.test/car/1",
		"https://x.test/car/2",
		"https://x.test/car/3",
	}, got)
}

func TestCrawlCycleGuard(t *testing.T) {
	t.Parallel()

	// Page 1 "redirects" back to the first page; the crawler must notice
	// the canonical URL repeating and stop instead of looping.
	site := &fakeSite{
		links: map[string][]string{
			"https://x.test/s": {"https://x.test/car/1"},
		},
		redirects: map[string]string{
			"https://x.test/s?page=1": "https://x.test/s",
		},
	}
	pool := &fakePool{sessions: []browser.Session{&fakeSession{name: "s0", site: site}}}

	crawler := New(pool, testConfig(), zap.NewNop())
	got, err := crawler.Crawl(context.Background(), []string{"https://x.test/s"})
	require.NoError(t, err)
	require.Equal(t, []string{"https://x.test/car/1"}, got)
}

func TestCrawlRotatesOnDenied(t *testing.T) {
	t.Parallel()

	catalogURL := "https://x.test/s"
	site := &fakeSite{
		links: map[string][]string{
			catalogURL: {"https://x.test/car/1"},
		},
		navErr: map[string]error{
			catalogURL: &browser.DeniedError{URL: catalogURL, Cause: fmt.Errorf("ERR_TUNNEL_CONNECTION_FAILED")},
		},
	}
	pool := &fakePool{sessions: []browser.Session{&fakeSession{name: "s0", site: site}}}
	pool.onRotate = func() { site.clearNavErr(catalogURL) }

	crawler := New(pool, testConfig(), zap.NewNop())
	got, err := crawler.Crawl(context.Background(), []string{catalogURL})
	require.NoError(t, err)
	require.Equal(t, []string{"https://x.test/car/1"}, got)
	require.Equal(t, 1, pool.rotated)
}

func TestCrawlAbandonsAfterRetryCap(t *testing.T) {
	t.Parallel()

	site := &fakeSite{
		links: map[string][]string{
			"https://x.test/good": {"https://x.test/car/1"},
		},
		navErr: map[string]error{
			"https://x.test/bad": fmt.Errorf("net::ERR_NAME_NOT_RESOLVED"),
		},
	}
	pool := &fakePool{sessions: []browser.Session{&fakeSession{name: "s0", site: site}}}

	crawler := New(pool, testConfig(), zap.NewNop())
	got, err := crawler.Crawl(context.Background(), []string{
		"https://x.test/bad",
		"https://x.test/good",
	})
	require.NoError(t, err)
	// The bad catalog is abandoned; the good one still produces results.
	require.Equal(t, []string{"https://x.test/car/1"}, got)
}

func TestCrawlNoSessions(t *testing.T) {
	t.Parallel()

	crawler := New(&fakePool{}, testConfig(), zap.NewNop())
	_, err := crawler.Crawl(context.Background(), []string{"https://x.test/s"})
	require.Error(t, err)
}
