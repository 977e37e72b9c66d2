// Package browser manages the pool of isolated automation sessions the crawl
// pipeline runs on, including proxy binding and on-demand rotation.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Session is one isolated browser, optionally bound to a proxy. The handle
// stays valid across rotations; only the underlying browser is swapped.
type Session interface {
	Name() string
	ProxyLabel() string
	// NewPage opens a fresh navigation context on the session's current
	// browser. Pages opened before a rotation keep running on the old
	// browser and see their navigations fail.
	NewPage(ctx context.Context) (Page, error)
}

// Pool owns a fixed set of sessions and a reserve ring of spare proxies.
type Pool interface {
	Sessions() []Session
	// Rotate swaps s onto the next reserve proxy and returns the old proxy
	// to the back of the ring.
	Rotate(ctx context.Context, s Session) error
}

// Config controls pool sizing and browser launch behavior.
type Config struct {
	MaxSessions int
	Headless    bool
	UserAgent   string
	Proxies     []string
}

// launchedBrowser bundles the contexts a live browser needs torn down.
type launchedBrowser struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type launchFunc func(ctx context.Context, proxy *ProxyDescriptor) (*launchedBrowser, error)

// SessionPool implements Pool using chromedp-driven Chrome instances.
type SessionPool struct {
	cfg    Config
	logger *zap.Logger
	launch launchFunc

	mu       sync.Mutex
	sessions []*chromeSession
	reserve  []*ProxyDescriptor // nil entry = direct connection
	started  bool
	closed   bool
}

type chromeSession struct {
	name  string
	pool  *SessionPool
	mu    sync.Mutex
	proxy *ProxyDescriptor
	live  *launchedBrowser
}

// NewSessionPool builds an unstarted pool.
func NewSessionPool(cfg Config, logger *zap.Logger) *SessionPool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	p := &SessionPool{cfg: cfg, logger: logger}
	p.launch = p.launchChrome
	return p
}

// Start parses the proxy list and launches all sessions. Invalid proxy
// entries fail here, before any crawling begins.
func (p *SessionPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	descriptors, err := ParseProxyList(p.cfg.Proxies)
	if err != nil {
		return fmt.Errorf("build proxy list: %w", err)
	}
	entries := make([]*ProxyDescriptor, 0, len(descriptors))
	entries = append(entries, descriptors...)
	if len(entries) == 0 {
		entries = append(entries, nil)
	}
	for len(entries) < p.cfg.MaxSessions {
		entries = append(entries, nil)
	}

	active := entries[:p.cfg.MaxSessions]
	p.reserve = append([]*ProxyDescriptor(nil), entries[p.cfg.MaxSessions:]...)
	if len(p.reserve) == 0 {
		p.reserve = append(p.reserve, nil)
	}

	for i, proxy := range active {
		live, err := p.launch(ctx, proxy)
		if err != nil {
			p.closeAllLocked()
			return fmt.Errorf("launch session %d: %w", i, err)
		}
		session := &chromeSession{
			name:  fmt.Sprintf("session-%d", i),
			pool:  p,
			proxy: proxy,
			live:  live,
		}
		p.sessions = append(p.sessions, session)
		p.logger.Info("session launched",
			zap.String("session", session.name),
			zap.String("proxy", proxy.Label()),
		)
	}

	p.started = true
	p.logger.Info("session pool ready", zap.Int("sessions", len(p.sessions)))
	return nil
}

// Sessions returns the live handles. The slice is a copy; the handles are
// shared.
func (p *SessionPool) Sessions() []Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Session, len(p.sessions))
	for i, s := range p.sessions {
		out[i] = s
	}
	return out
}

// Rotate swaps the session's browser onto the next reserve-ring proxy. The
// old proxy goes to the back of the ring. Rotating an already-direct session
// when only the direct sentinel remains is a no-op.
func (p *SessionPool) Rotate(ctx context.Context, s Session) error {
	session, ok := s.(*chromeSession)
	if !ok || session.pool != p {
		return fmt.Errorf("session %q does not belong to this pool", s.Name())
	}

	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pool is not running")
	}
	next := p.reserve[0]
	oldProxy := session.currentProxy()
	p.mu.Unlock()

	if next == nil && oldProxy == nil {
		p.logger.Warn("no spare proxies; session stays on direct connection",
			zap.String("session", session.name))
		return nil
	}

	// The ring is mutated only once the replacement is live. A failed
	// launch leaves both the ring and the session untouched.
	live, err := p.launch(ctx, next)
	if err != nil {
		return fmt.Errorf("rotate %s: launch replacement browser: %w", session.name, err)
	}

	p.mu.Lock()
	// Concurrent rotations may have taken the head already; sharing the
	// proxy then is fine, losing a descriptor is not.
	if len(p.reserve) > 0 && p.reserve[0] == next {
		p.reserve = p.reserve[1:]
	}
	if oldProxy != nil {
		p.reserve = append(p.reserve, oldProxy)
	}
	if len(p.reserve) == 0 {
		p.reserve = append(p.reserve, nil)
	}
	p.mu.Unlock()

	session.swap(next, live)
	p.logger.Info("session rotated",
		zap.String("session", session.name),
		zap.String("old_proxy", oldProxy.Label()),
		zap.String("new_proxy", next.Label()),
	)
	return nil
}

// Shutdown closes every live browser. Safe to call more than once.
func (p *SessionPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closeAllLocked()
	p.closed = true
	p.logger.Debug("session pool shut down")
}

func (p *SessionPool) closeAllLocked() {
	for _, s := range p.sessions {
		s.close()
	}
	p.sessions = nil
}

func (s *chromeSession) Name() string { return s.name }

func (s *chromeSession) ProxyLabel() string {
	return s.currentProxy().Label()
}

func (s *chromeSession) NewPage(_ context.Context) (Page, error) {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if live == nil {
		return nil, fmt.Errorf("session %s is closed", s.name)
	}
	return newChromePage(live.ctx), nil
}

func (s *chromeSession) currentProxy() *ProxyDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxy
}

// swap installs a replacement browser and closes the old one. In-flight pages
// keep referencing the old browser context and fail from here on.
func (s *chromeSession) swap(proxy *ProxyDescriptor, live *launchedBrowser) {
	s.mu.Lock()
	old := s.live
	s.live = live
	s.proxy = proxy
	s.mu.Unlock()
	if old != nil {
		old.cancel()
	}
}

func (s *chromeSession) close() {
	s.mu.Lock()
	old := s.live
	s.live = nil
	s.mu.Unlock()
	if old != nil {
		old.cancel()
	}
}

// launchChrome starts a headless Chrome bound to the given proxy. Proxy
// credentials are answered through the CDP fetch domain, since Chrome itself
// has no flag for authenticated proxies.
func (p *SessionPool) launchChrome(ctx context.Context, proxy *ProxyDescriptor) (*launchedBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}
	if proxy != nil {
		opts = append(opts, chromedp.ProxyServer(proxy.Server))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	warmupCtx, warmupCancel := context.WithTimeout(browserCtx, 30*time.Second)
	stop := forwardCancel(ctx, warmupCancel)
	err := chromedp.Run(warmupCtx)
	stop()
	warmupCancel()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chrome warmup: %w", err)
	}

	if proxy != nil && proxy.Username != "" {
		if err := chromedp.Run(browserCtx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
			cancel()
			return nil, fmt.Errorf("enable auth interception: %w", err)
		}
		chromedp.ListenTarget(browserCtx, func(ev any) {
			switch e := ev.(type) {
			case *fetch.EventAuthRequired:
				go func() {
					_ = chromedp.Run(browserCtx, fetch.ContinueWithAuth(e.RequestID,
						&fetch.AuthChallengeResponse{
							Response: fetch.AuthChallengeResponseResponseProvideCredentials,
							Username: proxy.Username,
							Password: proxy.Password,
						}))
				}()
			case *fetch.EventRequestPaused:
				go func() {
					_ = chromedp.Run(browserCtx, fetch.ContinueRequest(e.RequestID))
				}()
			}
		})
	}

	return &launchedBrowser{ctx: browserCtx, cancel: cancel}, nil
}
