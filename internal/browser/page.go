package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Selector identifies elements by CSS or XPath. Expressions starting with
// "//", "(" or the explicit "xpath=" prefix are treated as XPath; everything
// else as CSS.
type Selector string

// Page is one isolated navigation context inside a session. Implementations
// must be safe for sequential use by a single worker; they are not shared.
type Page interface {
	// Navigate loads url and returns the URL the page ended up on.
	Navigate(ctx context.Context, url string, timeout time.Duration) (string, error)
	// CurrentURL returns the page's present location.
	CurrentURL(ctx context.Context) (string, error)
	// WaitVisible blocks until sel has a visible match or the timeout expires.
	WaitVisible(ctx context.Context, sel Selector, timeout time.Duration) error
	// Links resolves the href attribute of every match against the current URL.
	Links(ctx context.Context, sel Selector) ([]string, error)
	// Count returns the number of matches without waiting.
	Count(ctx context.Context, sel Selector) (int, error)
	// FirstText returns the normalized text of the first match, or "" when
	// there is none.
	FirstText(ctx context.Context, sel Selector) (string, error)
	// ClickNth clicks the n-th match (zero-based).
	ClickNth(ctx context.Context, sel Selector, n int, timeout time.Duration) error
	// Close releases the navigation context.
	Close()
}

// chromePage implements Page on top of a chromedp tab context.
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newChromePage(browserCtx context.Context) *chromePage {
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	return &chromePage{ctx: tabCtx, cancel: cancel}
}

func (p *chromePage) Navigate(ctx context.Context, target string, timeout time.Duration) (string, error) {
	runCtx, cancel := p.opCtx(ctx, timeout)
	defer cancel()

	var current string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.Location(&current),
	)
	if err != nil {
		return "", classifyNavError(target, err)
	}
	return current, nil
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := p.opCtx(ctx, 5*time.Second)
	defer cancel()

	var current string
	if err := chromedp.Run(runCtx, chromedp.Location(&current)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return current, nil
}

func (p *chromePage) WaitVisible(ctx context.Context, sel Selector, timeout time.Duration) error {
	runCtx, cancel := p.opCtx(ctx, timeout)
	defer cancel()

	expr, opt := splitSelector(sel)
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(expr, opt)); err != nil {
		return fmt.Errorf("wait for %q: %w", expr, err)
	}
	return nil
}

func (p *chromePage) Links(ctx context.Context, sel Selector) ([]string, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return nil, err
	}
	base, err := p.CurrentURL(ctx)
	if err != nil {
		base = ""
	}

	links := make([]string, 0, len(nodes))
	for _, node := range nodes {
		href := strings.TrimSpace(node.AttributeValue("href"))
		if href == "" {
			continue
		}
		links = append(links, resolveHref(base, href))
	}
	return links, nil
}

func (p *chromePage) Count(ctx context.Context, sel Selector) (int, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (p *chromePage) FirstText(ctx context.Context, sel Selector) (string, error) {
	runCtx, cancel := p.opCtx(ctx, 5*time.Second)
	defer cancel()

	expr, opt := splitSelector(sel)
	var text string
	err := chromedp.Run(runCtx, chromedp.Text(expr, &text, opt, chromedp.AtLeast(0)))
	if err != nil {
		return "", fmt.Errorf("read text of %q: %w", expr, err)
	}
	return text, nil
}

func (p *chromePage) ClickNth(ctx context.Context, sel Selector, n int, timeout time.Duration) error {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return err
	}
	if n >= len(nodes) {
		return fmt.Errorf("selector %q has %d match(es), wanted index %d", sel, len(nodes), n)
	}

	runCtx, cancel := p.opCtx(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.MouseClickNode(nodes[n])); err != nil {
		return fmt.Errorf("click %q[%d]: %w", sel, n, err)
	}
	return nil
}

func (p *chromePage) Close() {
	p.cancel()
}

func (p *chromePage) nodes(ctx context.Context, sel Selector) ([]*cdp.Node, error) {
	runCtx, cancel := p.opCtx(ctx, 5*time.Second)
	defer cancel()

	expr, opt := splitSelector(sel)
	var nodes []*cdp.Node
	err := chromedp.Run(runCtx, chromedp.Nodes(expr, &nodes, opt, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", expr, err)
	}
	return nodes, nil
}

// opCtx derives a chromedp-runnable context with a per-operation deadline.
// The tab context carries the chromedp target; the caller's context only
// contributes cancellation.
func (p *chromePage) opCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func splitSelector(sel Selector) (string, chromedp.QueryOption) {
	expr := strings.TrimSpace(string(sel))
	if cut, ok := strings.CutPrefix(expr, "xpath="); ok {
		return cut, chromedp.BySearch
	}
	if strings.HasPrefix(expr, "//") || strings.HasPrefix(expr, "(") {
		return expr, chromedp.BySearch
	}
	return expr, chromedp.ByQueryAll
}

func resolveHref(base, href string) string {
	if base == "" {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
