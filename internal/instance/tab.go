package instance

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Tab adapts a chromedp tab context to the adapter.PageHandle interface, so
// adapters never need to import chromedp directly.
type Tab struct {
	ctx context.Context

	mu       sync.Mutex
	handlers []func(url string)
}

// NewTabHandle wraps an already-open chromedp tab context.
func NewTabHandle(ctx context.Context) *Tab {
	t := &Tab{ctx: ctx}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventFrameNavigated); ok {
			go t.fireHandlers()
		}
	})
	return t
}

func (t *Tab) fireHandlers() {
	url, err := t.URL()
	if err != nil {
		return
	}
	t.mu.Lock()
	handlers := append([]func(string){}, t.handlers...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(url)
	}
}

// Context returns the chromedp-compatible context bound to this tab.
func (t *Tab) Context() context.Context { return t.ctx }

// URL returns the tab's current URL.
func (t *Tab) URL() (string, error) {
	var url string
	if err := chromedp.Run(t.ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Navigate loads url into the tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx, chromedp.Navigate(url))
}

// OnNavigated registers fn to be invoked after every navigation event.
func (t *Tab) OnNavigated(fn func(url string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, fn)
}
