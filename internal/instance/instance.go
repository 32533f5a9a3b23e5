// Package instance implements the Instance (C3): a browser process that
// hosts one or more Workers as isolated tabs, owning cookies/storage and a
// proxy binding. Grounded on the reference's ChromeDP browser-pool pattern,
// generalized from round-robin tab allocation to "one Instance, N borrowed
// tabs lazily created on first use".
package instance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Proxy is the resolved proxy an Instance's browser should use, or the zero
// value for a direct connection.
type Proxy struct {
	Enabled bool
	Type    string // "http" | "socks5"
	Host    string
	Port    int
	User    string
	Passwd  string
}

// Config describes one configured Instance.
type Config struct {
	Name          string
	UserDataDir   string
	Proxy         *Proxy // nil means "inherit global"
	ProxyDisabled bool   // explicit instance-level disable, overrides global
}

// Instance is a lazily-launched browser process shared by every Worker
// configured under it. Two Workers in different Instances never share
// cookies or local storage; Workers in the same Instance do, because they
// share the one browser.
type Instance struct {
	cfg    Config
	logger arbor.ILogger

	mu              sync.Mutex
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	launched        bool
	tabCount        int
}

// New creates an Instance description. The browser process itself is not
// started until NewTab is first called.
func New(cfg Config, logger arbor.ILogger) *Instance {
	return &Instance{cfg: cfg, logger: logger}
}

// Name returns the Instance's configured name.
func (inst *Instance) Name() string { return inst.cfg.Name }

// UserDataDir returns the Instance's exclusive user-data directory path.
func (inst *Instance) UserDataDir() string { return inst.cfg.UserDataDir }

// ResolvedProxy resolves this Instance's effective proxy: an enabled
// instance-level proxy wins, an explicit instance-level disable forces
// direct, and an absent instance-level block falls back to globalProxy.
func (inst *Instance) ResolvedProxy(globalProxy *Proxy) *Proxy {
	if inst.cfg.ProxyDisabled {
		return nil
	}
	if inst.cfg.Proxy != nil && inst.cfg.Proxy.Enabled {
		return inst.cfg.Proxy
	}
	if inst.cfg.Proxy != nil {
		return nil
	}
	return globalProxy
}

// ensureBrowser lazily launches the browser process on first use. Safe to
// call repeatedly; only the first caller pays the launch cost.
func (inst *Instance) ensureBrowser(ctx context.Context, globalProxy *Proxy) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.launched {
		return nil
	}

	proxy := inst.ResolvedProxy(globalProxy)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(inst.cfg.UserDataDir),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if proxy != nil {
		scheme := proxy.Type
		if scheme == "" {
			scheme = "http"
		}
		server := fmt.Sprintf("%s://%s:%d", scheme, proxy.Host, proxy.Port)
		opts = append(opts, chromedp.ProxyServer(server))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	startCtx, startCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("instance %s: failed to launch browser: %w", inst.cfg.Name, err)
	}

	inst.allocatorCtx = allocatorCtx
	inst.allocatorCancel = allocatorCancel
	inst.browserCtx = browserCtx
	inst.browserCancel = browserCancel
	inst.launched = true

	inst.logger.Info().
		Str("instance", inst.cfg.Name).
		Str("user_data_dir", inst.cfg.UserDataDir).
		Bool("proxied", proxy != nil).
		Msg("instance: browser launched")

	return nil
}

// NewTab launches the Instance's browser on first call and returns a fresh
// tab context every time thereafter; the tab lives for the lifetime of the
// Worker that owns it and is only released when the Instance shuts down.
func (inst *Instance) NewTab(ctx context.Context, globalProxy *Proxy) (context.Context, error) {
	if err := inst.ensureBrowser(ctx, globalProxy); err != nil {
		return nil, err
	}

	inst.mu.Lock()
	browserCtx := inst.browserCtx
	inst.tabCount++
	tabIndex := inst.tabCount
	inst.mu.Unlock()

	tabCtx, _ := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		return nil, fmt.Errorf("instance %s: failed to open tab %d: %w", inst.cfg.Name, tabIndex, err)
	}

	inst.logger.Debug().
		Str("instance", inst.cfg.Name).
		Int("tab_index", tabIndex).
		Msg("instance: tab opened")

	return tabCtx, nil
}

// Shutdown closes the Instance's browser process and every tab within it.
// Must only be called once, as part of overall process shutdown.
func (inst *Instance) Shutdown() {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if !inst.launched {
		return
	}

	if inst.browserCancel != nil {
		inst.browserCancel()
	}
	if inst.allocatorCancel != nil {
		inst.allocatorCancel()
	}
	inst.launched = false

	inst.logger.Info().Str("instance", inst.cfg.Name).Msg("instance: browser shut down")
}
