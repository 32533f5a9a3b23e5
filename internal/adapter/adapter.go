// Package adapter defines the narrow protocol every browser-driven backend
// satisfies (navigate, submit, await, extract) plus the navigation hook
// chain that lets an adapter react to page events outside the main task.
package adapter

import (
	"context"

	"github.com/ternarybob/chatrelay/internal/models"
)

// SubContext is the read-only view of Worker/Instance state an Adapter's
// Generate is allowed to observe. The adapter must not mutate Page outside
// of its own task's critical section.
type SubContext struct {
	Page        PageHandle
	Config      map[string]interface{} // backend.adapter.<type>.* settings
	ProxyConfig *ProxyConfig
	UserDataDir string
}

// ProxyConfig is the resolved proxy a Worker's Instance is bound to.
type ProxyConfig struct {
	Enabled bool
	Type    string // "http" | "socks5"
	Host    string
	Port    int
	User    string
	Passwd  string
}

// PageHandle is the minimal page-driving surface an adapter needs. It is
// implemented by the instance package over a chromedp browser context, kept
// as an interface here so adapters never import chromedp directly.
type PageHandle interface {
	// Context is the chromedp-compatible context bound to this page's tab.
	Context() context.Context
	// URL returns the page's current URL.
	URL() (string, error)
	// Navigate loads url into the page.
	Navigate(ctx context.Context, url string) error
	// OnNavigated registers a callback invoked after every navigation event.
	OnNavigated(fn func(url string))
}

// NavigationHandler reacts to a page navigation event. Handlers that need to
// perform input must acquire the page-auth flag first (see LockPageAuth on
// the owning Worker) so they do not race the in-flight task.
type NavigationHandler func(ctx context.Context, page PageHandle)

// GenerateRequest bundles the arguments passed to Adapter.Generate.
type GenerateRequest struct {
	Prompt     string
	ImagePaths []string
	ModelKey   string
	Meta       map[string]string
}

// Adapter is the contract every backend driver implements. It is addressed
// by a string type-tag read from configuration; the set of adapters is
// fixed at startup (no dynamic plug-in loading).
type Adapter interface {
	// Type returns this adapter's stable type-tag, e.g. "chatgpt", "midjourney".
	Type() string
	// DisplayName returns a human-readable name for logs and /v1/models.
	DisplayName() string
	// TargetURL computes the entry URL from global + worker configuration.
	TargetURL(globalCfg, workerCfg map[string]interface{}) string
	// NavigationHandlers returns this adapter's ordered navigation hooks.
	NavigationHandlers() []NavigationHandler
	// Models lists the model descriptors this adapter serves.
	Models() []models.ModelDescriptor
	// Generate drives the page to produce a response for req.
	Generate(ctx context.Context, sub SubContext, req GenerateRequest) (models.GenerateResult, error)
}
