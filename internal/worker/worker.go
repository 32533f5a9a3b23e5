// Package worker implements the Worker (C2): a single browser tab bound to
// one adapter-type, or a tagged "merge" variant bound to several, serializing
// tasks and owning one page's lifecycle. Modeled as a tagged variant per the
// design notes (Single vs. Merge is behavioral, not structural) rather than
// as a class hierarchy. Grounded on the reference's goroutine-per-worker
// polling loop, generalized from a single job-type dispatch table to the
// registry-driven adapter-type resolution described in C1/C8.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/adapter"
	"github.com/ternarybob/chatrelay/internal/failover"
	"github.com/ternarybob/chatrelay/internal/instance"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/registry"
)

// Kind tags a Worker as serving one adapter-type or several.
type Kind string

const (
	KindSingle Kind = "single"
	KindMerge  Kind = "merge"
)

// Config describes one configured Worker.
type Config struct {
	Name        string
	Kind        Kind
	Types       []string          // single: len 1; merge: ordered member types
	MonitorType string            // merge only; "" means no monitor
	AdapterCfg  map[string]interface{} // backend.adapter.<type>.* passed through as workerCfg
	FailoverOn  bool
	MaxRetries  int

	// RateLimiters paces upstream page submissions per adapter-type; shared
	// across every Worker bound to that type, since the constraint is on the
	// upstream site, not on any one Worker. Nil entries mean unlimited.
	RateLimiters map[string]*rate.Limiter
}

// Worker is created from configuration once and lives for the process
// lifetime; its page may be recreated on crash, but its identity does not
// change.
type Worker struct {
	cfg      Config
	registry *registry.Registry
	instance *instance.Instance
	logger   arbor.ILogger

	busy        int32 // atomic; 0 or 1 under the single-task-at-a-time invariant
	initialized int32 // atomic bool
	pageAuth    chan struct{} // cooperative non-reentrant lock; buffered 1, token present == unlocked

	page   adapter.PageHandle
	tabCtx context.Context
}

// New constructs a Worker bound to reg and inst. It does not launch a page;
// call Init for that.
func New(cfg Config, reg *registry.Registry, inst *instance.Instance, logger arbor.ILogger) *Worker {
	w := &Worker{
		cfg:      cfg,
		registry: reg,
		instance: inst,
		logger:   logger,
		pageAuth: make(chan struct{}, 1),
	}
	w.pageAuth <- struct{}{} // starts unlocked
	return w
}

// Name returns the Worker's globally unique configured name.
func (w *Worker) Name() string { return w.cfg.Name }

// Kind returns whether this is a single or merge Worker.
func (w *Worker) Kind() Kind { return w.cfg.Kind }

// BusyCount returns the current busy counter; invariant: 0 <= n <= 1.
func (w *Worker) BusyCount() int { return int(atomic.LoadInt32(&w.busy)) }

// reserve increments the busy counter for the duration of an in-flight task.
// Returns false if the Worker was already busy (callers should not race the
// Pool's own accounting, but this guards the invariant defensively).
func (w *Worker) reserve() bool {
	return atomic.CompareAndSwapInt32(&w.busy, 0, 1)
}

func (w *Worker) release() {
	atomic.StoreInt32(&w.busy, 0)
}

// LockPageAuth acquires the cooperative page-auth mutex, busy-waiting on a
// short poll interval. It blocks navigation handlers from racing the
// foreground task's own input.
func (w *Worker) LockPageAuth(ctx context.Context) error {
	ticker := time.NewTicker(750 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-w.pageAuth:
		return nil
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.pageAuth:
			return nil
		case <-ticker.C:
			select {
			case <-w.pageAuth:
				return nil
			default:
			}
		}
	}
}

// UnlockPageAuth releases the page-auth mutex. Must be called on every exit
// path of the critical section that acquired it.
func (w *Worker) UnlockPageAuth() {
	select {
	case w.pageAuth <- struct{}{}:
	default:
	}
}

// Init ensures the Worker's page exists and is on its entry URL. Idempotent.
func (w *Worker) Init(ctx context.Context, globalCfg map[string]interface{}, globalProxy *instance.Proxy) error {
	if !atomic.CompareAndSwapInt32(&w.initialized, 0, 1) {
		return nil
	}

	tabCtx, err := w.instance.NewTab(ctx, globalProxy)
	if err != nil {
		atomic.StoreInt32(&w.initialized, 0)
		return fmt.Errorf("worker %s: %w", w.cfg.Name, err)
	}
	w.tabCtx = tabCtx
	w.page = instance.NewTabHandle(tabCtx)

	entryURL, err := w.resolveEntryURL(globalCfg)
	if err != nil {
		atomic.StoreInt32(&w.initialized, 0)
		return err
	}

	navCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := w.page.Navigate(navCtx, entryURL); err != nil {
		atomic.StoreInt32(&w.initialized, 0)
		return fmt.Errorf("worker %s: failed to reach entry url %s: %w", w.cfg.Name, entryURL, err)
	}

	w.installNavigationHandlers()

	w.logger.Info().
		Str("worker", w.cfg.Name).
		Str("kind", string(w.cfg.Kind)).
		Str("entry_url", entryURL).
		Msg("worker: initialized")

	return nil
}

// resolveEntryURL returns the target URL of the first configured member type
// the registry can resolve. Init navigates to that one URL with a 30s budget;
// if that navigation fails, Init fails and later member types are not tried.
func (w *Worker) resolveEntryURL(globalCfg map[string]interface{}) (string, error) {
	var lastErr error
	for _, t := range w.cfg.Types {
		url, err := w.registry.TargetURL(t, globalCfg, w.cfg.AdapterCfg)
		if err != nil {
			lastErr = err
			continue
		}
		return url, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("worker %s: no configured adapter types", w.cfg.Name)
	}
	return "", lastErr
}

// installNavigationHandlers composes every member adapter's navigation hooks
// into a single page listener, satisfying "every handler registered by any
// member adapter fires on any navigation."
func (w *Worker) installNavigationHandlers() {
	var handlers []adapter.NavigationHandler
	for _, t := range w.cfg.Types {
		handlers = append(handlers, w.registry.NavigationHandlers(t)...)
	}
	if len(handlers) == 0 {
		return
	}
	w.page.OnNavigated(func(url string) {
		for _, h := range handlers {
			h(w.tabCtx, w.page)
		}
	})
}

// Supports reports whether this Worker can serve modelKey. Single workers
// defer to the registry for their one type; merge workers return true if any
// member supports it.
func (w *Worker) Supports(modelKey string) bool {
	for _, t := range w.cfg.Types {
		if w.registry.SupportsModel(t, modelKey) {
			return true
		}
	}
	return false
}

// ImagePolicy computes the effective image policy across member types: if
// any supporting member is optional, the Worker is optional (the scheduler
// may pick the more permissive member); else required if any member
// requires; else forbidden.
func (w *Worker) ImagePolicy(modelKey string) models.ImagePolicy {
	sawRequired := false
	for _, t := range w.cfg.Types {
		if !w.registry.SupportsModel(t, modelKey) {
			continue
		}
		switch w.registry.ImagePolicy(t, modelKey) {
		case models.ImagePolicyOptional:
			return models.ImagePolicyOptional
		case models.ImagePolicyRequired:
			sawRequired = true
		}
	}
	if sawRequired {
		return models.ImagePolicyRequired
	}
	return models.ImagePolicyForbidden
}

// ModelType returns the modality of the first member type that supports
// modelKey.
func (w *Worker) ModelType(modelKey string) models.Modality {
	for _, t := range w.cfg.Types {
		if w.registry.SupportsModel(t, modelKey) {
			return w.registry.ModelType(t, modelKey)
		}
	}
	return models.ModalityText
}

// candidateTypes returns the ordered member adapter-types that support
// modelKey, honoring a type/id qualifier if present.
func (w *Worker) candidateTypes(modelKey string) []string {
	var out []string
	for _, t := range w.cfg.Types {
		if w.registry.SupportsModel(t, modelKey) {
			out = append(out, t)
		}
	}
	return out
}

// Generate selects the adapter-type for modelKey and invokes the Adapter
// Contract. For merge workers with failover enabled it builds an ordered
// candidate list of member types and delegates to the Failover Executor.
func (w *Worker) Generate(ctx context.Context, prompt string, imagePaths []string, modelKey string, meta map[string]string) (models.GenerateResult, error) {
	candidates := w.candidateTypes(modelKey)
	if len(candidates) == 0 {
		return models.GenerateResult{}, fmt.Errorf("INVALID_MODEL: worker %s has no member supporting %q", w.cfg.Name, modelKey)
	}

	attempt := func(ctx context.Context, adapterType string) (models.GenerateResult, error) {
		a := w.registry.Adapter(adapterType)
		if a == nil {
			return models.GenerateResult{}, fmt.Errorf("INTERNAL_ERROR: adapter %q not registered", adapterType)
		}
		if lim := w.cfg.RateLimiters[adapterType]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return models.GenerateResult{}, fmt.Errorf("INTERNAL_ERROR: rate limiter wait: %w", err)
			}
		}
		sub := adapter.SubContext{
			Page:        w.page,
			Config:      w.cfg.AdapterCfg,
			UserDataDir: w.instance.UserDataDir(),
		}
		return a.Generate(ctx, sub, adapter.GenerateRequest{
			Prompt:     prompt,
			ImagePaths: imagePaths,
			ModelKey:   modelKey,
			Meta:       meta,
		})
	}

	if w.cfg.Kind == KindSingle || !w.cfg.FailoverOn || len(candidates) == 1 {
		return attempt(ctx, candidates[0])
	}

	return failover.Run(ctx, candidates, w.cfg.MaxRetries, w.logger, func(ctx context.Context, candidate string) (models.GenerateResult, error) {
		return attempt(ctx, candidate)
	})
}

// NavigateToMonitor is only meaningful for merge workers with a configured
// monitor; it parks the page on the monitor adapter's target URL when idle.
func (w *Worker) NavigateToMonitor(ctx context.Context, globalCfg map[string]interface{}) error {
	if w.cfg.Kind != KindMerge || w.cfg.MonitorType == "" {
		return nil
	}
	if w.BusyCount() > 0 {
		return nil
	}
	target, err := w.registry.TargetURL(w.cfg.MonitorType, globalCfg, w.cfg.AdapterCfg)
	if err != nil {
		return err
	}
	current, err := w.page.URL()
	if err == nil && sameHost(current, target) {
		return nil
	}
	return w.page.Navigate(ctx, target)
}

// GetCookies returns the Worker's page cookies, optionally filtered by
// domain.
func (w *Worker) GetCookies(domain string) ([]instance.Cookie, error) {
	if w.tabCtx == nil {
		return nil, fmt.Errorf("BROWSER_NOT_INITIALIZED: worker %s has no page", w.cfg.Name)
	}
	return instance.GetCookies(w.tabCtx, domain)
}

// Reserve and Release expose the busy-counter protocol to the Pool, which is
// the sole authority on when a Worker is dispatched a task.
func (w *Worker) Reserve() bool { return w.reserve() }
func (w *Worker) Release()      { w.release() }
