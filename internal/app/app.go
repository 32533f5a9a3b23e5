// -----------------------------------------------------------------------
// Package app wires every component of the chat-completions gateway:
// Adapter Registry -> Instances -> Workers -> Pool -> Admitter ->
// CookieStore -> HTTP server, in the startup order the concurrency model
// requires: preflight checks, then registry, then Instances in
// configuration order, then Workers initialized sequentially (so a shared
// Instance's browser is only ever launched once), then the listening port.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatrelay/internal/adapter"
	"github.com/ternarybob/chatrelay/internal/admission"
	"github.com/ternarybob/chatrelay/internal/common"
	"github.com/ternarybob/chatrelay/internal/cookiestore"
	"github.com/ternarybob/chatrelay/internal/instance"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/pool"
	"github.com/ternarybob/chatrelay/internal/registry"
	"github.com/ternarybob/chatrelay/internal/worker"
)

// App holds every wired component for the process lifetime.
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	AuthToken string

	Registry    *registry.Registry
	Instances   []*instance.Instance
	Pool        *pool.Pool
	Admitter    *admission.Admitter
	CookieStore *cookiestore.Store

	globalProxy    *instance.Proxy
	admissionCtx   context.Context
	cancelAdmitter context.CancelFunc

	monitorCron *cron.Cron
}

// New builds and wires the application from cfg. It does not start the HTTP
// listener; the caller does that once New returns successfully.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		AuthToken: common.ResolveAuthToken(cfg),
	}

	if cfg.Browser.Proxy.Enable {
		a.globalProxy = &instance.Proxy{
			Enabled: true,
			Type:    cfg.Browser.Proxy.Type,
			Host:    cfg.Browser.Proxy.Host,
			Port:    cfg.Browser.Proxy.Port,
			User:    cfg.Browser.Proxy.User,
			Passwd:  cfg.Browser.Proxy.Passwd,
		}
	}

	reg, err := buildRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("app: failed to build adapter registry: %w", err)
	}
	a.Registry = reg

	a.monitorCron = cron.New()
	rateLimiters := buildRateLimiters(cfg)

	workers, instances, err := a.buildInstancesAndWorkers(cfg, reg, rateLimiters)
	if err != nil {
		return nil, err
	}
	a.Instances = instances

	a.monitorCron.Start()

	a.Pool = pool.New(pool.Config{
		Strategy:      pool.Strategy(cfg.Backend.Pool.Strategy),
		FailoverOn:    cfg.Backend.Pool.Failover.Enabled,
		FailoverRetry: cfg.Backend.Pool.Failover.MaxRetries,
	}, workers, logger)

	tempDir := filepath.Join(cfg.Browser.DataDir, "temp")
	a.Admitter = admission.New(admission.Config{
		ImageLimit:         cfg.Queue.ImageLimit,
		QueueBuffer:        cfg.Queue.QueueBuffer,
		TempDir:            tempDir,
		RateLimitPerSecond: cfg.Queue.RateLimitPerSecond,
		RateLimitBurst:     cfg.Queue.RateLimitBurst,
	}, a.Pool, logger)

	store, err := cookiestore.Open(filepath.Join(cfg.Browser.DataDir, "cookies"), logger)
	if err != nil {
		return nil, fmt.Errorf("app: failed to open cookie store: %w", err)
	}
	a.CookieStore = store

	a.admissionCtx, a.cancelAdmitter = context.WithCancel(context.Background())
	common.SafeGoWithContext(a.admissionCtx, logger, "admission-dispatch", func() {
		a.Admitter.Run(a.admissionCtx)
	})

	logger.Info().
		Int("adapters", len(reg.Types())).
		Int("instances", len(instances)).
		Int("workers", len(workers)).
		Msg("app: initialization complete")

	return a, nil
}

// buildRegistry declares the fixed set of adapters available to this
// process. New adapter types require a source change, per the design's
// "no dynamic plugin loading" decision.
func buildRegistry(logger arbor.ILogger) (*registry.Registry, error) {
	webchat := adapter.NewWebChat([]models.ModelDescriptor{
		{ID: "m-text", UpstreamID: "gpt-chat", Modality: models.ModalityText, ImagePolicy: models.ImagePolicyForbidden, AdapterType: "webchat"},
	}, logger, "Web Chat")

	webart := adapter.NewWebArt([]models.ModelDescriptor{
		{ID: "m-img", UpstreamID: "diffusion-v1", Modality: models.ModalityImage, ImagePolicy: models.ImagePolicyOptional, AdapterType: "webart"},
	}, logger, "Web Art")

	return registry.New(webchat, webart)
}

// buildInstancesAndWorkers creates one instance.Instance per configured
// Instance, then initializes every configured Worker sequentially within
// it, so Workers sharing an Instance reuse the one lazily-launched browser.
func (a *App) buildInstancesAndWorkers(cfg *common.Config, reg *registry.Registry, rateLimiters map[string]*rate.Limiter) ([]*worker.Worker, []*instance.Instance, error) {
	var allWorkers []*worker.Worker
	var instances []*instance.Instance
	seenWorkerNames := make(map[string]bool)

	for _, instCfg := range cfg.Backend.Pool.Instances {
		dirMark := instCfg.UserDataMark
		userDataDir := filepath.Join(cfg.Browser.DataDir, "chromeUserData_"+orDefault(dirMark, instCfg.Name))

		var proxy *instance.Proxy
		if instCfg.Proxy != nil {
			proxy = &instance.Proxy{
				Enabled: instCfg.Proxy.Enable,
				Type:    instCfg.Proxy.Type,
				Host:    instCfg.Proxy.Host,
				Port:    instCfg.Proxy.Port,
				User:    instCfg.Proxy.User,
				Passwd:  instCfg.Proxy.Passwd,
			}
		}

		inst := instance.New(instance.Config{
			Name:          instCfg.Name,
			UserDataDir:   userDataDir,
			Proxy:         proxy,
			ProxyDisabled: instCfg.ProxyDisabled,
		}, a.Logger)
		instances = append(instances, inst)

		for _, wCfg := range instCfg.Workers {
			if seenWorkerNames[wCfg.Name] {
				return nil, nil, fmt.Errorf("app: duplicate worker name %q", wCfg.Name)
			}
			seenWorkerNames[wCfg.Name] = true

			kind := worker.KindSingle
			types := []string{wCfg.Type}
			if len(wCfg.MergeTypes) > 0 {
				kind = worker.KindMerge
				types = wCfg.MergeTypes
			}

			w := worker.New(worker.Config{
				Name:         wCfg.Name,
				Kind:         kind,
				Types:        types,
				MonitorType:  wCfg.MergeMonitor,
				AdapterCfg:   adapterConfigFor(cfg, types),
				FailoverOn:   cfg.Backend.Pool.Failover.Enabled,
				MaxRetries:   cfg.Backend.Pool.Failover.MaxRetries,
				RateLimiters: rateLimiters,
			}, reg, inst, a.Logger)

			globalCfg := adapterConfigFor(cfg, types)
			if err := w.Init(context.Background(), globalCfg, a.globalProxy); err != nil {
				return nil, nil, fmt.Errorf("app: failed to initialize worker %q: %w", wCfg.Name, err)
			}

			if wCfg.MergeMonitor != "" && wCfg.MonitorCron != "" {
				a.scheduleMonitorParking(w, wCfg.MonitorCron, globalCfg)
			}

			allWorkers = append(allWorkers, w)
		}
	}

	return allWorkers, instances, nil
}

// scheduleMonitorParking registers a cron entry that parks a merge Worker on
// its monitor adapter's target URL whenever it is idle, per the configured
// schedule. A malformed expression is logged and skipped rather than failing
// startup, since monitor parking is an optimization, not correctness.
func (a *App) scheduleMonitorParking(w *worker.Worker, expr string, globalCfg map[string]interface{}) {
	_, err := a.monitorCron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := w.NavigateToMonitor(ctx, globalCfg); err != nil {
			a.Logger.Warn().Err(err).Str("worker", w.Name()).Msg("app: monitor parking failed")
		}
	})
	if err != nil {
		a.Logger.Warn().Err(err).Str("worker", w.Name()).Str("cron", expr).Msg("app: invalid monitorCron expression, parking disabled")
	}
}

// adapterConfigFor returns the backend.adapter.<type>.* configuration block
// for the first of types present, or an empty map.
func adapterConfigFor(cfg *common.Config, types []string) map[string]interface{} {
	for _, t := range types {
		if block, ok := cfg.Backend.Adapter[t]; ok {
			return block
		}
	}
	return map[string]interface{}{}
}

// buildRateLimiters constructs one shared rate.Limiter per adapter type that
// sets backend.adapter.<type>.rateLimitPerSecond, pacing how often any Worker
// bound to that type may submit to the upstream page. Types without the key
// are left unlimited.
func buildRateLimiters(cfg *common.Config) map[string]*rate.Limiter {
	limiters := make(map[string]*rate.Limiter)
	for adapterType, block := range cfg.Backend.Adapter {
		var rps float64
		switch v := block["rateLimitPerSecond"].(type) {
		case float64:
			rps = v
		case int:
			rps = float64(v)
		}
		if rps <= 0 {
			continue
		}
		burst := 1
		switch b := block["rateLimitBurst"].(type) {
		case float64:
			if b > 0 {
				burst = int(b)
			}
		case int:
			if b > 0 {
				burst = b
			}
		}
		limiters[adapterType] = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return limiters
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Shutdown stops accepting new admissions, waits up to the configured grace
// period for in-flight Tasks to drain, then closes every browser Instance
// and the cookie store.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancelAdmitter()
	if a.monitorCron != nil {
		a.monitorCron.Stop()
	}

	grace := time.Duration(a.Config.Server.ShutdownGraceSeconds) * time.Second
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if a.Pool.BusyTotal() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(200 * time.Millisecond):
		}
	}

	for _, inst := range a.Instances {
		inst.Shutdown()
	}

	if err := a.CookieStore.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("app: failed to close cookie store")
	}

	common.Stop()
	return nil
}
