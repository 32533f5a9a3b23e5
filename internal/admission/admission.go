// Package admission implements Request Admission & Queue (C5): parsing,
// the ordered admission rules, the global FIFO pending queue, and the single
// dispatch loop that reserves Workers for queued Tasks.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/apierrors"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/pool"
)

// Config configures admission limits.
type Config struct {
	ImageLimit  int
	QueueBuffer int
	TempDir     string // where inline image payloads are spooled to disk

	// RateLimitPerSecond caps new admissions process-wide; 0 disables the
	// throttle. RateLimitBurst is the token bucket's burst size.
	RateLimitPerSecond float64
	RateLimitBurst      int
}

// Admitter owns the global FIFO queue and the single dispatch loop.
type Admitter struct {
	cfg    Config
	pool   *pool.Pool
	logger arbor.ILogger

	mu      sync.Mutex
	pending []*models.Task

	limiter *rate.Limiter

	dispatchSignal chan struct{}
	stopped        chan struct{}
}

// New constructs an Admitter over pool.
func New(cfg Config, p *pool.Pool, logger arbor.ILogger) *Admitter {
	a := &Admitter{
		cfg:            cfg,
		pool:           p,
		logger:         logger,
		dispatchSignal: make(chan struct{}, 1),
		stopped:        make(chan struct{}),
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	return a
}

// Run starts the single dispatch loop; it returns when ctx is cancelled.
func (a *Admitter) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(a.stopped)
			return
		case <-a.dispatchSignal:
			a.drainOnce(ctx)
		case <-ticker.C:
			a.drainOnce(ctx)
		}
	}
}

// drainOnce walks the FIFO from the head, reserving a Worker for any Task
// whose candidate set has one idle, and leaving the rest queued. Tasks
// whose candidates are all busy are skipped over by later Tasks, per the
// throughput-over-strict-order ordering guarantee. Reservation itself is
// synchronous (a non-blocking CAS); the actual browser round trip runs in
// its own goroutine so one Task's generate latency never blocks the loop
// from placing the next Task on a different idle Worker. The Pool's
// concurrency ceiling is therefore the number of Workers, not one.
func (a *Admitter) drainOnce(ctx context.Context) {
	a.mu.Lock()
	tasks := append([]*models.Task{}, a.pending...)
	a.mu.Unlock()

	var stillPending []*models.Task
	for _, task := range tasks {
		if task.IsCancelled() {
			continue
		}

		hasImages := len(task.ImagePaths) > 0
		candidates, err := a.pool.Candidates(task.Model, hasImages)
		if err != nil {
			task.Resolve(models.GenerateResult{Error: err})
			continue
		}

		run, dispatchErr := a.pool.ReserveDispatch(candidates, task.Prompt, task.ImagePaths, task.Model, nil)
		if dispatchErr != nil {
			if pool.IsNoIdleWorker(dispatchErr) {
				stillPending = append(stillPending, task)
				continue
			}
			task.Resolve(models.GenerateResult{Error: dispatchErr})
			continue
		}

		go func(task *models.Task, run pool.Continuation) {
			result, runErr := run(task.Ctx)
			if runErr != nil {
				task.Resolve(models.GenerateResult{Error: runErr})
				return
			}
			task.Resolve(result)
		}(task, run)
	}

	a.mu.Lock()
	a.pending = stillPending
	a.mu.Unlock()
}

// signal wakes the dispatch loop immediately rather than waiting for the
// next tick.
func (a *Admitter) signal() {
	select {
	case a.dispatchSignal <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of Tasks currently queued (not yet
// dispatched).
func (a *Admitter) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Admit applies the ordered admission rules to a parsed request and, if
// accepted, enqueues a Task and returns it for the caller to Wait on.
func (a *Admitter) Admit(ctx context.Context, parsed *ParsedPrompt) (*models.Task, *apierrors.Error) {
	if !parsed.HasMessages {
		return nil, apierrors.New(apierrors.CodeNoMessages, "messages is absent or empty")
	}
	if !parsed.HasUser {
		return nil, apierrors.New(apierrors.CodeNoUserMessages, "no role=user message present")
	}
	if a.cfg.ImageLimit > 0 && len(parsed.ImageURIs) > a.cfg.ImageLimit {
		return nil, apierrors.New(apierrors.CodeTooManyImages, fmt.Sprintf("image count %d exceeds limit %d", len(parsed.ImageURIs), a.cfg.ImageLimit))
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return nil, apierrors.New(apierrors.CodeServerBusy, "rate limit exceeded")
	}

	hasImages := len(parsed.ImageURIs) > 0
	candidates, err := a.pool.Candidates(parsed.Model, hasImages)
	if err != nil {
		if te, ok := apierrors.As(err); ok {
			return nil, te
		}
		return nil, apierrors.Wrap(apierrors.CodeInvalidModel, err.Error(), err)
	}

	allForbidden, allRequired := true, true
	for _, w := range candidates {
		policy := w.ImagePolicy(parsed.Model)
		if policy != models.ImagePolicyForbidden {
			allForbidden = false
		}
		if policy != models.ImagePolicyRequired {
			allRequired = false
		}
	}
	if allForbidden && hasImages {
		return nil, apierrors.New(apierrors.CodeImageForbidden, "every candidate worker forbids images for this model")
	}
	if allRequired && !hasImages {
		return nil, apierrors.New(apierrors.CodeImageRequired, "every candidate worker requires an image for this model")
	}

	if !parsed.Stream {
		inFlight := a.pool.BusyTotal() + a.QueueDepth()
		if inFlight >= a.pool.Size()+a.cfg.QueueBuffer {
			return nil, apierrors.New(apierrors.CodeServerBusy, "admission queue full")
		}
	}

	imagePaths, err := decodeDataURIsToFiles(a.cfg.TempDir, parsed.ImageURIs)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInternalError, err.Error(), err)
	}

	task := models.NewTask(ctx, fmt.Sprintf("task-%d", time.Now().UnixNano()), parsed.Model, parsed.Prompt, imagePaths, parsed.Stream)
	a.mu.Lock()
	a.pending = append(a.pending, task)
	a.mu.Unlock()
	a.signal()

	return task, nil
}

// Cancel marks task cancelled and, if still queued, removes it. In-flight
// cancellation is best-effort: the Worker frees itself when the adapter
// returns; this only stops a not-yet-dispatched Task from ever being
// dispatched.
func (a *Admitter) Cancel(task *models.Task) {
	task.Cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	filtered := a.pending[:0]
	for _, t := range a.pending {
		if t != task {
			filtered = append(filtered, t)
		}
	}
	a.pending = filtered
}
