// Package pool implements the Pool/Scheduler (C4): it picks a Worker for a
// request using a configured strategy, tracks busy counts, and orchestrates
// cross-Worker failover via the Failover Executor.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chatrelay/internal/apierrors"
	"github.com/ternarybob/chatrelay/internal/failover"
	"github.com/ternarybob/chatrelay/internal/models"
	"github.com/ternarybob/chatrelay/internal/worker"
)

// Strategy is the candidate-ordering policy.
type Strategy string

const (
	StrategyLeastBusy  Strategy = "least_busy"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
)

// Config configures the Pool's dispatch policy.
type Config struct {
	Strategy       Strategy
	FailoverOn     bool
	FailoverRetry  int
}

// Pool holds every configured Worker and the strategy to order candidates
// for a request.
type Pool struct {
	cfg     Config
	workers []*worker.Worker
	logger  arbor.ILogger

	mu          sync.Mutex
	rrIndex     int
}

// New constructs a Pool over workers. The Pool's maximum concurrency equals
// len(workers); it never blocks waiting for one to free up — that is the
// admission layer's job.
func New(cfg Config, workers []*worker.Worker, logger arbor.ILogger) *Pool {
	return &Pool{cfg: cfg, workers: workers, logger: logger}
}

// Workers returns every Worker in the Pool.
func (p *Pool) Workers() []*worker.Worker { return p.workers }

// Candidates builds the ordered candidate list for modelKey given whether
// the request carries images, honoring the image-aware dispatch rule.
func (p *Pool) Candidates(modelKey string, hasImages bool) ([]*worker.Worker, error) {
	var candidates []*worker.Worker
	for _, w := range p.workers {
		if w.Supports(modelKey) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, apierrors.New(apierrors.CodeInvalidModel, fmt.Sprintf("no worker supports model %q", modelKey))
	}

	if hasImages {
		anyNonForbidden := false
		for _, w := range candidates {
			if w.ImagePolicy(modelKey) != models.ImagePolicyForbidden {
				anyNonForbidden = true
				break
			}
		}
		if anyNonForbidden {
			filtered := candidates[:0]
			for _, w := range candidates {
				if w.ImagePolicy(modelKey) != models.ImagePolicyForbidden {
					filtered = append(filtered, w)
				}
			}
			candidates = filtered
		}
	}

	if len(candidates) == 0 {
		return nil, apierrors.New(apierrors.CodeInvalidModel, fmt.Sprintf("no eligible worker for model %q", modelKey))
	}

	return p.order(candidates), nil
}

// order applies the configured strategy to sort candidates.
func (p *Pool) order(candidates []*worker.Worker) []*worker.Worker {
	switch p.cfg.Strategy {
	case StrategyRoundRobin:
		p.mu.Lock()
		idx := p.rrIndex % len(candidates)
		p.rrIndex++
		p.mu.Unlock()
		rotated := make([]*worker.Worker, 0, len(candidates))
		rotated = append(rotated, candidates[idx:]...)
		rotated = append(rotated, candidates[:idx]...)
		return rotated
	case StrategyRandom:
		shuffled := append([]*worker.Worker{}, candidates...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled
	case StrategyLeastBusy:
		fallthrough
	default:
		sorted := append([]*worker.Worker{}, candidates...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].BusyCount() < sorted[j].BusyCount()
		})
		return sorted
	}
}

// Continuation runs the browser round trip (and any cross-Worker failover)
// for a Task whose starting Worker ReserveDispatch has already reserved.
// Safe to run in its own goroutine — the Worker(s) it touches are released
// internally as it goes.
type Continuation func(ctx context.Context) (models.GenerateResult, error)

// ReserveDispatch synchronously reserves the first idle candidate — a
// non-blocking atomic CAS, never a page round trip — and returns a
// Continuation that performs the actual generate (and any configured
// failover across the remaining candidates) when invoked. Splitting
// reservation from execution lets the admission dispatch loop move on to
// the next Task immediately instead of blocking on one Task's full adapter
// round trip; the Pool's maximum concurrency is the number of Workers, not
// one Task at a time. Returns errNoIdleWorker if no candidate can be
// reserved right now.
func (p *Pool) ReserveDispatch(candidates []*worker.Worker, prompt string, imagePaths []string, modelKey string, meta map[string]string) (Continuation, error) {
	var reserved *worker.Worker
	reservedIdx := -1
	for i, w := range candidates {
		if w.Reserve() {
			reserved = w
			reservedIdx = i
			break
		}
	}
	if reserved == nil {
		return nil, errNoIdleWorker
	}

	ordered := make([]*worker.Worker, 0, len(candidates))
	ordered = append(ordered, reserved)
	for i, w := range candidates {
		if i != reservedIdx {
			ordered = append(ordered, w)
		}
	}

	names := make([]string, len(ordered))
	byName := make(map[string]*worker.Worker, len(ordered))
	for i, w := range ordered {
		names[i] = w.Name()
		byName[w.Name()] = w
	}

	maxRetries := 0
	if p.cfg.FailoverOn {
		maxRetries = p.cfg.FailoverRetry
	}

	first := true
	attempt := func(ctx context.Context, name string) (models.GenerateResult, error) {
		w := byName[name]
		// The first candidate is already reserved above; every later
		// failover candidate still needs its own Reserve.
		if first {
			first = false
		} else if !w.Reserve() {
			return models.GenerateResult{}, fmt.Errorf("worker %s became busy", name)
		}
		defer w.Release()
		return w.Generate(ctx, prompt, imagePaths, modelKey, meta)
	}

	return func(ctx context.Context) (models.GenerateResult, error) {
		if !p.cfg.FailoverOn || len(names) == 1 {
			return attempt(ctx, names[0])
		}
		return failover.Run(ctx, names, maxRetries, p.logger, attempt)
	}, nil
}

// Dispatch is a synchronous convenience over ReserveDispatch that runs the
// continuation immediately; useful for callers that are fine blocking (e.g.
// tests). Production dispatch (admission.drainOnce) uses ReserveDispatch
// directly so the continuation can run in its own goroutine.
func (p *Pool) Dispatch(ctx context.Context, candidates []*worker.Worker, prompt string, imagePaths []string, modelKey string, meta map[string]string) (models.GenerateResult, error) {
	run, err := p.ReserveDispatch(candidates, prompt, imagePaths, modelKey, meta)
	if err != nil {
		return models.GenerateResult{}, err
	}
	return run(ctx)
}

// errNoIdleWorker signals the admission dispatch loop to keep the Task
// queued rather than a hard failure.
var errNoIdleWorker = fmt.Errorf("no idle worker among candidates")

// IsNoIdleWorker reports whether err is the sentinel Dispatch returns when
// every candidate is currently busy.
func IsNoIdleWorker(err error) bool { return err == errNoIdleWorker }

// BusyTotal sums the busy counters across every Worker in the Pool, used by
// admission to compute global in-flight load.
func (p *Pool) BusyTotal() int {
	total := 0
	for _, w := range p.workers {
		total += w.BusyCount()
	}
	return total
}

// Size returns the total number of Workers in the Pool.
func (p *Pool) Size() int { return len(p.workers) }
