// Package airouter selects AI providers for tasks and degrades gracefully
// when a provider is unavailable.
package airouter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/metrics"
)

// ErrNoProvider is returned when no configured provider can serve a task type.
var ErrNoProvider = errors.New("no suitable provider for task")

// Optimistic prior so an untried provider starts near a 0.95 success rate
// instead of being penalized before its first call.
const (
	priorSuccesses = 9.5
	priorFailures  = 0.5
)

// Config tunes health tracking.
type Config struct {
	// HealthHalfLife controls how fast old outcomes stop counting. Health is
	// in-process only and resets on restart.
	HealthHalfLife time.Duration
	CallTimeout    time.Duration
}

// Router routes AI tasks to the most appropriate provider based on rolling
// success rate, latency, and cost, falling back across providers on failure.
type Router struct {
	cfg       Config
	providers []capture.Provider
	logger    *zap.Logger
	clock     capture.Clock

	mu     sync.Mutex
	health map[string]*providerHealth
}

type providerHealth struct {
	successes  float64
	failures   float64
	latencyMs  float64
	lastUpdate time.Time
	requests   int64
	failCount  int64
}

var (
	_ capture.Analyzer = (*Router)(nil)
	_ capture.Embedder = (*Router)(nil)
)

// New builds a Router over providers in configured priority order. Slice
// order breaks scoring ties.
func New(cfg Config, logger *zap.Logger, clock capture.Clock, providers ...capture.Provider) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.HealthHalfLife <= 0 {
		cfg.HealthHalfLife = 5 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	health := make(map[string]*providerHealth, len(providers))
	for _, p := range providers {
		health[p.Name()] = &providerHealth{
			latencyMs:  float64(p.Capabilities().BaseLatency.Milliseconds()),
			lastUpdate: clock.Now(),
		}
	}
	return &Router{
		cfg:       cfg,
		providers: providers,
		logger:    logger,
		clock:     clock,
		health:    health,
	}, nil
}

// Route returns the best provider for the task without executing anything.
func (r *Router) Route(task capture.Task) (capture.Provider, error) {
	candidates := r.rankedCandidates(task)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, task.Type)
	}
	return candidates[0], nil
}

// Analyze runs the text-generation task with automatic fallback. The second
// return value names the provider that served the call.
func (r *Router) Analyze(ctx context.Context, content string) (capture.Analysis, string, error) {
	task := capture.Task{Type: capture.TaskTextGeneration, Content: content, Priority: 5}
	var out capture.Analysis
	name, err := r.executeWithFallback(ctx, task, func(ctx context.Context, p capture.Provider) error {
		res, err := p.Analyze(ctx, content)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, name, err
}

// Embed runs the embedding task with automatic fallback.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, string, error) {
	task := capture.Task{Type: capture.TaskEmbedding, Content: text, Priority: 5}
	var out []float32
	name, err := r.executeWithFallback(ctx, task, func(ctx context.Context, p capture.Provider) error {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return err
		}
		if len(vec) == 0 {
			return fmt.Errorf("provider returned empty vector")
		}
		out = vec
		return nil
	})
	return out, name, err
}

// Complete runs a plain prompt with fallback, used by the enhanced router's
// classification step and by administrative tooling.
func (r *Router) Complete(ctx context.Context, prompt string) (string, string, error) {
	task := capture.Task{Type: capture.TaskTextGeneration, Content: prompt, Priority: 3}
	var out string
	name, err := r.executeWithFallback(ctx, task, func(ctx context.Context, p capture.Provider) error {
		res, err := p.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, name, err
}

// executeWithFallback tries ranked candidates in order until one succeeds.
// Each failure marks the provider's health down and the next-best candidate
// is tried; exhaustion returns the aggregated error, never a partial result.
func (r *Router) executeWithFallback(
	ctx context.Context,
	task capture.Task,
	call func(context.Context, capture.Provider) error,
) (string, error) {
	return r.executeCandidates(ctx, r.rankedCandidates(task), task, call)
}

// executeCandidates runs the fallback loop over a pre-ordered candidate list.
func (r *Router) executeCandidates(
	ctx context.Context,
	candidates []capture.Provider,
	task capture.Task,
	call func(context.Context, capture.Provider) error,
) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoProvider, task.Type)
	}

	var errs []error
	for _, p := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		start := r.clock.Now()
		err := call(callCtx, p)
		cancel()

		if err != nil {
			r.recordOutcome(p.Name(), false, r.clock.Now().Sub(start))
			metrics.ObserveProviderCall(p.Name(), "failure")
			r.logger.Warn("provider call failed, trying next candidate",
				zap.String("provider", p.Name()),
				zap.String("task", string(task.Type)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		r.recordOutcome(p.Name(), true, r.clock.Now().Sub(start))
		metrics.ObserveProviderCall(p.Name(), "success")
		return p.Name(), nil
	}

	return "", fmt.Errorf("all providers failed for %s task: %w", task.Type, errors.Join(errs...))
}

// rankedCandidates returns capability-compatible providers ordered by score.
// sort.SliceStable keeps configured order on ties.
func (r *Router) rankedCandidates(task capture.Task) []capture.Provider {
	var candidates []capture.Provider
	for _, p := range r.providers {
		if supportsTask(p.Capabilities(), task.Type) {
			candidates = append(candidates, p)
		}
	}
	scores := make(map[string]float64, len(candidates))
	for _, p := range candidates {
		scores[p.Name()] = r.score(p, task)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return scores[candidates[i].Name()] > scores[candidates[j].Name()]
	})
	return candidates
}

// score combines success rate, latency, and cost. Higher is better.
func (r *Router) score(p capture.Provider, task capture.Task) float64 {
	caps := p.Capabilities()
	rate, latencyMs := r.healthSnapshot(p.Name())

	score := rate * 20

	if latencyMs <= 0 {
		latencyMs = 1
	}
	score += 1000 / latencyMs * 10

	if caps.CostPer1KTokens == 0 {
		score += 30
	} else {
		score += 10 / caps.CostPer1KTokens / 1000
	}

	// High-priority work prefers the most capable (most expensive) provider.
	if task.Priority >= 8 {
		score += caps.CostPer1KTokens * 1000
	}

	return score
}

// Stats reports a health snapshot per provider for the admin API.
func (r *Router) Stats() []capture.ProviderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]capture.ProviderStats, 0, len(r.providers))
	for _, p := range r.providers {
		h := r.health[p.Name()]
		r.decayLocked(h)
		rate := successRate(h)
		out = append(out, capture.ProviderStats{
			Name:            p.Name(),
			Requests:        h.requests,
			Failures:        h.failCount,
			SuccessRate:     rate,
			AvgLatencyMs:    h.latencyMs,
			CostPer1KTokens: p.Capabilities().CostPer1KTokens,
			Healthy:         rate >= 0.5,
		})
	}
	return out
}

func (r *Router) healthSnapshot(name string) (rate, latencyMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	r.decayLocked(h)
	return successRate(h), h.latencyMs
}

func (r *Router) recordOutcome(name string, ok bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	r.decayLocked(h)
	h.requests++
	if ok {
		h.successes++
		// Exponential moving average over observed latency.
		h.latencyMs = h.latencyMs*0.9 + float64(elapsed.Milliseconds())*0.1
	} else {
		h.failures++
		h.failCount++
	}
}

// decayLocked scales outcome counters by elapsed half-lives so older
// outcomes count less. Caller must hold r.mu.
func (r *Router) decayLocked(h *providerHealth) {
	now := r.clock.Now()
	elapsed := now.Sub(h.lastUpdate)
	if elapsed <= 0 {
		return
	}
	factor := math.Pow(0.5, elapsed.Seconds()/r.cfg.HealthHalfLife.Seconds())
	h.successes *= factor
	h.failures *= factor
	h.lastUpdate = now
}

func successRate(h *providerHealth) float64 {
	return (h.successes + priorSuccesses) / (h.successes + h.failures + priorSuccesses + priorFailures)
}

func supportsTask(caps capture.Capabilities, t capture.TaskType) bool {
	switch t {
	case capture.TaskEmbedding:
		return caps.SupportsEmbedding
	case capture.TaskVision:
		return caps.SupportsVision
	case capture.TaskStreaming:
		return caps.SupportsStreaming
	default:
		return true
	}
}
