package airouter

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

// Complexity grades how demanding a task is, as judged by a model.
type Complexity string

// Complexity grades produced by the classification step.
const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// EnhancedRouter wraps Router with an LLM-driven complexity classification
// step: simple tasks go to the cheapest capable provider, expert tasks to the
// most capable one. Classification is itself an AI call; when it fails the
// router silently falls back to the base scoring policy.
type EnhancedRouter struct {
	*Router
	logger *zap.Logger
}

// NewEnhanced wraps an existing Router.
func NewEnhanced(base *Router, logger *zap.Logger) *EnhancedRouter {
	return &EnhancedRouter{Router: base, logger: logger}
}

// Analyze classifies the content's complexity first, then runs the
// text-generation task against the reordered candidate list.
func (e *EnhancedRouter) Analyze(ctx context.Context, content string) (capture.Analysis, string, error) {
	complexity, ok := e.classify(ctx, content)
	if !ok {
		return e.Router.Analyze(ctx, content)
	}

	task := capture.Task{Type: capture.TaskTextGeneration, Content: content, Priority: 5}
	candidates := e.candidatesFor(task, complexity)

	var out capture.Analysis
	name, err := e.executeCandidates(ctx, candidates, task, func(ctx context.Context, p capture.Provider) error {
		res, err := p.Analyze(ctx, content)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, name, err
}

// classify asks a model for a one-word complexity grade.
func (e *EnhancedRouter) classify(ctx context.Context, content string) (Complexity, bool) {
	answer, provider, err := e.Router.Complete(ctx, ClassifyPrompt(content))
	if err != nil {
		e.logger.Debug("complexity classification unavailable, using base policy", zap.Error(err))
		return "", false
	}

	switch Complexity(strings.ToLower(strings.TrimSpace(answer))) {
	case ComplexitySimple:
		e.logger.Debug("task classified", zap.String("complexity", "simple"), zap.String("classifier", provider))
		return ComplexitySimple, true
	case ComplexityModerate:
		return ComplexityModerate, true
	case ComplexityComplex:
		return ComplexityComplex, true
	case ComplexityExpert:
		return ComplexityExpert, true
	default:
		e.logger.Debug("unrecognized complexity grade, using base policy", zap.String("answer", answer))
		return "", false
	}
}

// candidatesFor biases the base ranking by complexity: cheap first for
// simple work, capable (expensive) first for expert work.
func (e *EnhancedRouter) candidatesFor(task capture.Task, complexity Complexity) []capture.Provider {
	candidates := e.rankedCandidates(task)
	switch complexity {
	case ComplexitySimple:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Capabilities().CostPer1KTokens < candidates[j].Capabilities().CostPer1KTokens
		})
	case ComplexityExpert:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Capabilities().CostPer1KTokens > candidates[j].Capabilities().CostPer1KTokens
		})
	}
	return candidates
}
