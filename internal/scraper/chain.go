// Package scraper runs the ordered content-fetch fallback chain.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/metrics"
)

// ErrNoContent is returned when every fetcher in the chain failed or produced
// unusable content.
var ErrNoContent = errors.New("no content retrieved")

// Error-page markers that mean a 2xx body is really a block or failure.
// A hit sends the URL down the chain to the next fetcher.
var blockedIndicators = []string{
	"access denied",
	"page not found",
	"forbidden",
	"captcha",
	"please enable javascript",
	"bot detected",
}

// Config controls chain-level content quality checks.
type Config struct {
	MinContentChars int
}

// Stats counts per-fetcher outcomes for cost accounting.
type Stats struct {
	Successes map[string]int64 `json:"successes"`
	Failures  map[string]int64 `json:"failures"`
	Requests  int64            `json:"requests"`
}

// Chain tries fetchers in priority order: the cheap fetcher first, the
// expensive one only when the cheap one fails its quality gate.
type Chain struct {
	fetchers []capture.Fetcher
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	successes map[string]int64
	failures  map[string]int64
	requests  int64
}

var _ capture.Scraper = (*Chain)(nil)

// NewChain builds a Chain over the given fetchers, tried in slice order.
func NewChain(cfg Config, logger *zap.Logger, fetchers ...capture.Fetcher) (*Chain, error) {
	if len(fetchers) == 0 {
		return nil, fmt.Errorf("at least one fetcher is required")
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 100
	}
	return &Chain{
		fetchers:  fetchers,
		cfg:       cfg,
		logger:    logger,
		successes: make(map[string]int64),
		failures:  make(map[string]int64),
	}, nil
}

// Scrape fetches url through the chain. The returned result names the
// fetcher that won, so callers can record provenance.
func (c *Chain) Scrape(ctx context.Context, url string) (capture.ScrapeResult, error) {
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()

	var errs []error
	for _, f := range c.fetchers {
		res, err := f.Fetch(ctx, url)
		if err == nil {
			if reason := c.qualityGate(res); reason != "" {
				err = fmt.Errorf("%s content rejected: %s", f.Name(), reason)
			}
		}
		if err != nil {
			c.recordOutcome(f.Name(), false)
			metrics.ObserveFetch(f.Name(), "failure")
			c.logger.Warn("fetcher failed, trying next",
				zap.String("fetcher", f.Name()),
				zap.String("url", url),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}

		c.recordOutcome(f.Name(), true)
		metrics.ObserveFetch(f.Name(), "success")
		c.logger.Debug("fetch succeeded",
			zap.String("fetcher", f.Name()),
			zap.String("url", url),
			zap.Int("content_chars", len(res.Content)),
		)
		res.Fetcher = f.Name()
		return res, nil
	}

	return capture.ScrapeResult{}, fmt.Errorf("%w for %s: %w", ErrNoContent, url, errors.Join(errs...))
}

// Stats returns a snapshot of per-fetcher outcome counters.
func (c *Chain) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Stats{
		Successes: make(map[string]int64, len(c.successes)),
		Failures:  make(map[string]int64, len(c.failures)),
		Requests:  c.requests,
	}
	for k, v := range c.successes {
		out.Successes[k] = v
	}
	for k, v := range c.failures {
		out.Failures[k] = v
	}
	return out
}

// qualityGate returns a rejection reason for content that is technically a
// successful fetch but unusable: too short, or an error page in disguise.
func (c *Chain) qualityGate(res capture.ScrapeResult) string {
	content := strings.TrimSpace(res.Content)
	if len(content) < c.cfg.MinContentChars {
		return fmt.Sprintf("too short (%d chars)", len(content))
	}
	lower := strings.ToLower(content[:min(len(content), 2048)])
	for _, marker := range blockedIndicators {
		if strings.Contains(lower, marker) {
			return fmt.Sprintf("blocked-page indicator %q", marker)
		}
	}
	return ""
}

func (c *Chain) recordOutcome(fetcher string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.successes[fetcher]++
	} else {
		c.failures[fetcher]++
	}
}
