// Package collyfetcher implements the cheap HTTP fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/fetcher/htmltext"
)

// FetcherName identifies this fetcher in provenance metadata.
const FetcherName = "colly"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements capture.Fetcher using the Colly collector. It is the
// first link in the scraper chain: plain HTTP, no JavaScript execution.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	clock         capture.Clock
}

var _ capture.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config, clock capture.Clock) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		clock:         clock,
	}
}

// Name returns the provenance identifier.
func (f *Fetcher) Name() string { return FetcherName }

// Fetch executes a single HTTP GET using Colly and extracts readable text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (capture.ScrapeResult, error) {
	var (
		statusCode int
		body       []byte
		fetchErr   error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return capture.ScrapeResult{}, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return capture.ScrapeResult{}, fmt.Errorf("unexpected status %d fetching %s", statusCode, url)
	}

	title, text, err := htmltext.Extract(body)
	if err != nil {
		return capture.ScrapeResult{}, fmt.Errorf("extract content: %w", err)
	}

	return capture.ScrapeResult{
		Content:   text,
		Title:     title,
		FetchedAt: f.clock.Now(),
		Fetcher:   FetcherName,
	}, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
