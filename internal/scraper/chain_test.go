package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

type stubFetcher struct {
	name string
	res  capture.ScrapeResult
	err  error
}

func (f *stubFetcher) Name() string { return f.name }

func (f *stubFetcher) Fetch(_ context.Context, _ string) (capture.ScrapeResult, error) {
	return f.res, f.err
}

func goodResult(name string) capture.ScrapeResult {
	return capture.ScrapeResult{
		Content:   strings.Repeat("useful article text ", 20),
		Title:     "Title",
		FetchedAt: time.Unix(100, 0),
		Fetcher:   name,
	}
}

func TestChain_PrimaryWins(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{name: "primary", res: goodResult("primary")}
	secondary := &stubFetcher{name: "secondary", err: errors.New("should not be called")}
	chain, err := NewChain(Config{}, zap.NewNop(), primary, secondary)
	require.NoError(t, err)

	res, err := chain.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "primary", res.Fetcher)

	stats := chain.Stats()
	require.Equal(t, int64(1), stats.Successes["primary"])
	require.Zero(t, stats.Failures["primary"])
}

func TestChain_FallsBackToSecondary(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{name: "primary", err: errors.New("connection refused")}
	secondary := &stubFetcher{name: "secondary", res: goodResult("secondary")}
	chain, err := NewChain(Config{}, zap.NewNop(), primary, secondary)
	require.NoError(t, err)

	res, err := chain.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "secondary", res.Fetcher)

	stats := chain.Stats()
	require.Equal(t, int64(1), stats.Failures["primary"])
	require.Equal(t, int64(1), stats.Successes["secondary"])
}

func TestChain_QualityGateRejectsShortAndBlockedContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"too short", "tiny"},
		{"blocked page", strings.Repeat("x", 50) + " Access Denied - you do not have permission " + strings.Repeat("y", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &stubFetcher{name: "primary", res: capture.ScrapeResult{Content: tt.content}}
			secondary := &stubFetcher{name: "secondary", res: goodResult("secondary")}
			chain, err := NewChain(Config{}, zap.NewNop(), primary, secondary)
			require.NoError(t, err)

			res, err := chain.Scrape(context.Background(), "https://example.com")
			require.NoError(t, err)
			require.Equal(t, "secondary", res.Fetcher)
		})
	}
}

func TestChain_AllFetchersFail(t *testing.T) {
	t.Parallel()

	primary := &stubFetcher{name: "primary", err: errors.New("timeout")}
	secondary := &stubFetcher{name: "secondary", err: errors.New("blocked")}
	chain, err := NewChain(Config{}, zap.NewNop(), primary, secondary)
	require.NoError(t, err)

	_, err = chain.Scrape(context.Background(), "https://dead-domain.invalid")
	require.ErrorIs(t, err, ErrNoContent)
	require.Contains(t, err.Error(), "timeout")
	require.Contains(t, err.Error(), "blocked")
}
