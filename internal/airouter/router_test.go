package airouter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	name       string
	caps       capture.Capabilities
	analyzeErr error
	embedErr   error
	analysis   capture.Analysis
	vector     []float32
	completion string
	calls      int
}

func (p *fakeProvider) Name() string                   { return p.name }
func (p *fakeProvider) Capabilities() capture.Capabilities { return p.caps }

func (p *fakeProvider) Analyze(_ context.Context, _ string) (capture.Analysis, error) {
	p.calls++
	if p.analyzeErr != nil {
		return capture.Analysis{}, p.analyzeErr
	}
	return p.analysis, nil
}

func (p *fakeProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	p.calls++
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	return p.vector, nil
}

func (p *fakeProvider) Complete(_ context.Context, _ string) (string, error) {
	p.calls++
	if p.analyzeErr != nil {
		return "", p.analyzeErr
	}
	return p.completion, nil
}

func textCaps(cost float64) capture.Capabilities {
	return capture.Capabilities{
		MaxTokens:         8192,
		SupportsEmbedding: true,
		SupportsStreaming: true,
		CostPer1KTokens:   cost,
		BaseLatency:       500 * time.Millisecond,
	}
}

func newTestRouter(t *testing.T, clock *fakeClock, providers ...capture.Provider) *Router {
	t.Helper()
	r, err := New(Config{HealthHalfLife: 5 * time.Minute, CallTimeout: time.Second}, zap.NewNop(), clock, providers...)
	require.NoError(t, err)
	return r
}

func TestRouter_AnalyzeFallsBackToSecondary(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	primary := &fakeProvider{name: "primary", caps: textCaps(0.01), analyzeErr: errors.New("rate limited")}
	secondary := &fakeProvider{name: "secondary", caps: textCaps(0.02), analysis: capture.Analysis{Summary: "from secondary"}}
	r := newTestRouter(t, clock, primary, secondary)

	before := statsFor(t, r, "primary").SuccessRate

	analysis, provider, err := r.Analyze(context.Background(), "content")
	require.NoError(t, err)
	require.Equal(t, "secondary", provider)
	require.Equal(t, "from secondary", analysis.Summary)

	after := statsFor(t, r, "primary").SuccessRate
	require.Less(t, after, before, "failed call must lower the primary's success rate")
}

func TestRouter_AllProvidersFailAggregatesErrors(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	a := &fakeProvider{name: "a", caps: textCaps(0.01), analyzeErr: errors.New("auth failed")}
	b := &fakeProvider{name: "b", caps: textCaps(0.02), analyzeErr: errors.New("timeout")}
	r := newTestRouter(t, clock, a, b)

	_, _, err := r.Analyze(context.Background(), "content")
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth failed")
	require.Contains(t, err.Error(), "timeout")
}

func TestRouter_EmbedSkipsNonEmbeddingProvider(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	textOnly := &fakeProvider{name: "text-only", caps: capture.Capabilities{SupportsEmbedding: false}}
	embedder := &fakeProvider{name: "embedder", caps: textCaps(0.01), vector: []float32{0.1, 0.2}}
	r := newTestRouter(t, clock, textOnly, embedder)

	vec, provider, err := r.Embed(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, "embedder", provider)
	require.Equal(t, []float32{0.1, 0.2}, vec)
	require.Zero(t, textOnly.calls)
}

func TestRouter_RouteNoSuitableProvider(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	textOnly := &fakeProvider{name: "text-only", caps: capture.Capabilities{}}
	r := newTestRouter(t, clock, textOnly)

	_, err := r.Route(capture.Task{Type: capture.TaskVision})
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestRouter_HealthDecayRestoresFailedProvider(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	p := &fakeProvider{name: "p", caps: textCaps(0.01), analyzeErr: errors.New("down")}
	other := &fakeProvider{name: "other", caps: textCaps(0.02), analysis: capture.Analysis{Summary: "ok"}}
	r := newTestRouter(t, clock, p, other)

	for range 5 {
		_, _, err := r.Analyze(context.Background(), "content")
		require.NoError(t, err)
	}
	degraded := statsFor(t, r, "p").SuccessRate

	// Ten half-lives later the failures should have mostly decayed away.
	clock.advance(50 * time.Minute)
	recovered := statsFor(t, r, "p").SuccessRate
	require.Greater(t, recovered, degraded)
	require.InDelta(t, 0.95, recovered, 0.02)
}

func TestRouter_TieBreakPrefersConfiguredOrder(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	first := &fakeProvider{name: "first", caps: textCaps(0.01)}
	second := &fakeProvider{name: "second", caps: textCaps(0.01)}
	r := newTestRouter(t, clock, first, second)

	p, err := r.Route(capture.Task{Type: capture.TaskTextGeneration})
	require.NoError(t, err)
	require.Equal(t, "first", p.Name())
}

func statsFor(t *testing.T, r *Router, name string) capture.ProviderStats {
	t.Helper()
	for _, s := range r.Stats() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no stats for provider %s", name)
	return capture.ProviderStats{}
}
