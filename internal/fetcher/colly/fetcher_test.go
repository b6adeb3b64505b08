package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestFetcher_Fetch_ExtractsContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Doc</title></head><body><p>hello world</p></body></html>`))
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	f := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, fixedClock{now: now})

	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Doc", res.Title)
	require.Contains(t, res.Content, "hello world")
	require.Equal(t, FetcherName, res.Fetcher)
	require.Equal(t, now, res.FetchedAt)
}

func TestFetcher_Fetch_Non2xxFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, fixedClock{now: time.Now()})

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFetcher_Fetch_TransportError(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second}, fixedClock{now: time.Now()})

	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
}
