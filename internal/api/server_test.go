package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/scraper"
	"github.com/keepsake-labs/keepsake/internal/storage/postgres"
)

type fakeItemStore struct {
	created *capture.Item
	item    capture.Item
	getErr  error
	crtErr  error
}

func (s *fakeItemStore) CreateItem(_ context.Context, item capture.Item) error {
	if s.crtErr != nil {
		return s.crtErr
	}
	s.created = &item
	return nil
}

func (s *fakeItemStore) GetItem(_ context.Context, id string) (capture.Item, error) {
	if s.getErr != nil {
		return capture.Item{}, s.getErr
	}
	if s.item.ID != id {
		return capture.Item{}, fmt.Errorf("item %s: %w", id, postgres.ErrNotFound)
	}
	return s.item, nil
}

func (s *fakeItemStore) SetStatus(context.Context, string, capture.ItemStatus) error { return nil }
func (s *fakeItemStore) SaveResults(context.Context, string, capture.ItemResults) error {
	return nil
}
func (s *fakeItemStore) MarkFailed(context.Context, string, string) error             { return nil }
func (s *fakeItemStore) MergeMetadata(context.Context, string, map[string]any) error  { return nil }
func (s *fakeItemStore) LinkTags(context.Context, string, []string) error             { return nil }

type fakeSearcher struct {
	results []capture.SearchResult
	err     error
	gotQ    string
	gotN    int
}

func (s *fakeSearcher) Search(_ context.Context, query string, limit int) ([]capture.SearchResult, error) {
	s.gotQ = query
	s.gotN = limit
	return s.results, s.err
}

type fakeProviderStats struct{ stats []capture.ProviderStats }

func (s *fakeProviderStats) Stats() []capture.ProviderStats { return s.stats }

type fakeScraperStats struct{ stats scraper.Stats }

func (s *fakeScraperStats) Stats() scraper.Stats { return s.stats }

func newTestServer(items *fakeItemStore, searcher *fakeSearcher) *Server {
	return NewServer(items, searcher, &fakeProviderStats{}, &fakeScraperStats{}, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCaptureCreatesPendingItem(t *testing.T) {
	t.Parallel()

	items := &fakeItemStore{}
	srv := newTestServer(items, &fakeSearcher{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/capture", map[string]string{
		"url": "https://example.com/article",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, items.created)
	require.Equal(t, "https://example.com/article", items.created.URL)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pending", resp["status"])
	_, err := uuid.Parse(resp["id"])
	require.NoError(t, err)
}

func TestCaptureAcceptsRawContent(t *testing.T) {
	t.Parallel()

	items := &fakeItemStore{}
	srv := newTestServer(items, &fakeSearcher{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/capture", map[string]string{
		"raw_content": "a quick note",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "a quick note", items.created.RawContent)
}

func TestCaptureRejectsMissingSource(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/capture", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureRejectsBadURL(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/capture", map[string]string{
		"url": "ftp://example.com/file",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureStoreErrorIs500(t *testing.T) {
	t.Parallel()

	items := &fakeItemStore{crtErr: errors.New("db down")}
	srv := newTestServer(items, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/capture", map[string]string{
		"url": "https://example.com",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetItemReturnsItem(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	items := &fakeItemStore{item: capture.Item{ID: id, Title: "Title", Status: capture.StatusCompleted}}
	srv := newTestServer(items, &fakeSearcher{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/items/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var item capture.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, "Title", item.Title)
}

func TestGetItemNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/items/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetItemRejectsMalformedID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/items/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchPassesQueryAndLimit(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: []capture.SearchResult{
		{Item: capture.Item{ID: uuid.NewString()}, Combined: 0.9},
	}}
	srv := newTestServer(&fakeItemStore{}, searcher)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/search?q=golang&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "golang", searcher.gotQ)
	require.Equal(t, 5, searcher.gotN)
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsOutOfRangeLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/search?q=x&limit=500", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderStatsEndpoint(t *testing.T) {
	t.Parallel()

	providers := &fakeProviderStats{stats: []capture.ProviderStats{{Name: "openai", Healthy: true}}}
	srv := NewServer(&fakeItemStore{}, &fakeSearcher{}, providers, &fakeScraperStats{}, zap.NewNop())

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/admin/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Contains(t, payload, "providers")
	require.Contains(t, payload, "scrapers")
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeItemStore{}, &fakeSearcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
