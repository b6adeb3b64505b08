// Package api exposes the HTTP interface for the capture service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/scraper"
	"github.com/keepsake-labs/keepsake/internal/storage/postgres"
)

// Searcher is the query surface the server exposes.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]capture.SearchResult, error)
}

// ProviderStats reports AI provider health for the admin surface.
type ProviderStats interface {
	Stats() []capture.ProviderStats
}

// ScraperStats reports per-fetcher outcome counters.
type ScraperStats interface {
	Stats() scraper.Stats
}

// Server wires HTTP handlers to the item store and search layer. Capture is
// asynchronous: POST /api/capture only creates the pending row; the
// notification listener picks it up from there.
type Server struct {
	router    chi.Router
	items     capture.ItemStore
	searcher  Searcher
	providers ProviderStats
	chain     ScraperStats
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(items capture.ItemStore, searcher Searcher, providers ProviderStats, chain ScraperStats, logger *zap.Logger) *Server {
	s := &Server{
		items:     items,
		searcher:  searcher,
		providers: providers,
		chain:     chain,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/capture", s.captureItem)
		r.Get("/items/{item_id}", s.getItem)
		r.Get("/search", s.searchItems)
		r.Get("/admin/providers", s.providerStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type captureRequest struct {
	URL        string         `json:"url"`
	RawContent string         `json:"raw_content"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) captureItem(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateCapture(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := capture.Item{
		ID:         uuid.NewString(),
		URL:        strings.TrimSpace(req.URL),
		RawContent: req.RawContent,
		Metadata:   req.Metadata,
	}
	if err := s.items.CreateItem(r.Context(), item); err != nil {
		s.logger.Error("create item failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create item")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     item.ID,
		"status": string(capture.StatusPending),
	})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if _, err := uuid.Parse(itemID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := s.items.GetItem(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.logger.Error("get item failed", zap.String("item_id", itemID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) searchItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	results, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

func (s *Server) providerStats(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"providers": s.providers.Stats(),
	}
	if s.chain != nil {
		payload["scrapers"] = s.chain.Stats()
	}
	writeJSON(w, http.StatusOK, payload)
}

func validateCapture(req captureRequest) error {
	hasURL := strings.TrimSpace(req.URL) != ""
	hasRaw := strings.TrimSpace(req.RawContent) != ""
	if !hasURL && !hasRaw {
		return errors.New("either url or raw_content is required")
	}
	if hasURL {
		parsed, err := url.Parse(strings.TrimSpace(req.URL))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return errors.New("url must be absolute http or https")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
