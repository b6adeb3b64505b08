// Package engine runs the per-item capture pipeline: content acquisition,
// AI analysis, persistence, and indexing.
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/metrics"
)

// AnalyzeMaxChars is the default cap on text sent to the analysis model.
const AnalyzeMaxChars = 12000

// Title derivation bounds for raw text items. A first line outside these is
// not a usable title and the analysis title is used instead.
const (
	minTitleChars = 10
	maxTitleChars = 100
)

// Config tunes the engine.
type Config struct {
	// AnalyzeMaxChars caps the text sent to the AI analysis call;
	// AnalyzeMaxChars constant when zero.
	AnalyzeMaxChars int
}

// Engine implements capture.Processor. Process is side-effect-only: every
// outcome, success or failure, lands in the item store. A failure in any
// stage marks the item failed with the reason in its metadata; nothing
// propagates back to the dispatcher.
type Engine struct {
	cfg      Config
	items    capture.ItemStore
	scraper  capture.Scraper
	analyzer capture.Analyzer
	indexer  capture.Indexer
	archive  capture.BlobStore
	clock    capture.Clock
	logger   *zap.Logger
}

var _ capture.Processor = (*Engine)(nil)

// New builds an Engine. archive may be nil to disable raw-content archival.
func New(cfg Config, items capture.ItemStore, scraper capture.Scraper, analyzer capture.Analyzer, indexer capture.Indexer, archive capture.BlobStore, clock capture.Clock, logger *zap.Logger) *Engine {
	if cfg.AnalyzeMaxChars <= 0 {
		cfg.AnalyzeMaxChars = AnalyzeMaxChars
	}
	return &Engine{
		cfg:      cfg,
		items:    items,
		scraper:  scraper,
		analyzer: analyzer,
		indexer:  indexer,
		archive:  archive,
		clock:    clock,
		logger:   logger,
	}
}

// Process runs the full pipeline for one item.
func (e *Engine) Process(ctx context.Context, itemID, url, rawContent string) {
	started := e.clock.Now()
	finalStatus := string(capture.StatusFailed)

	metrics.PipelineStarted()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline panicked",
				zap.String("item_id", itemID),
				zap.Any("panic", r),
			)
			e.fail(ctx, itemID, fmt.Sprintf("internal error: %v", r))
		}
		metrics.PipelineFinished()
		metrics.ObserveItemProcessed(finalStatus, e.clock.Now().Sub(started))
	}()

	logger := e.logger.With(zap.String("item_id", itemID))
	logger.Info("pipeline started", zap.String("url", url))

	if err := e.items.SetStatus(ctx, itemID, capture.StatusProcessing); err != nil {
		logger.Error("cannot mark item processing", zap.Error(err))
		return
	}

	content, scrapedTitle, provenance, ok := e.acquire(ctx, logger, itemID, url, rawContent)
	if !ok {
		return
	}

	if uri := e.archiveContent(ctx, logger, itemID, content); uri != "" {
		provenance["archive_uri"] = uri
	}

	analysis, provider, err := e.analyzer.Analyze(ctx, truncate(content, e.cfg.AnalyzeMaxChars))
	if err != nil {
		logger.Warn("analysis failed", zap.Error(err))
		e.fail(ctx, itemID, fmt.Sprintf("AI analysis failed: %v", err))
		return
	}
	provenance["ai_provider"] = provider
	provenance["word_count"] = len(strings.Fields(content))
	if analysis.Sentiment != "" {
		provenance["sentiment"] = analysis.Sentiment
	}
	if len(analysis.KeyPoints) > 0 {
		provenance["key_points"] = analysis.KeyPoints
	}
	if len(analysis.Entities) > 0 {
		provenance["entities"] = analysis.Entities
	}

	results := capture.ItemResults{
		Title:            pickTitle(analysis.Title, scrapedTitle),
		Summary:          analysis.Summary,
		ProcessedContent: content,
		Metadata:         provenance,
	}
	if err := e.items.SaveResults(ctx, itemID, results); err != nil {
		logger.Error("cannot persist results", zap.Error(err))
		e.fail(ctx, itemID, fmt.Sprintf("persisting results failed: %v", err))
		return
	}

	if len(analysis.Tags) > 0 {
		if err := e.items.LinkTags(ctx, itemID, analysis.Tags); err != nil {
			// Tags are a convenience; the item itself is intact.
			logger.Warn("linking tags failed", zap.Error(err))
		}
	}

	if !e.index(ctx, logger, itemID, results, analysis.Tags) {
		return
	}

	if err := e.items.SetStatus(ctx, itemID, capture.StatusCompleted); err != nil {
		logger.Error("cannot mark item completed", zap.Error(err))
		return
	}

	finalStatus = string(capture.StatusCompleted)
	logger.Info("pipeline completed",
		zap.String("provider", provider),
		zap.Duration("elapsed", e.clock.Now().Sub(started)),
	)
}

// acquire produces the working text: raw content verbatim when present,
// otherwise the scraper chain. Returns ok=false after marking the item
// failed.
func (e *Engine) acquire(ctx context.Context, logger *zap.Logger, itemID, url, rawContent string) (content, title string, provenance map[string]any, ok bool) {
	if strings.TrimSpace(rawContent) != "" {
		return rawContent, titleFromRaw(rawContent), map[string]any{"scraper": "direct"}, true
	}

	if url == "" {
		e.fail(ctx, itemID, "item has neither a URL nor raw content")
		return "", "", nil, false
	}

	res, err := e.scraper.Scrape(ctx, url)
	if err != nil {
		logger.Warn("scrape failed", zap.String("url", url), zap.Error(err))
		e.fail(ctx, itemID, fmt.Sprintf("no content retrieved from %s: %v", url, err))
		return "", "", nil, false
	}

	provenance = map[string]any{
		"scraper":    res.Fetcher,
		"fetched_at": res.FetchedAt,
	}
	return res.Content, res.Title, provenance, true
}

// archiveContent stores the working text in the blob archive. Best-effort:
// archival failure never fails the item.
func (e *Engine) archiveContent(ctx context.Context, logger *zap.Logger, itemID, content string) string {
	if e.archive == nil {
		return ""
	}
	uri, err := e.archive.PutObject(ctx, itemID+".txt", "text/plain; charset=utf-8", []byte(content))
	if err != nil {
		logger.Warn("content archival failed", zap.Error(err))
		return ""
	}
	return uri
}

// index runs the embedding/lexical stage. A lexical failure fails the item;
// a missing embedding is only noted in metadata.
func (e *Engine) index(ctx context.Context, logger *zap.Logger, itemID string, results capture.ItemResults, tags []string) bool {
	item := capture.Item{
		ID:               itemID,
		Title:            results.Title,
		Summary:          results.Summary,
		ProcessedContent: results.ProcessedContent,
		Tags:             tags,
	}
	report, err := e.indexer.Index(ctx, item)
	if err != nil {
		logger.Error("indexing failed", zap.Error(err))
		e.fail(ctx, itemID, fmt.Sprintf("indexing failed: %v", err))
		return false
	}
	if report.EmbeddingError != nil {
		note := map[string]any{"embedding_error": report.EmbeddingError.Error()}
		if err := e.items.MergeMetadata(ctx, itemID, note); err != nil {
			logger.Warn("cannot record embedding omission", zap.Error(err))
		}
	}
	return true
}

// fail marks the item failed with the reason in metadata.error.
func (e *Engine) fail(ctx context.Context, itemID, reason string) {
	if err := e.items.MarkFailed(ctx, itemID, reason); err != nil {
		e.logger.Error("cannot mark item failed",
			zap.String("item_id", itemID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// titleFromRaw uses the first line of raw text as the title when it looks
// like one.
func titleFromRaw(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimSpace(line)
	if len(line) < minTitleChars || len(line) > maxTitleChars {
		return ""
	}
	return line
}

func pickTitle(analysisTitle, scrapedTitle string) string {
	if strings.TrimSpace(analysisTitle) != "" {
		return strings.TrimSpace(analysisTitle)
	}
	return strings.TrimSpace(scrapedTitle)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
