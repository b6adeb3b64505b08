// Package index runs the post-analysis indexing stage: semantic embedding
// storage and the lexical search index rebuild.
package index

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/metrics"
)

// EmbedMaxChars is the default cap on how much item text is sent to the
// embedding model.
const EmbedMaxChars = 2000

// Config controls the stage.
type Config struct {
	// ModelVersion is recorded alongside every stored vector so that
	// re-embedding after a model upgrade never overwrites older vectors.
	ModelVersion string
	// MaxChars caps the embedded text; EmbedMaxChars when zero.
	MaxChars int
}

// Stage implements capture.Indexer. The lexical rebuild is load-bearing for
// search and is retried once before the stage reports failure; the embedding
// write is best-effort and its error is carried in the report instead.
type Stage struct {
	cfg      Config
	embedder capture.Embedder
	store    capture.EmbeddingStore
	lexical  capture.LexicalIndexer
	logger   *zap.Logger
}

var _ capture.Indexer = (*Stage)(nil)

// New builds a Stage.
func New(cfg Config, embedder capture.Embedder, store capture.EmbeddingStore, lexical capture.LexicalIndexer, logger *zap.Logger) *Stage {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = EmbedMaxChars
	}
	return &Stage{cfg: cfg, embedder: embedder, store: store, lexical: lexical, logger: logger}
}

// Index embeds the item and rebuilds its lexical index entry. A lexical
// failure after retry is returned as an error; an embedding failure is not.
func (s *Stage) Index(ctx context.Context, item capture.Item) (capture.IndexReport, error) {
	report := capture.IndexReport{ModelVersion: s.cfg.ModelVersion}

	text := embeddingText(item, s.cfg.MaxChars)
	if text == "" {
		report.EmbeddingError = fmt.Errorf("item %s has no text to embed", item.ID)
	} else if err := s.storeEmbedding(ctx, item.ID, text, &report); err != nil {
		report.EmbeddingError = err
	}
	if report.EmbeddingError != nil {
		s.logger.Warn("embedding skipped",
			zap.String("item_id", item.ID),
			zap.Error(report.EmbeddingError),
		)
	}

	if err := s.rebuildLexical(ctx, item.ID); err != nil {
		return report, fmt.Errorf("rebuild lexical index for item %s: %w", item.ID, err)
	}
	return report, nil
}

func (s *Stage) storeEmbedding(ctx context.Context, itemID, text string, report *capture.IndexReport) error {
	vector, model, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	emb := capture.Embedding{
		ItemID:       itemID,
		ModelName:    model,
		ModelVersion: s.cfg.ModelVersion,
		Vector:       vector,
	}
	if err := s.store.UpsertEmbedding(ctx, emb); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	report.EmbeddingStored = true
	report.ModelName = model
	metrics.ObserveEmbeddingStored()
	return nil
}

// rebuildLexical retries once: a transient database hiccup should not fail
// the whole item.
func (s *Stage) rebuildLexical(ctx context.Context, itemID string) error {
	err := s.lexical.RebuildIndex(ctx, itemID)
	if err == nil {
		return nil
	}
	s.logger.Warn("lexical index rebuild failed, retrying once",
		zap.String("item_id", itemID),
		zap.Error(err),
	)
	return s.lexical.RebuildIndex(ctx, itemID)
}

// embeddingText assembles the text sent to the embedding model. Title and
// summary carry the most signal, so they lead and survive truncation.
func embeddingText(item capture.Item, maxChars int) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{item.Title, item.Summary, item.ProcessedContent} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	text := strings.Join(parts, "\n\n")
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}
