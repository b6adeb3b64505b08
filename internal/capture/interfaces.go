package capture

import (
	"context"
	"time"
)

// ItemStore persists items, their derived results, and tag links.
type ItemStore interface {
	CreateItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id string) (Item, error)
	SetStatus(ctx context.Context, id string, status ItemStatus) error
	SaveResults(ctx context.Context, id string, results ItemResults) error
	MarkFailed(ctx context.Context, id string, reason string) error
	MergeMetadata(ctx context.Context, id string, metadata map[string]any) error
	LinkTags(ctx context.Context, id string, tags []string) error
}

// EmbeddingStore persists model-versioned vectors.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, emb Embedding) error
	GetEmbeddings(ctx context.Context, itemIDs []string, modelName string) (map[string][]float32, error)
}

// LexicalIndexer rebuilds an item's full-text index from its current row and
// tag names, replacing the previous index atomically.
type LexicalIndexer interface {
	RebuildIndex(ctx context.Context, itemID string) error
}

// Fetcher fetches one URL and returns extracted content plus metadata.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, url string) (ScrapeResult, error)
}

// Scraper runs the fetcher fallback chain.
type Scraper interface {
	Scrape(ctx context.Context, url string) (ScrapeResult, error)
}

// Provider is one AI backend the router can dispatch tasks to.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Analyze(ctx context.Context, content string) (Analysis, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Analyzer is the router surface the capture engine depends on for the
// text-generation task. The returned string names the provider that served
// the call, for provenance metadata.
type Analyzer interface {
	Analyze(ctx context.Context, content string) (Analysis, string, error)
}

// Embedder is the router surface the indexing stage depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

// Indexer runs the embedding/lexical indexing stage for one item.
type Indexer interface {
	Index(ctx context.Context, item Item) (IndexReport, error)
}

// Processor runs the full pipeline for one item. Results are observable only
// by reading the item back; Process never returns a value.
type Processor interface {
	Process(ctx context.Context, itemID, url, rawContent string)
}

// BlobStore archives raw fetched artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Listener is one subscription to the item-created notification channel.
type Listener interface {
	// Next blocks until a notification payload (an item id) arrives or the
	// context finishes.
	Next(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
