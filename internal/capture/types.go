// Package capture defines core types shared across subsystems.
package capture

import "time"

// ItemStatus represents the lifecycle state of a captured item.
type ItemStatus string

// Item status values persisted in the item store. Status moves forward only;
// an external sweep may reset failed/stuck items back to pending for retry.
const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Item is the unit of captured content being enriched. Only one of URL and
// RawContent needs to be set; the pipeline derives everything else.
type Item struct {
	ID               string         `json:"id"`
	URL              string         `json:"url,omitempty"`
	RawContent       string         `json:"raw_content,omitempty"`
	ProcessedContent string         `json:"processed_content,omitempty"`
	Title            string         `json:"title,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	Status           ItemStatus     `json:"status"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ScrapeResult is the uniform result returned by every Fetcher.
type ScrapeResult struct {
	Content   string
	Title     string
	FetchedAt time.Time
	Fetcher   string
}

// Analysis holds everything the AI layer derives from working text in a
// single text-generation call.
type Analysis struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	KeyPoints []string `json:"key_points"`
	Entities  []string `json:"entities"`
	Sentiment string   `json:"sentiment"`
}

// TaskType classifies what an AI task needs from a provider.
type TaskType string

// Task types routed by the AI router.
const (
	TaskEmbedding      TaskType = "embedding"
	TaskTextGeneration TaskType = "text_generation"
	TaskVision         TaskType = "vision"
	TaskStreaming      TaskType = "streaming"
)

// Task describes one unit of AI work for routing purposes.
type Task struct {
	Type     TaskType
	Content  string
	Priority int
}

// Capabilities is the static capability/cost record for one AI provider.
type Capabilities struct {
	MaxTokens         int
	SupportsStreaming bool
	SupportsVision    bool
	SupportsEmbedding bool
	CostPer1KTokens   float64
	BaseLatency       time.Duration
}

// ProviderStats is a snapshot of one provider's in-memory health, exposed to
// the admin API for cost accounting. Not persisted; resets on restart.
type ProviderStats struct {
	Name            string  `json:"name"`
	Requests        int64   `json:"requests"`
	Failures        int64   `json:"failures"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	CostPer1KTokens float64 `json:"cost_per_1k_tokens"`
	Healthy         bool    `json:"healthy"`
}

// Embedding is a model-versioned vector for one item. Multiple model versions
// may coexist per item so re-embedding never destroys history.
type Embedding struct {
	ItemID       string
	ModelName    string
	ModelVersion string
	Vector       []float32
}

// ItemResults carries everything the capture engine persists after a
// successful analysis. Metadata is merged into the existing metadata map.
type ItemResults struct {
	Title            string
	Summary          string
	ProcessedContent string
	Metadata         map[string]any
}

// IndexReport describes what the embedding/indexing stage accomplished.
// Embedding is best-effort; a missing vector is noted, not fatal.
type IndexReport struct {
	EmbeddingStored bool
	EmbeddingError  error
	ModelName       string
	ModelVersion    string
}

// SearchResult is one hybrid search hit. Combined weighs semantic similarity
// at 70% and lexical rank at 30% when both signals are present.
type SearchResult struct {
	Item     Item    `json:"item"`
	Lexical  float64 `json:"lexical_rank"`
	Semantic float64 `json:"semantic_similarity"`
	Combined float64 `json:"score"`
}
