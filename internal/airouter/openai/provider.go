// Package openai implements capture.Provider against OpenAI-compatible APIs.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/keepsake-labs/keepsake/internal/airouter"
	"github.com/keepsake-labs/keepsake/internal/capture"
)

// ProviderName identifies this provider in routing decisions and metadata.
const ProviderName = "openai"

// Config controls the OpenAI-compatible client. BaseURL may point at any
// OpenAI-compatible service, including local ones.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	EmbeddingModel  string
	CostPer1KTokens float64
}

// Provider implements capture.Provider using langchaingo's OpenAI client.
type Provider struct {
	cfg      Config
	llm      *lcopenai.LLM
	embedder embeddings.Embedder
}

var _ capture.Provider = (*Provider)(nil)

// New builds a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("openai embedding model is required")
	}
	opts := []lcopenai.Option{
		lcopenai.WithToken(cfg.APIKey),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}

	return &Provider{cfg: cfg, llm: client, embedder: embedder}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return ProviderName }

// Capabilities reports the static capability/cost record for routing.
func (p *Provider) Capabilities() capture.Capabilities {
	return capture.Capabilities{
		MaxTokens:         128000,
		SupportsStreaming: true,
		SupportsVision:    true,
		SupportsEmbedding: true,
		CostPer1KTokens:   p.cfg.CostPer1KTokens,
		BaseLatency:       500 * time.Millisecond,
	}
}

// Analyze runs the summarization/extraction prompt in JSON mode.
func (p *Provider) Analyze(ctx context.Context, content string) (capture.Analysis, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(airouter.AnalysisPrompt(content))},
		},
	}
	resp, err := p.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.0), llms.WithJSONMode())
	if err != nil {
		return capture.Analysis{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return capture.Analysis{}, fmt.Errorf("openai returned no choices")
	}
	return airouter.ParseAnalysis(resp.Choices[0].Content)
}

// Embed generates one embedding vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings")
	}
	return vectors[0], nil
}

// Complete answers a plain prompt, used for task classification.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, llms.WithTemperature(0.0))
	if err != nil {
		return "", fmt.Errorf("openai complete: %w", err)
	}
	return out, nil
}
