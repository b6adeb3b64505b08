// Package gemini implements capture.Provider on Google's Gemini API.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/keepsake-labs/keepsake/internal/airouter"
	"github.com/keepsake-labs/keepsake/internal/capture"
)

// ProviderName identifies this provider in routing decisions and metadata.
const ProviderName = "gemini"

// Config controls the Gemini client.
type Config struct {
	APIKey          string
	Model           string
	EmbeddingModel  string
	CostPer1KTokens float64
}

// Provider implements capture.Provider using the official Gemini SDK.
type Provider struct {
	cfg    Config
	client *genai.Client
}

var _ capture.Provider = (*Provider)(nil)

// New builds a Provider. The caller owns the lifecycle and should call Close.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("gemini embedding model is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{cfg: cfg, client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return ProviderName }

// Capabilities reports the static capability/cost record for routing.
func (p *Provider) Capabilities() capture.Capabilities {
	return capture.Capabilities{
		MaxTokens:         1000000,
		SupportsStreaming: true,
		SupportsVision:    true,
		SupportsEmbedding: true,
		CostPer1KTokens:   p.cfg.CostPer1KTokens,
		BaseLatency:       700 * time.Millisecond,
	}
}

// Analyze runs the summarization/extraction prompt with a JSON response type.
func (p *Provider) Analyze(ctx context.Context, content string) (capture.Analysis, error) {
	model := p.client.GenerativeModel(p.cfg.Model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.0)

	resp, err := model.GenerateContent(ctx, genai.Text(airouter.AnalysisPrompt(content)))
	if err != nil {
		return capture.Analysis{}, fmt.Errorf("gemini generate: %w", err)
	}
	raw, err := textFromResponse(resp)
	if err != nil {
		return capture.Analysis{}, err
	}
	return airouter.ParseAnalysis(raw)
}

// Embed generates one embedding vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.cfg.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini returned an empty embedding")
	}
	return res.Embedding.Values, nil
}

// Complete answers a plain prompt, used for task classification.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	model := p.client.GenerativeModel(p.cfg.Model)
	model.SetTemperature(0.0)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini complete: %w", err)
	}
	return textFromResponse(resp)
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text parts")
	}
	return sb.String(), nil
}
