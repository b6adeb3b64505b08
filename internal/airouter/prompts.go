package airouter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

// AnalysisPrompt builds the prompt shared by every text-generation provider.
// Providers are expected to run it in JSON mode where the API supports it.
func AnalysisPrompt(content string) string {
	return `Analyze the following content and respond with ONLY a JSON object with these keys:
"title" (a concise title, max 100 chars),
"summary" (3-5 sentence summary),
"tags" (array of up to 8 lowercase topic tags),
"key_points" (array of the main takeaways),
"entities" (array of notable people, organizations, and products),
"sentiment" (one of "positive", "neutral", "negative").

Content:
` + content
}

// ClassifyPrompt asks a model to grade task complexity for the enhanced
// router. The expected answer is a single word.
func ClassifyPrompt(content string) string {
	return fmt.Sprintf(`Classify the complexity of summarizing the following content.
Respond with exactly one word: simple, moderate, complex, or expert.

Content (truncated):
%s`, truncate(content, 1500))
}

// ParseAnalysis decodes a model's JSON answer, tolerating the markdown code
// fences some models wrap responses in.
func ParseAnalysis(raw string) (capture.Analysis, error) {
	cleaned := StripFences(raw)

	var out capture.Analysis
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return capture.Analysis{}, fmt.Errorf("parse analysis response: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return capture.Analysis{}, fmt.Errorf("analysis response missing summary")
	}
	out.Tags = normalizeTags(out.Tags)
	out.Sentiment = strings.ToLower(strings.TrimSpace(out.Sentiment))
	return out, nil
}

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// normalizeTags lowercases, trims, and deduplicates while keeping order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
