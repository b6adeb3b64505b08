// Package search implements hybrid retrieval over captured items, blending
// lexical full-text rank with semantic vector similarity.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

// Weights for combining the two signals when both are available.
const (
	semanticWeight = 0.7
	lexicalWeight  = 0.3
)

// DefaultLimit bounds result sets when the caller does not specify one.
const DefaultLimit = 20

// Candidate is one lexical hit with its full-text rank.
type Candidate struct {
	Item capture.Item
	Rank float64
}

// CandidateStore supplies the lexical candidate set for a query.
type CandidateStore interface {
	LexicalCandidates(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// Searcher runs hybrid queries. The lexical index supplies the candidate
// set; semantic similarity reranks it. When the query embedding cannot be
// produced the lexical ranking stands on its own.
type Searcher struct {
	candidates CandidateStore
	embeddings capture.EmbeddingStore
	embedder   capture.Embedder
	logger     *zap.Logger
}

// New builds a Searcher.
func New(candidates CandidateStore, embeddings capture.EmbeddingStore, embedder capture.Embedder, logger *zap.Logger) *Searcher {
	return &Searcher{candidates: candidates, embeddings: embeddings, embedder: embedder, logger: logger}
}

// Search returns up to limit items ranked by the combined score.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]capture.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	// Over-fetch lexically so semantic reranking has room to promote hits.
	candidates, err := s.candidates.LexicalCandidates(ctx, query, limit*3)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	if len(candidates) == 0 {
		return []capture.SearchResult{}, nil
	}

	results := lexicalResults(candidates)

	if vectors, queryVec, ok := s.semanticSignal(ctx, query, candidates); ok {
		for i := range results {
			vec, found := vectors[results[i].Item.ID]
			if !found {
				// No stored vector for this item; its lexical rank is
				// the whole score.
				results[i].Combined = results[i].Lexical
				continue
			}
			results[i].Semantic = cosineSimilarity(queryVec, vec)
			results[i].Combined = semanticWeight*results[i].Semantic + lexicalWeight*results[i].Lexical
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Combined > results[j].Combined
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// semanticSignal embeds the query and fetches stored vectors for the
// candidate set. Any failure degrades the search to lexical-only.
func (s *Searcher) semanticSignal(ctx context.Context, query string, candidates []Candidate) (map[string][]float32, []float32, bool) {
	queryVec, model, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding unavailable, lexical-only search", zap.Error(err))
		return nil, nil, false
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Item.ID
	}
	vectors, err := s.embeddings.GetEmbeddings(ctx, ids, model)
	if err != nil {
		s.logger.Warn("stored embeddings unavailable, lexical-only search", zap.Error(err))
		return nil, nil, false
	}
	return vectors, queryVec, true
}

// lexicalResults normalizes full-text ranks into [0, 1] relative to the best
// candidate so they can be blended with cosine similarity.
func lexicalResults(candidates []Candidate) []capture.SearchResult {
	maxRank := 0.0
	for _, c := range candidates {
		if c.Rank > maxRank {
			maxRank = c.Rank
		}
	}

	results := make([]capture.SearchResult, len(candidates))
	for i, c := range candidates {
		lex := 0.0
		if maxRank > 0 {
			lex = c.Rank / maxRank
		}
		results[i] = capture.SearchResult{Item: c.Item, Lexical: lex, Combined: lex}
	}
	return results
}

// cosineSimilarity returns 1 minus the cosine distance of two vectors, 0 when
// either has no magnitude or the dimensions disagree.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
