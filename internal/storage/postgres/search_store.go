package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/search"
)

var (
	_ capture.ItemStore      = (*Store)(nil)
	_ capture.EmbeddingStore = (*Store)(nil)
	_ capture.LexicalIndexer = (*Store)(nil)
	_ search.CandidateStore  = (*Store)(nil)
)

// RebuildIndex recomputes the item's search vector from its current title,
// summary, processed content, and tag names. The single UPDATE replaces the
// previous vector atomically.
func (s *Store) RebuildIndex(ctx context.Context, itemID string) error {
	const update = `
UPDATE items
SET search_vector = to_tsvector('english',
        coalesce(title, '') || ' ' ||
        coalesce(summary, '') || ' ' ||
        coalesce(processed_content, '') || ' ' ||
        coalesce((
            SELECT string_agg(t.name, ' ')
            FROM item_tags it
            JOIN tags t ON t.id = it.tag_id
            WHERE it.item_id = items.id
        ), '')),
    updated_at = now()
WHERE id = $1`

	tag, err := s.pool.Exec(ctx, update, itemID)
	if err != nil {
		return fmt.Errorf("rebuild search index for item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return nil
}

// LexicalCandidates ranks completed items against the query with ts_rank.
func (s *Store) LexicalCandidates(ctx context.Context, query string, limit int) ([]search.Candidate, error) {
	const sql = `
SELECT i.id, i.url, i.title, i.summary, i.status, i.metadata,
       i.created_at, i.updated_at,
       ts_rank(i.search_vector, q)::float8
FROM items i, plainto_tsquery('english', $1) q
WHERE i.status = $2 AND i.search_vector @@ q
ORDER BY 9 DESC
LIMIT $3`

	rows, err := s.pool.Query(ctx, sql, query, string(capture.StatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var candidates []search.Candidate
	for rows.Next() {
		var (
			c        search.Candidate
			status   string
			metadata []byte
		)
		if err := rows.Scan(
			&c.Item.ID, &c.Item.URL, &c.Item.Title, &c.Item.Summary,
			&status, &metadata, &c.Item.CreatedAt, &c.Item.UpdatedAt, &c.Rank,
		); err != nil {
			return nil, fmt.Errorf("scan search candidate: %w", err)
		}
		c.Item.Status = capture.ItemStatus(status)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &c.Item.Metadata); err != nil {
				return nil, fmt.Errorf("decode candidate %s metadata: %w", c.Item.ID, err)
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search candidates: %w", err)
	}
	return candidates, nil
}
