package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

// CreateItem inserts a pending item and fires the item-created notification
// in the same transaction, so the notification cannot outrun the row.
func (s *Store) CreateItem(ctx context.Context, item capture.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	metadata, err := marshalMetadata(item.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create item: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
INSERT INTO items (id, url, raw_content, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())`
	if _, err := tx.Exec(ctx, insert, item.ID, item.URL, item.RawContent, string(capture.StatusPending), metadata); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, item.ID); err != nil {
		return fmt.Errorf("notify item created: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create item: %w", err)
	}
	return nil
}

// GetItem loads one item with its tag names.
func (s *Store) GetItem(ctx context.Context, id string) (capture.Item, error) {
	const query = `
SELECT i.id, i.url, i.raw_content, i.processed_content, i.title, i.summary,
       i.status, i.metadata, i.created_at, i.updated_at,
       COALESCE(array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
FROM items i
LEFT JOIN item_tags it ON it.item_id = i.id
LEFT JOIN tags t ON t.id = it.tag_id
WHERE i.id = $1
GROUP BY i.id`

	var (
		item     capture.Item
		status   string
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.URL, &item.RawContent, &item.ProcessedContent,
		&item.Title, &item.Summary, &status, &metadata,
		&item.CreatedAt, &item.UpdatedAt, &item.Tags,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return capture.Item{}, fmt.Errorf("select item %s: %w", id, err)
	}

	item.Status = capture.ItemStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return capture.Item{}, fmt.Errorf("decode item %s metadata: %w", id, err)
		}
	}
	return item, nil
}

// SetStatus updates the lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id string, status capture.ItemStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("set item %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveResults persists the derived fields. Metadata merges into the existing
// jsonb document so earlier keys survive.
func (s *Store) SaveResults(ctx context.Context, id string, results capture.ItemResults) error {
	metadata, err := marshalMetadata(results.Metadata)
	if err != nil {
		return err
	}
	const update = `
UPDATE items
SET title = $2, summary = $3, processed_content = $4,
    metadata = metadata || $5::jsonb, updated_at = now()
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, update, id, results.Title, results.Summary, results.ProcessedContent, metadata)
	if err != nil {
		return fmt.Errorf("save item %s results: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed sets status failed and records the reason under metadata.error.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	metadata, err := marshalMetadata(map[string]any{"error": reason})
	if err != nil {
		return err
	}
	const update = `
UPDATE items
SET status = $2, metadata = metadata || $3::jsonb, updated_at = now()
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, update, id, string(capture.StatusFailed), metadata)
	if err != nil {
		return fmt.Errorf("mark item %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// MergeMetadata folds keys into the item's metadata document.
func (s *Store) MergeMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if len(metadata) == 0 {
		return nil
	}
	encoded, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET metadata = metadata || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, encoded,
	)
	if err != nil {
		return fmt.Errorf("merge item %s metadata: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// LinkTags ensures each tag exists and links it to the item. Both steps are
// idempotent, so re-processing an item never duplicates tags.
func (s *Store) LinkTags(ctx context.Context, id string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin link tags: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, name := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO tags (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
			uuid.NewString(), name,
		); err != nil {
			return fmt.Errorf("upsert tag %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO item_tags (item_id, tag_id)
SELECT $1, id FROM tags WHERE name = $2
ON CONFLICT DO NOTHING`,
			id, name,
		); err != nil {
			return fmt.Errorf("link tag %q: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit link tags: %w", err)
	}
	return nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return encoded, nil
}
