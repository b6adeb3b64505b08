package postgres

import (
	"context"
	"fmt"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

// UpsertEmbedding stores one vector keyed by (item, model, version). A
// re-embed under the same key replaces the vector; other versions coexist.
func (s *Store) UpsertEmbedding(ctx context.Context, emb capture.Embedding) error {
	if emb.ItemID == "" || emb.ModelName == "" {
		return fmt.Errorf("embedding item id and model name are required")
	}
	if len(emb.Vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	const upsert = `
INSERT INTO embeddings (item_id, model_name, model_version, vector, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (item_id, model_name, model_version)
DO UPDATE SET vector = EXCLUDED.vector, updated_at = now()`
	if _, err := s.pool.Exec(ctx, upsert, emb.ItemID, emb.ModelName, emb.ModelVersion, emb.Vector); err != nil {
		return fmt.Errorf("upsert embedding for item %s: %w", emb.ItemID, err)
	}
	return nil
}

// GetEmbeddings returns the stored vectors for the given items under one
// model. When multiple versions exist the most recently updated one wins.
func (s *Store) GetEmbeddings(ctx context.Context, itemIDs []string, modelName string) (map[string][]float32, error) {
	if len(itemIDs) == 0 {
		return map[string][]float32{}, nil
	}
	const query = `
SELECT item_id, vector
FROM embeddings
WHERE item_id = ANY($1) AND model_name = $2
ORDER BY updated_at ASC`

	rows, err := s.pool.Query(ctx, query, itemIDs, modelName)
	if err != nil {
		return nil, fmt.Errorf("select embeddings: %w", err)
	}
	defer rows.Close()

	vectors := make(map[string][]float32, len(itemIDs))
	for rows.Next() {
		var (
			itemID string
			vector []float32
		)
		if err := rows.Scan(&itemID, &vector); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		vectors[itemID] = vector
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return vectors, nil
}
