package store

import "fmt"

// embeddingsSchemaSQL returns the DDL for the embedding container.
// embeddingDim controls the vec0 virtual table dimension.
func embeddingsSchemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Container metadata (embedding dimension, jurisdiction)
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Embedding vectors keyed by graph node id
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY,
    node_id TEXT NOT NULL UNIQUE,
    vector BLOB NOT NULL
);

-- KNN index over the same vectors via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(
    embedding_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);
`, embeddingDim)
}
