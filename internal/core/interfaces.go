package core

import (
	"context"
	"time"
)

// EmbedService turns texts into fixed-length vectors. Implementations
// must return exactly one Embedding per input text, in input order.
type EmbedService interface {
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)

	// Dimension reports the vector dimensionality this service produces.
	Dimension() int
}

// VectorStore is the thin adapter over the external similarity index.
type VectorStore interface {
	// EnsureCollection bootstraps the collection, vector index, and
	// payload indexes. Idempotent; not part of the request hot path.
	EnsureCollection(ctx context.Context) error

	// Upsert inserts or overwrites points keyed by chunk id.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit hits ordered by descending similarity,
	// with scores normalized to [0,1]. Filters match the indexed payload
	// fields (document_id, document_type, source, tags).
	Search(ctx context.Context, vector []float32, limit int, filters map[string]interface{}) ([]SearchHit, error)

	// DeleteByDocument removes every point belonging to the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	Close() error
}

// Cache is the two-tier read-through/write-through cache facade. Cache
// failures are never fatal: a broken tier behaves as a miss on read and
// is skipped on write.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Invalidate deletes every key matching the glob pattern in both tiers.
	Invalidate(ctx context.Context, pattern string)
}

// MetadataStore optionally persists Document and Chunk records in
// relational storage. The vector store alone is sufficient for
// retrieval; this exists for bookkeeping and future listing APIs.
type MetadataStore interface {
	SaveDocument(ctx context.Context, doc Document) error
	SaveChunks(ctx context.Context, chunks []Chunk) error
	DeleteDocument(ctx context.Context, documentID string) error
	Close() error
}
