package core

import "fmt"

// Document represents a piece of ingested text and its open metadata.
// Documents are immutable once stored; re-ingestion under a new ID
// supersedes rather than mutates.
type Document struct {
	ID         string                 `json:"id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreateTime int64                  `json:"create_time"`
}

// Chunk is a contiguous segment of a document, the unit of embedding
// and retrieval. Index values are contiguous starting at 0.
type Chunk struct {
	DocumentID    string                 `json:"document_id"`
	Index         int                    `json:"index"`
	Text          string                 `json:"text"`
	TokenEstimate int                    `json:"token_estimate"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ID returns the stable identifier for the chunk, derived from its
// owning document and position. Re-ingesting the same document yields
// the same chunk IDs, which is what makes upserts idempotent.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s:%d", c.DocumentID, c.Index)
}

// Embedding is a fixed-length vector for one text, plus a flag telling
// whether it came from the real inference service or the deterministic
// fallback path.
type Embedding struct {
	Vector         []float32 `json:"vector"`
	Degraded       bool      `json:"degraded,omitempty"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
}

// Payload is the filterable metadata stored alongside each vector.
type Payload struct {
	DocumentID   string                 `json:"document_id"`
	ChunkIndex   int                    `json:"chunk_index"`
	Text         string                 `json:"text"`
	DocumentType string                 `json:"document_type,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Source       string                 `json:"source,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Point is one (chunk id, vector, payload) triple bound for the vector store.
type Point struct {
	ChunkID string
	Vector  []float32
	Payload Payload
}

// SearchHit is one result from the vector store, ordered by descending
// similarity. Score is cosine similarity normalized to [0,1]. The stored
// vector is returned so the query engine can score candidates against a
// context embedding without re-embedding them.
type SearchHit struct {
	ChunkID string
	Score   float64
	Vector  []float32
	Payload Payload
}

// QueryRequest carries everything that parameterizes a query. All fields
// that can change the answer participate in the cache key.
type QueryRequest struct {
	Query           string                 `json:"query"`
	Limit           int                    `json:"limit"`
	Filters         map[string]interface{} `json:"filters,omitempty"`
	Context         string                 `json:"context,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	EnableReranking bool                   `json:"enable_reranking"`
}

// QueryResultItem is one ranked chunk in a query response.
// FinalScore is the weighted blend of BaseScore and ContextScore when
// context was used, otherwise FinalScore == BaseScore.
type QueryResultItem struct {
	ChunkID      string                 `json:"chunk_id"`
	Content      string                 `json:"content"`
	BaseScore    float64                `json:"base_score"`
	ContextScore float64                `json:"context_score,omitempty"`
	FinalScore   float64                `json:"final_score"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// QueryResponse is the full answer to a query, including the flags that
// let callers distinguish cached, reranked, and degraded answers.
type QueryResponse struct {
	Results      []QueryResultItem `json:"results"`
	TotalResults int               `json:"total_results"`
	Reranked     bool              `json:"reranked"`
	ContextUsed  bool              `json:"context_used"`
	Cached       bool              `json:"cached"`
	Degraded     bool              `json:"degraded,omitempty"`
	ElapsedMs    int64             `json:"elapsed_ms"`
}

// IngestResult reports what happened to a document on ingest. When some
// chunk upserts fail, FailedIndexes names them; re-running ingest with
// the same document id repairs the partial state.
type IngestResult struct {
	DocumentID    string `json:"document_id"`
	ChunkCount    int    `json:"chunk_count"`
	ChunksFailed  int    `json:"chunks_failed,omitempty"`
	FailedIndexes []int  `json:"failed_indexes,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
}
