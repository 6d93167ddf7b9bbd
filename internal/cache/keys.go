package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/hunterwarburton/ragstore/internal/core"
)

// Key namespaces. Query results live under one namespace so a document
// change can invalidate all of them with a single pattern.
const (
	embeddingKeyPrefix = "emb:"
	queryKeyPrefix     = "query:"

	// QueryKeyPattern matches every cached query result.
	QueryKeyPattern = queryKeyPrefix + "*"
)

// EmbeddingKey builds the cache key for one text under one model.
// Different models never collide.
func EmbeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return embeddingKeyPrefix + model + ":" + hex.EncodeToString(sum[:])
}

// queryKeyParams is the canonical form hashed into a query cache key.
// It carries every parameter that can change the answer: query text,
// limit, filters, context, and the reranking flag. SessionID is
// deliberately absent; two sessions asking the same question share an
// entry.
type queryKeyParams struct {
	Query           string                 `json:"query"`
	Limit           int                    `json:"limit"`
	Filters         map[string]interface{} `json:"filters,omitempty"`
	Context         string                 `json:"context,omitempty"`
	EnableReranking bool                   `json:"enable_reranking"`
}

// QueryKey builds the cache key for a query request. Map keys are
// sorted by the JSON encoder, so equal filter maps hash equally.
func QueryKey(req core.QueryRequest) string {
	canonical, err := json.Marshal(queryKeyParams{
		Query:           req.Query,
		Limit:           req.Limit,
		Filters:         req.Filters,
		Context:         req.Context,
		EnableReranking: req.EnableReranking,
	})
	if err != nil {
		// Maps of JSON-able values cannot fail to marshal; fall back to
		// the raw query text if something unexpected slips in.
		canonical = []byte(req.Query)
	}
	sum := sha256.Sum256(canonical)
	return queryKeyPrefix + hex.EncodeToString(sum[:])
}
