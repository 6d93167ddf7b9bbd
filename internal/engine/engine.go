// Package engine answers retrieval queries: cache lookup, query
// embedding, vector search with over-fetch, and context-aware
// re-ranking.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hunterwarburton/ragstore/internal/cache"
	"github.com/hunterwarburton/ragstore/internal/core"
	"github.com/hunterwarburton/ragstore/internal/logger"
)

// Defaults for the scoring configuration.
const (
	DefaultBaseWeight    = 0.7
	DefaultContextWeight = 0.3
	DefaultLimit         = 5
	MaxLimit             = 100
)

// Config tunes scoring and caching. Zero values fall back to defaults
// in New.
type Config struct {
	// BaseWeight and ContextWeight blend the similarity scores during
	// re-ranking. They must sum to 1; invalid pairs are replaced by the
	// 0.7/0.3 defaults with a warning.
	BaseWeight    float64
	ContextWeight float64

	// SimilarityThreshold drops candidates whose normalized base score
	// falls below it, before re-ranking. Zero keeps everything.
	SimilarityThreshold float64

	// DefaultLimit applies when a request leaves Limit at zero.
	DefaultLimit int

	// CacheTTL is the lifetime of cached query responses. Zero uses the
	// cache's own defaults.
	CacheTTL time.Duration
}

// Engine executes queries against the vector store with embedding and
// response caching in front of it.
type Engine struct {
	embedder core.EmbedService
	store    core.VectorStore
	cache    core.Cache
	cfg      Config
}

// New creates a query engine. cache may be nil, which disables
// response caching.
func New(embedder core.EmbedService, store core.VectorStore, c core.Cache, cfg Config) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.BaseWeight == 0 && cfg.ContextWeight == 0 {
		cfg.BaseWeight = DefaultBaseWeight
		cfg.ContextWeight = DefaultContextWeight
	}
	if sum := cfg.BaseWeight + cfg.ContextWeight; math.Abs(sum-1.0) > 1e-6 ||
		cfg.BaseWeight < 0 || cfg.ContextWeight < 0 {
		logger.Warn("engine: rerank weights %.3f/%.3f do not sum to 1, using %.1f/%.1f",
			cfg.BaseWeight, cfg.ContextWeight, DefaultBaseWeight, DefaultContextWeight)
		cfg.BaseWeight = DefaultBaseWeight
		cfg.ContextWeight = DefaultContextWeight
	}
	return &Engine{embedder: embedder, store: store, cache: c, cfg: cfg}
}

// Query answers a retrieval request. Responses come from the cache when
// an equivalent request was answered recently; otherwise the query text
// is embedded, the store searched (over-fetched 2x when a context will
// re-rank), candidates below the similarity threshold dropped, scores
// blended against the context embedding, and the final ranking cached.
// An empty result set is a valid answer, not an error.
func (e *Engine) Query(ctx context.Context, req core.QueryRequest) (*core.QueryResponse, error) {
	started := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query text is empty", core.ErrValidation)
	}
	if req.Limit < 0 || req.Limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit %d out of range [0,%d]", core.ErrValidation, req.Limit, MaxLimit)
	}
	if req.Limit == 0 {
		req.Limit = e.cfg.DefaultLimit
	}

	key := cache.QueryKey(req)
	if resp, ok := e.cachedResponse(ctx, key); ok {
		resp.Cached = true
		resp.ElapsedMs = time.Since(started).Milliseconds()
		return resp, nil
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryEmb := embeddings[0]

	rerank := req.EnableReranking && strings.TrimSpace(req.Context) != ""
	fetchLimit := req.Limit
	if rerank {
		// Over-fetch so re-ranking can promote candidates that sit just
		// outside the requested window.
		fetchLimit = req.Limit * 2
	}

	hits, err := e.store.Search(ctx, queryEmb.Vector, fetchLimit, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits = e.applyThreshold(hits)

	resp := &core.QueryResponse{
		Results:  make([]core.QueryResultItem, 0, len(hits)),
		Degraded: queryEmb.Degraded,
	}

	for _, hit := range hits {
		resp.Results = append(resp.Results, core.QueryResultItem{
			ChunkID:    hit.ChunkID,
			Content:    hit.Payload.Text,
			BaseScore:  hit.Score,
			FinalScore: hit.Score,
			Metadata:   hit.Payload.Metadata,
		})
	}

	if rerank && len(hits) > 0 {
		degraded, err := e.rerankWithContext(ctx, req.Context, hits, resp.Results)
		if err != nil {
			return nil, err
		}
		resp.Reranked = true
		resp.ContextUsed = true
		resp.Degraded = resp.Degraded || degraded
	}

	if len(resp.Results) > req.Limit {
		resp.Results = resp.Results[:req.Limit]
	}
	resp.TotalResults = len(resp.Results)
	resp.ElapsedMs = time.Since(started).Milliseconds()

	e.storeResponse(ctx, key, resp)
	return resp, nil
}

// rerankWithContext blends each candidate's base score with its
// similarity to the context embedding and re-sorts. The sort is stable
// so equal final scores keep their base-score order.
func (e *Engine) rerankWithContext(ctx context.Context, contextText string, hits []core.SearchHit, results []core.QueryResultItem) (bool, error) {
	embeddings, err := e.embedder.EmbedBatch(ctx, []string{contextText})
	if err != nil {
		return false, fmt.Errorf("embedding context: %w", err)
	}
	contextEmb := embeddings[0]

	for i := range results {
		contextScore := contextSimilarity(contextEmb.Vector, hits[i].Vector)
		results[i].ContextScore = contextScore
		results[i].FinalScore = e.cfg.BaseWeight*results[i].BaseScore +
			e.cfg.ContextWeight*contextScore
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].FinalScore > results[b].FinalScore
	})
	return contextEmb.Degraded, nil
}

func (e *Engine) applyThreshold(hits []core.SearchHit) []core.SearchHit {
	if e.cfg.SimilarityThreshold <= 0 {
		return hits
	}
	kept := hits[:0]
	for _, hit := range hits {
		if hit.Score >= e.cfg.SimilarityThreshold {
			kept = append(kept, hit)
		}
	}
	return kept
}

func (e *Engine) cachedResponse(ctx context.Context, key string) (*core.QueryResponse, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok := e.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var resp core.QueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Warn("engine: dropping undecodable cached response %s: %v", key, err)
		return nil, false
	}
	return &resp, true
}

func (e *Engine) storeResponse(ctx context.Context, key string, resp *core.QueryResponse) {
	if e.cache == nil {
		return
	}
	// Same rule as the embedding tier: fallback-quality answers are
	// never cached, so a recovered inference service replaces them on
	// the next ask instead of after the TTL.
	if resp.Degraded {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("engine: failed to encode response for caching: %v", err)
		return
	}
	e.cache.Set(ctx, key, data, e.cfg.CacheTTL)
}

// contextSimilarity is cosine similarity normalized to [0,1]. A
// zero-magnitude vector on either side contributes nothing, so the
// final score degrades toward the base score instead of an arbitrary
// midpoint.
func contextSimilarity(a, b []float32) float64 {
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
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	score := (cos + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
