package embed

import (
	"context"
	"encoding/json"

	"github.com/hunterwarburton/ragstore/internal/cache"
	"github.com/hunterwarburton/ragstore/internal/core"
	"github.com/hunterwarburton/ragstore/internal/logger"
)

// Embedder is the cache-checked embedding service used by the ingest
// pipeline and the query engine. Per-text results are read through the
// two-tier cache; misses go to the inference service in batches; when
// that fails the deterministic fallback takes over and the results are
// flagged as degraded.
type Embedder struct {
	remote   core.EmbedService
	fallback *Fallback
	cache    core.Cache
	model    string
}

var _ core.EmbedService = (*Embedder)(nil)

// NewEmbedder composes the remote client, the fallback, and the cache.
// remote may be nil to run in permanently degraded mode (dev setups
// without an inference service).
func NewEmbedder(remote core.EmbedService, fallback *Fallback, c core.Cache, model string) *Embedder {
	return &Embedder{
		remote:   remote,
		fallback: fallback,
		cache:    c,
		model:    model,
	}
}

// Dimension returns the vector dimensionality of the active service.
func (e *Embedder) Dimension() int {
	if e.remote != nil {
		return e.remote.Dimension()
	}
	return e.fallback.Dimension()
}

// EmbedBatch embeds all texts in input order. It never fails outright:
// inference errors degrade to fallback vectors, which are not cached so
// real embeddings replace them once the service recovers.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([]core.Embedding, error) {
	results := make([]core.Embedding, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		key := cache.EmbeddingKey(e.model, text)
		raw, ok := e.cache.Get(ctx, key)
		if ok {
			var vec []float32
			if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
				results[i] = core.Embedding{Vector: vec}
				continue
			}
			logger.Warn("embed: undecodable cache entry %s, recomputing", key)
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := e.embedMisses(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		if fresh[j].Degraded {
			continue
		}
		raw, err := json.Marshal(fresh[j].Vector)
		if err != nil {
			continue
		}
		e.cache.Set(ctx, cache.EmbeddingKey(e.model, missTexts[j]), raw, 0)
	}
	return results, nil
}

func (e *Embedder) embedMisses(ctx context.Context, texts []string) ([]core.Embedding, error) {
	if e.remote == nil {
		logger.Debug("embed: no inference service configured, using fallback for %d texts", len(texts))
		return e.fallback.EmbedBatch(ctx, texts)
	}

	fresh, err := e.remote.EmbedBatch(ctx, texts)
	if err == nil {
		return fresh, nil
	}
	if ctx.Err() != nil {
		// Cancellation is the caller's decision, not a degraded mode.
		return nil, err
	}
	logger.Warn("embed: inference service failed for %d texts, degrading to fallback: %v", len(texts), err)
	return e.fallback.EmbedBatch(ctx, texts)
}
