package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/ragstore/internal/cache"
	"github.com/hunterwarburton/ragstore/internal/core"
)

// mapEmbedder returns canned vectors per text so tests control the
// geometry exactly.
type mapEmbedder struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (m *mapEmbedder) EmbedBatch(_ context.Context, texts []string) ([]core.Embedding, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]core.Embedding, len(texts))
	for i, text := range texts {
		v, ok := m.vectors[text]
		if !ok {
			v = []float32{1, 0}
		}
		out[i] = core.Embedding{Vector: v}
	}
	return out, nil
}

func (m *mapEmbedder) Dimension() int { return 2 }

// degradableEmbedder simulates an inference service that starts out
// failing over to the fallback path and later recovers.
type degradableEmbedder struct {
	degraded bool
}

func (d *degradableEmbedder) EmbedBatch(_ context.Context, texts []string) ([]core.Embedding, error) {
	out := make([]core.Embedding, len(texts))
	for i := range texts {
		out[i] = core.Embedding{Vector: []float32{1, 0}, Degraded: d.degraded}
	}
	return out, nil
}

func (d *degradableEmbedder) Dimension() int { return 2 }

// fakeStore records each search's limit and returns canned hits.
type fakeStore struct {
	hits     []core.SearchHit
	searches []int
	err      error
}

func (f *fakeStore) EnsureCollection(context.Context) error { return nil }

func (f *fakeStore) Upsert(context.Context, []core.Point) error { return nil }

func (f *fakeStore) Search(_ context.Context, _ []float32, limit int, _ map[string]interface{}) ([]core.SearchHit, error) {
	f.searches = append(f.searches, limit)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeStore) DeleteByDocument(context.Context, string) error { return nil }

func (f *fakeStore) Close() error { return nil }

func hit(id string, score float64, vector []float32) core.SearchHit {
	return core.SearchHit{
		ChunkID: id,
		Score:   score,
		Vector:  vector,
		Payload: core.Payload{Text: "text for " + id},
	}
}

func newTestEngine(store *fakeStore, embedder core.EmbedService, cfg Config) (*Engine, core.Cache) {
	c := cache.NewTwoTier(cache.NewLRU(32, 0), nil, 0, 0)
	return New(embedder, store, c, cfg), c
}

func TestQueryValidation(t *testing.T) {
	e, _ := newTestEngine(&fakeStore{}, &mapEmbedder{}, Config{})

	cases := []core.QueryRequest{
		{Query: "", Limit: 5},
		{Query: "   ", Limit: 5},
		{Query: "ok", Limit: -1},
		{Query: "ok", Limit: MaxLimit + 1},
	}
	for _, req := range cases {
		_, err := e.Query(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrValidation, "request %+v", req)
	}
}

func TestQueryAppliesDefaultLimit(t *testing.T) {
	store := &fakeStore{}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{DefaultLimit: 3})

	_, err := e.Query(context.Background(), core.QueryRequest{Query: "anything"})
	require.NoError(t, err)
	require.Len(t, store.searches, 1)
	assert.Equal(t, 3, store.searches[0])
}

func TestQueryEmptyResultsIsNotAnError(t *testing.T) {
	e, _ := newTestEngine(&fakeStore{}, &mapEmbedder{}, Config{})

	resp, err := e.Query(context.Background(), core.QueryRequest{Query: "nothing indexed", Limit: 5})
	require.NoError(t, err)
	assert.Zero(t, resp.TotalResults)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Cached)
}

func TestQueryWithoutRerankingKeepsBaseScores(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{
		hit("a:0", 0.9, []float32{1, 0}),
		hit("a:1", 0.7, []float32{0, 1}),
	}}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{})

	resp, err := e.Query(context.Background(), core.QueryRequest{Query: "plain", Limit: 5})
	require.NoError(t, err)

	assert.False(t, resp.Reranked)
	assert.False(t, resp.ContextUsed)
	require.Len(t, resp.Results, 2)
	for _, item := range resp.Results {
		assert.Equal(t, item.BaseScore, item.FinalScore)
		assert.Zero(t, item.ContextScore)
	}
	// Without a context to rerank against, no over-fetch happens.
	assert.Equal(t, []int{5}, store.searches)
}

func TestQueryRerankBlendsScores(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{
		hit("a:0", 0.9, []float32{1, 0}),
		hit("a:1", 0.8, []float32{0, 1}),
	}}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"question":      {1, 0},
		"prior context": {0, 1},
	}}
	e, _ := newTestEngine(store, embedder, Config{})

	resp, err := e.Query(context.Background(), core.QueryRequest{
		Query:           "question",
		Limit:           2,
		Context:         "prior context",
		EnableReranking: true,
	})
	require.NoError(t, err)

	assert.True(t, resp.Reranked)
	assert.True(t, resp.ContextUsed)
	require.Len(t, resp.Results, 2)

	// a:1 is orthogonal to the query but parallel to the context:
	// context score 1.0, final 0.7*0.8 + 0.3*1.0 = 0.86. a:0 gets
	// context score 0.5, final 0.7*0.9 + 0.3*0.5 = 0.78.
	assert.Equal(t, "a:1", resp.Results[0].ChunkID)
	assert.InDelta(t, 0.86, resp.Results[0].FinalScore, 1e-9)
	assert.InDelta(t, 1.0, resp.Results[0].ContextScore, 1e-9)
	assert.Equal(t, "a:0", resp.Results[1].ChunkID)
	assert.InDelta(t, 0.78, resp.Results[1].FinalScore, 1e-9)
	assert.InDelta(t, 0.5, resp.Results[1].ContextScore, 1e-9)
}

func TestQueryRerankOverFetchesDouble(t *testing.T) {
	store := &fakeStore{}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{})

	_, err := e.Query(context.Background(), core.QueryRequest{
		Query:           "q",
		Limit:           4,
		Context:         "c",
		EnableReranking: true,
	})
	require.NoError(t, err)
	require.Len(t, store.searches, 1)
	assert.GreaterOrEqual(t, store.searches[0], 8)
}

func TestQueryRerankOrderingAndTruncation(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{
		hit("a:0", 0.9, []float32{1, 0}),
		hit("a:1", 0.8, []float32{0, 1}),
		hit("a:2", 0.7, []float32{0, 1}),
		hit("a:3", 0.6, []float32{1, 0}),
	}}
	embedder := &mapEmbedder{vectors: map[string][]float32{"c": {0, 1}}}
	e, _ := newTestEngine(store, embedder, Config{})

	resp, err := e.Query(context.Background(), core.QueryRequest{
		Query:           "q",
		Limit:           2,
		Context:         "c",
		EnableReranking: true,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.TotalResults)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].FinalScore, resp.Results[i].FinalScore)
	}
}

func TestQueryRerankStableOnTies(t *testing.T) {
	// Equal base scores and identical vectors produce equal final
	// scores; order must match the store's ordering.
	store := &fakeStore{hits: []core.SearchHit{
		hit("a:0", 0.8, []float32{1, 0}),
		hit("a:1", 0.8, []float32{1, 0}),
		hit("a:2", 0.8, []float32{1, 0}),
	}}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{})

	resp, err := e.Query(context.Background(), core.QueryRequest{
		Query:           "q",
		Limit:           3,
		Context:         "c",
		EnableReranking: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a:0", resp.Results[0].ChunkID)
	assert.Equal(t, "a:1", resp.Results[1].ChunkID)
	assert.Equal(t, "a:2", resp.Results[2].ChunkID)
}

func TestQueryZeroVectorContextScoresZero(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{
		hit("a:0", 0.9, []float32{0, 0}),
	}}
	embedder := &mapEmbedder{vectors: map[string][]float32{"c": {0, 1}}}
	e, _ := newTestEngine(store, embedder, Config{})

	resp, err := e.Query(context.Background(), core.QueryRequest{
		Query:           "q",
		Limit:           1,
		Context:         "c",
		EnableReranking: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Zero(t, resp.Results[0].ContextScore)
	assert.InDelta(t, 0.7*0.9, resp.Results[0].FinalScore, 1e-9)
}

func TestQuerySimilarityThreshold(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{
		hit("a:0", 0.9, []float32{1, 0}),
		hit("a:1", 0.4, []float32{1, 0}),
	}}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{SimilarityThreshold: 0.5})

	resp, err := e.Query(context.Background(), core.QueryRequest{Query: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a:0", resp.Results[0].ChunkID)
}

func TestQueryCachesResponses(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{hit("a:0", 0.9, []float32{1, 0})}}
	embedder := &mapEmbedder{}
	e, _ := newTestEngine(store, embedder, Config{})

	req := core.QueryRequest{Query: "repeat me", Limit: 2}

	first, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)

	assert.Len(t, store.searches, 1, "cache hit must not reach the store")
	assert.Equal(t, 1, embedder.calls, "cache hit must not re-embed")
}

func TestQueryDegradedResponsesAreNotCached(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{hit("a:0", 0.9, []float32{1, 0})}}
	embedder := &degradableEmbedder{degraded: true}
	e, _ := newTestEngine(store, embedder, Config{})

	req := core.QueryRequest{Query: "q", Limit: 1}

	first, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Degraded)

	// Once the inference service recovers, the next identical query
	// must produce a full-quality answer instead of the cached
	// degraded one.
	embedder.degraded = false
	second, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.False(t, second.Degraded)
	assert.Len(t, store.searches, 2)

	third, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, third.Cached, "healthy responses are cached as usual")
	assert.False(t, third.Degraded)
}

func TestQueryCacheKeyRespectsContext(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{hit("a:0", 0.9, []float32{1, 0})}}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{})

	_, err := e.Query(context.Background(), core.QueryRequest{
		Query: "same", Limit: 2, Context: "first", EnableReranking: true,
	})
	require.NoError(t, err)
	_, err = e.Query(context.Background(), core.QueryRequest{
		Query: "same", Limit: 2, Context: "second", EnableReranking: true,
	})
	require.NoError(t, err)

	assert.Len(t, store.searches, 2, "different contexts are different cache entries")
}

func TestQueryCacheIgnoresSessionID(t *testing.T) {
	store := &fakeStore{hits: []core.SearchHit{hit("a:0", 0.9, []float32{1, 0})}}
	e, _ := newTestEngine(store, &mapEmbedder{}, Config{})

	_, err := e.Query(context.Background(), core.QueryRequest{Query: "shared", Limit: 2, SessionID: "s1"})
	require.NoError(t, err)
	resp, err := e.Query(context.Background(), core.QueryRequest{Query: "shared", Limit: 2, SessionID: "s2"})
	require.NoError(t, err)

	assert.True(t, resp.Cached)
	assert.Len(t, store.searches, 1)
}

func TestQueryPropagatesUpstreamErrors(t *testing.T) {
	embedErr := fmt.Errorf("down: %w", core.ErrUpstreamUnavailable)

	e, _ := newTestEngine(&fakeStore{}, &mapEmbedder{err: embedErr}, Config{})
	_, err := e.Query(context.Background(), core.QueryRequest{Query: "q", Limit: 1})
	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)

	store := &fakeStore{err: fmt.Errorf("milvus gone: %w", core.ErrUpstreamUnavailable)}
	e, _ = newTestEngine(store, &mapEmbedder{}, Config{})
	_, err = e.Query(context.Background(), core.QueryRequest{Query: "q", Limit: 1})
	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestNewRejectsInvalidWeights(t *testing.T) {
	e := New(&mapEmbedder{}, &fakeStore{}, nil, Config{BaseWeight: 0.9, ContextWeight: 0.9})
	assert.InDelta(t, DefaultBaseWeight, e.cfg.BaseWeight, 1e-9)
	assert.InDelta(t, DefaultContextWeight, e.cfg.ContextWeight, 1e-9)

	e = New(&mapEmbedder{}, &fakeStore{}, nil, Config{BaseWeight: 0.5, ContextWeight: 0.5})
	assert.InDelta(t, 0.5, e.cfg.BaseWeight, 1e-9)
	assert.InDelta(t, 0.5, e.cfg.ContextWeight, 1e-9)
}

func TestContextSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, contextSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, contextSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 0.5, contextSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, contextSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, contextSimilarity([]float32{1}, []float32{1, 0}))
	assert.Zero(t, contextSimilarity(nil, nil))
}
