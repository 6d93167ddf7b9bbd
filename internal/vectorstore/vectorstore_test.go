package vectorstore

import (
	"context"
	"testing"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/ragstore/internal/core"
)

func TestBuildFilterExpr(t *testing.T) {
	tests := []struct {
		name    string
		filters map[string]interface{}
		want    string
	}{
		{
			name:    "empty",
			filters: nil,
			want:    "",
		},
		{
			name:    "document type",
			filters: map[string]interface{}{"document_type": "article"},
			want:    `document_type == "article"`,
		},
		{
			name:    "source list",
			filters: map[string]interface{}{"source": []string{"wiki", "blog"}},
			want:    `source in ["wiki", "blog"]`,
		},
		{
			name:    "single tag",
			filters: map[string]interface{}{"tags": "go"},
			want:    `json_contains(tags, "go")`,
		},
		{
			name:    "all tags required",
			filters: map[string]interface{}{"tags": []string{"go", "cache"}},
			want:    `json_contains(tags, "go") and json_contains(tags, "cache")`,
		},
		{
			name: "sorted composite",
			filters: map[string]interface{}{
				"source":        "wiki",
				"document_id":   "doc-1",
				"document_type": "article",
			},
			want: `document_id == "doc-1" and document_type == "article" and source == "wiki"`,
		},
		{
			name:    "metadata passthrough",
			filters: map[string]interface{}{"language": "en"},
			want:    `metadata["language"] == "en"`,
		},
		{
			name:    "quotes escaped",
			filters: map[string]interface{}{"source": `say "hi"`},
			want:    `source == "say \"hi\""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildFilterExpr(tt.filters))
		})
	}
}

func point(chunkID, docID string, idx int, vec []float32, docType string, tags ...string) core.Point {
	return core.Point{
		ChunkID: chunkID,
		Vector:  vec,
		Payload: core.Payload{
			DocumentID:   docID,
			ChunkIndex:   idx,
			Text:         "text of " + chunkID,
			DocumentType: docType,
			Tags:         tags,
		},
	}
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	pts := []core.Point{
		point("d1:0", "d1", 0, []float32{1, 0}, "article"),
		point("d1:1", "d1", 1, []float32{0, 1}, "article"),
	}
	require.NoError(t, s.Upsert(ctx, pts))
	require.NoError(t, s.Upsert(ctx, pts))
	assert.Equal(t, 2, s.Len(), "re-upserting the same chunk ids must not duplicate")
}

func TestMemorySearchOrdersByScore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Upsert(ctx, []core.Point{
		point("a:0", "a", 0, []float32{1, 0}, ""),
		point("b:0", "b", 0, []float32{0.9, 0.1}, ""),
		point("c:0", "c", 0, []float32{0, 1}, ""),
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "a:0", hits[0].ChunkID)
	assert.Equal(t, "b:0", hits[1].ChunkID)
	assert.Equal(t, "c:0", hits[2].ChunkID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	// Identical direction means cosine 1, normalized to 1.
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestMemorySearchFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Upsert(ctx, []core.Point{
		point("a:0", "a", 0, []float32{1, 0}, "article", "go"),
		point("b:0", "b", 0, []float32{1, 0}, "note", "go", "cache"),
		point("c:0", "c", 0, []float32{1, 0}, "article", "rust"),
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, map[string]interface{}{"document_type": "article"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.Search(ctx, []float32{1, 0}, 10, map[string]interface{}{"tags": []string{"go", "cache"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b:0", hits[0].ChunkID)

	hits, err = s.Search(ctx, []float32{1, 0}, 10, map[string]interface{}{"document_id": "missing"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemorySearchLimitValidation(t *testing.T) {
	_, err := NewMemory().Search(context.Background(), []float32{1}, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestMemoryDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Upsert(ctx, []core.Point{
		point("a:0", "a", 0, []float32{1, 0}, ""),
		point("a:1", "a", 1, []float32{0, 1}, ""),
		point("b:0", "b", 0, []float32{1, 1}, ""),
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "a"))
	assert.Equal(t, 1, s.Len())

	hits, err := s.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b:0", hits[0].ChunkID)
}

func TestDecodeHits(t *testing.T) {
	m := &Milvus{collection: DefaultCollection, dimension: 2}

	rs := milvusclient.ResultSet{
		ResultCount: 2,
		IDs:         column.NewColumnVarChar(FieldID, []string{"doc-1:0", "doc-1:1"}),
		Scores:      []float32{1, 0},
		Fields: milvusclient.DataSet{
			column.NewColumnVarChar(FieldDocumentID, []string{"doc-1", "doc-1"}),
			column.NewColumnInt64(FieldChunkIndex, []int64{0, 1}),
			column.NewColumnVarChar(FieldText, []string{"alpha", "beta"}),
			column.NewColumnVarChar(FieldDocumentType, []string{"note", "note"}),
			column.NewColumnVarChar(FieldSource, []string{"s", "s"}),
			column.NewColumnJSONBytes(FieldTags, [][]byte{[]byte(`["ml"]`), []byte(`[]`)}),
			column.NewColumnJSONBytes(FieldMetadata, [][]byte{[]byte(`{"k":"v"}`), []byte(`{}`)}),
			column.NewColumnFloatVector(FieldVector, 2, [][]float32{{1, 0}, {0, 1}}),
		},
	}

	hits, err := m.decodeHits(rs)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "doc-1:0", hits[0].ChunkID)
	assert.Equal(t, "doc-1", hits[0].Payload.DocumentID)
	assert.Equal(t, 0, hits[0].Payload.ChunkIndex)
	assert.Equal(t, "alpha", hits[0].Payload.Text)
	assert.Equal(t, []string{"ml"}, hits[0].Payload.Tags)
	assert.Equal(t, map[string]interface{}{"k": "v"}, hits[0].Payload.Metadata)
	assert.Equal(t, []float32{1, 0}, hits[0].Vector, "stored vectors must round-trip for context re-scoring")
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	assert.Equal(t, "doc-1:1", hits[1].ChunkID)
	assert.Equal(t, []float32{0, 1}, hits[1].Vector)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9, "cosine 0 normalizes to 0.5")
}

func TestDecodeHitsEmpty(t *testing.T) {
	m := &Milvus{collection: DefaultCollection, dimension: 2}
	hits, err := m.decodeHits(milvusclient.ResultSet{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestNormalizeCosine(t *testing.T) {
	assert.InDelta(t, 1.0, normalizeCosine(1), 1e-9)
	assert.InDelta(t, 0.5, normalizeCosine(0), 1e-9)
	assert.InDelta(t, 0.0, normalizeCosine(-1), 1e-9)
	assert.Equal(t, 1.0, normalizeCosine(1.2), "scores clamp to [0,1]")
	assert.Equal(t, 0.0, normalizeCosine(-1.5))
}
