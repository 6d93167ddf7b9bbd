package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/ragstore/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := core.Document{
		ID:         "doc-1",
		Content:    "some content",
		Metadata:   map[string]interface{}{"source": "test"},
		CreateTime: 1700000000,
	}
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, "test", got.Metadata["source"])

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSaveChunksReplacesStaleRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveDocument(ctx, core.Document{ID: "doc-1", Content: "c"}))

	chunks := []core.Chunk{
		{DocumentID: "doc-1", Index: 0, Text: "a", TokenEstimate: 1},
		{DocumentID: "doc-1", Index: 1, Text: "b", TokenEstimate: 1},
		{DocumentID: "doc-1", Index: 2, Text: "c", TokenEstimate: 1},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	count, err := s.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Re-ingestion with fewer chunks must not leave stale rows behind.
	require.NoError(t, s.SaveChunks(ctx, chunks[:1]))
	count, err = s.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveChunksRejectsMixedDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveDocument(ctx, core.Document{ID: "doc-1", Content: "c"}))

	err := s.SaveChunks(ctx, []core.Chunk{
		{DocumentID: "doc-1", Index: 0, Text: "a"},
		{DocumentID: "doc-2", Index: 0, Text: "b"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveDocument(ctx, core.Document{ID: "doc-1", Content: "c"}))
	require.NoError(t, s.SaveChunks(ctx, []core.Chunk{
		{DocumentID: "doc-1", Index: 0, Text: "a"},
	}))

	require.NoError(t, s.DeleteDocument(ctx, "doc-1"))

	_, err := s.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	count, err := s.ChunkCount(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
