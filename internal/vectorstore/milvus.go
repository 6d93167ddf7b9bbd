// Package vectorstore adapts the external similarity index. Milvus is
// the production implementation; Memory mirrors its behavior in
// process for tests and development.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/hunterwarburton/ragstore/internal/core"
	"github.com/hunterwarburton/ragstore/internal/logger"
)

// Field names for the chunk collection.
const (
	FieldID           = "id"
	FieldDocumentID   = "document_id"
	FieldChunkIndex   = "chunk_index"
	FieldText         = "text"
	FieldDocumentType = "document_type"
	FieldSource       = "source"
	FieldTags         = "tags"
	FieldMetadata     = "metadata"
	FieldCreateTime   = "created_at"
	FieldVector       = "vector"
)

// Defaults for the Milvus adapter.
const (
	DefaultCollection   = "chunks"
	DefaultDimension    = 384
	DefaultMaxRetries   = 3
	defaultVarCharLimit = "65535"
	defaultIDLimit      = "255"
)

// MilvusConfig configures the adapter.
type MilvusConfig struct {
	Address    string
	Collection string
	Dimension  int
	MaxRetries uint64
}

// Milvus stores chunk vectors in a Milvus collection. Upserts are
// idempotent on chunk id; transient errors are retried with bounded
// exponential backoff.
type Milvus struct {
	client     *milvusclient.Client
	collection string
	dimension  int
	maxRetries uint64

	mu      sync.Mutex
	ensured bool
}

var _ core.VectorStore = (*Milvus)(nil)

// NewMilvus connects to Milvus at the configured address.
func NewMilvus(ctx context.Context, cfg MilvusConfig) (*Milvus, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	logger.Info("Connecting to Milvus at %s (collection %s, dim %d)", cfg.Address, cfg.Collection, cfg.Dimension)
	cli, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to milvus: %v", core.ErrUpstreamUnavailable, err)
	}
	return &Milvus{
		client:     cli,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// EnsureCollection creates the chunk collection, its vector index, and
// the payload indexes, then loads it for search. Idempotent; meant for
// startup, not the request hot path.
func (m *Milvus) EnsureCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureCollectionLocked(ctx)
}

func (m *Milvus) ensureCollectionLocked(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(m.collection))
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", core.ErrUpstreamUnavailable, err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "Document chunk vectors for retrieval",
			Fields: []*entity.Field{
				{
					Name:       FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": defaultIDLimit},
				},
				{
					Name:       FieldDocumentID,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": defaultIDLimit},
				},
				{
					Name:     FieldChunkIndex,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": defaultVarCharLimit},
				},
				{
					Name:       FieldDocumentType,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": defaultIDLimit},
				},
				{
					Name:       FieldSource,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": defaultIDLimit},
				},
				{
					Name:     FieldTags,
					DataType: entity.FieldTypeJSON,
				},
				{
					Name:     FieldMetadata,
					DataType: entity.FieldTypeJSON,
				},
				{
					Name:     FieldCreateTime,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.dimension)},
				},
			},
		}

		createOpt := milvusclient.NewCreateCollectionOption(m.collection, schema)
		createOpt.WithShardNum(2)
		if err := m.client.CreateCollection(ctx, createOpt); err != nil {
			return fmt.Errorf("%w: creating collection: %v", core.ErrUpstreamUnavailable, err)
		}

		vecIdx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		if _, err := m.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(m.collection, FieldVector, vecIdx)); err != nil {
			return fmt.Errorf("%w: creating vector index: %v", core.ErrUpstreamUnavailable, err)
		}

		// Scalar indexes back the filterable payload fields. tags is a
		// JSON column filtered with json_contains; indexing it would
		// need a per-path JSON index with a declared cast type, and
		// json_contains cannot use one, so the column stays unindexed.
		for _, field := range []string{FieldDocumentID, FieldChunkIndex, FieldDocumentType, FieldSource} {
			scalarIdx := index.NewInvertedIndex()
			if _, err := m.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(m.collection, field, scalarIdx)); err != nil {
				return fmt.Errorf("%w: creating index on %s: %v", core.ErrUpstreamUnavailable, field, err)
			}
		}

		logger.Info("Created collection %s with vector and payload indexes", m.collection)
	}

	if _, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(m.collection)); err != nil {
		return fmt.Errorf("%w: loading collection: %v", core.ErrUpstreamUnavailable, err)
	}
	m.ensured = true
	return nil
}

// ensureOnce bootstraps the collection the first time an operation
// needs it, so a store that was never explicitly bootstrapped still
// works after one attempt.
func (m *Milvus) ensureOnce(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensured {
		return nil
	}
	return m.ensureCollectionLocked(ctx)
}

// Upsert inserts or overwrites points keyed by chunk id.
func (m *Milvus) Upsert(ctx context.Context, points []core.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := m.ensureOnce(ctx); err != nil {
		return err
	}

	ids := make([]string, len(points))
	docIDs := make([]string, len(points))
	chunkIdx := make([]int64, len(points))
	texts := make([]string, len(points))
	docTypes := make([]string, len(points))
	sources := make([]string, len(points))
	tags := make([][]byte, len(points))
	metadata := make([][]byte, len(points))
	created := make([]int64, len(points))
	vectors := make([][]float32, len(points))

	now := time.Now().Unix()
	for i, p := range points {
		ids[i] = p.ChunkID
		docIDs[i] = p.Payload.DocumentID
		chunkIdx[i] = int64(p.Payload.ChunkIndex)
		texts[i] = p.Payload.Text
		docTypes[i] = p.Payload.DocumentType
		sources[i] = p.Payload.Source
		tags[i] = marshalJSON(p.Payload.Tags, []byte("[]"))
		metadata[i] = marshalJSON(p.Payload.Metadata, []byte("{}"))
		created[i] = now
		vectors[i] = p.Vector
	}

	columns := []column.Column{
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnVarChar(FieldDocumentID, docIDs),
		column.NewColumnInt64(FieldChunkIndex, chunkIdx),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnVarChar(FieldDocumentType, docTypes),
		column.NewColumnVarChar(FieldSource, sources),
		column.NewColumnJSONBytes(FieldTags, tags),
		column.NewColumnJSONBytes(FieldMetadata, metadata),
		column.NewColumnInt64(FieldCreateTime, created),
		column.NewColumnFloatVector(FieldVector, m.dimension, vectors),
	}

	op := func() error {
		_, err := m.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(m.collection, columns...))
		return err
	}
	if err := m.retry(ctx, op); err != nil {
		return fmt.Errorf("%w: upserting %d points: %v", core.ErrUpstreamUnavailable, len(points), err)
	}
	return nil
}

// Search returns up to limit hits ordered by descending similarity,
// with cosine scores normalized to [0,1]. The stored vectors are
// included so candidates can be re-scored without re-embedding.
func (m *Milvus) Search(ctx context.Context, vector []float32, limit int, filters map[string]interface{}) ([]core.SearchHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: search limit must be positive", core.ErrValidation)
	}
	if err := m.ensureOnce(ctx); err != nil {
		return nil, err
	}

	opt := milvusclient.NewSearchOption(m.collection, limit, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldDocumentID, FieldChunkIndex, FieldText, FieldDocumentType,
			FieldSource, FieldTags, FieldMetadata, FieldVector)
	if expr := BuildFilterExpr(filters); expr != "" {
		opt = opt.WithFilter(expr)
	}

	var resultSets []milvusclient.ResultSet
	op := func() error {
		var err error
		resultSets, err = m.client.Search(ctx, opt)
		return err
	}
	if err := m.retry(ctx, op); err != nil {
		return nil, fmt.Errorf("%w: searching: %v", core.ErrUpstreamUnavailable, err)
	}
	if len(resultSets) == 0 {
		return []core.SearchHit{}, nil
	}
	return m.decodeHits(resultSets[0])
}

func (m *Milvus) decodeHits(rs milvusclient.ResultSet) ([]core.SearchHit, error) {
	hits := make([]core.SearchHit, 0, rs.ResultCount)
	if rs.ResultCount == 0 {
		return hits, nil
	}

	var vectorData [][]float32
	if vecCol, ok := rs.GetColumn(FieldVector).(*column.ColumnFloatVector); ok {
		vectorData = make([][]float32, 0, len(vecCol.Data()))
		for _, fv := range vecCol.Data() {
			vectorData = append(vectorData, []float32(fv))
		}
	}

	for i := 0; i < rs.ResultCount; i++ {
		chunkID, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("decoding hit id: %w", err)
		}

		payload := core.Payload{
			DocumentID:   stringAt(rs, FieldDocumentID, i),
			Text:         stringAt(rs, FieldText, i),
			DocumentType: stringAt(rs, FieldDocumentType, i),
			Source:       stringAt(rs, FieldSource, i),
		}
		if idxCol := rs.GetColumn(FieldChunkIndex); idxCol != nil {
			if v, err := idxCol.GetAsInt64(i); err == nil {
				payload.ChunkIndex = int(v)
			}
		}
		if raw := jsonAt(rs, FieldTags, i); raw != nil {
			_ = json.Unmarshal(raw, &payload.Tags)
		}
		if raw := jsonAt(rs, FieldMetadata, i); raw != nil {
			_ = json.Unmarshal(raw, &payload.Metadata)
		}

		var vec []float32
		if i < len(vectorData) {
			vec = vectorData[i]
		}

		score := float64(0)
		if i < len(rs.Scores) {
			score = normalizeCosine(float64(rs.Scores[i]))
		}

		hits = append(hits, core.SearchHit{
			ChunkID: chunkID,
			Score:   score,
			Vector:  vec,
			Payload: payload,
		})
	}
	return hits, nil
}

// DeleteByDocument removes every point belonging to the document.
func (m *Milvus) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`%s == "%s"`, FieldDocumentID, escape(documentID))
	op := func() error {
		_, err := m.client.Delete(ctx, milvusclient.NewDeleteOption(m.collection).WithExpr(expr))
		return err
	}
	if err := m.retry(ctx, op); err != nil {
		return fmt.Errorf("%w: deleting document %s: %v", core.ErrUpstreamUnavailable, documentID, err)
	}
	return nil
}

// Close closes the connection to Milvus.
func (m *Milvus) Close() error {
	return m.client.Close(context.Background())
}

func (m *Milvus) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.maxRetries), ctx)
	return backoff.Retry(op, bo)
}

func stringAt(rs milvusclient.ResultSet, field string, i int) string {
	col := rs.GetColumn(field)
	if col == nil {
		return ""
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return v
}

func jsonAt(rs milvusclient.ResultSet, field string, i int) []byte {
	col, ok := rs.GetColumn(field).(*column.ColumnJSONBytes)
	if !ok || i >= len(col.Data()) {
		return nil
	}
	return col.Data()[i]
}

func marshalJSON(v interface{}, fallback []byte) []byte {
	if v == nil {
		return fallback
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return raw
}

// normalizeCosine maps cosine similarity from [-1,1] onto [0,1].
func normalizeCosine(cos float64) float64 {
	s := (cos + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
