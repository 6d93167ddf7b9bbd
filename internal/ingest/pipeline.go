// Package ingest composes the chunker, the embedding service, and the
// vector store to persist documents.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hunterwarburton/ragstore/internal/cache"
	"github.com/hunterwarburton/ragstore/internal/chunker"
	"github.com/hunterwarburton/ragstore/internal/core"
	"github.com/hunterwarburton/ragstore/internal/logger"
)

// upsertBatchSize bounds how many points go to the vector store per
// call, so one bad batch fails a bounded set of chunks.
const upsertBatchSize = 64

// Pipeline ingests documents: chunk, embed (cache-checked), upsert.
// Metadata persistence is optional and non-fatal.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder core.EmbedService
	store    core.VectorStore
	meta     core.MetadataStore
	cache    core.Cache
}

// New creates an ingest pipeline. meta may be nil.
func New(c *chunker.Chunker, embedder core.EmbedService, store core.VectorStore, meta core.MetadataStore, queryCache core.Cache) *Pipeline {
	return &Pipeline{
		chunker:  c,
		embedder: embedder,
		store:    store,
		meta:     meta,
		cache:    queryCache,
	}
}

// Ingest chunks, embeds, and upserts the content. The document id
// comes from metadata["document_id"] when the caller supplies one,
// otherwise a fresh UUID is assigned. Re-running with the same id is
// idempotent and repairs partially indexed state. The result reports
// per-chunk failures instead of dropping them silently.
func (p *Pipeline) Ingest(ctx context.Context, content string, metadata map[string]interface{}) (*core.IngestResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: document content is empty", core.ErrValidation)
	}

	docID := metadataString(metadata, "document_id")
	if docID == "" {
		docID = uuid.New().String()
	}

	texts := p.chunker.Split(content)
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: document produced no chunks", core.ErrValidation)
	}

	chunks := make([]core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = core.Chunk{
			DocumentID:    docID,
			Index:         i,
			Text:          text,
			TokenEstimate: estimateTokens(text),
			Metadata:      metadata,
		}
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks for %s: %w", len(chunks), docID, err)
	}

	result := &core.IngestResult{
		DocumentID: docID,
		ChunkCount: len(chunks),
	}

	points := make([]core.Point, len(chunks))
	for i, chunk := range chunks {
		if embeddings[i].Degraded {
			result.Degraded = true
		}
		points[i] = core.Point{
			ChunkID: chunk.ID(),
			Vector:  embeddings[i].Vector,
			Payload: core.Payload{
				DocumentID:   docID,
				ChunkIndex:   chunk.Index,
				Text:         chunk.Text,
				DocumentType: metadataString(metadata, "document_type"),
				Tags:         metadataTags(metadata),
				Source:       metadataString(metadata, "source"),
				Metadata:     metadata,
			},
		}
	}

	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := p.store.Upsert(ctx, points[start:end]); err != nil {
			logger.Error("ingest: upsert failed for %s chunks %d-%d: %v", docID, start, end-1, err)
			for i := start; i < end; i++ {
				result.FailedIndexes = append(result.FailedIndexes, i)
			}
		}
	}
	result.ChunksFailed = len(result.FailedIndexes)
	if result.ChunksFailed == result.ChunkCount {
		return result, fmt.Errorf("%w: all %d chunks failed to upsert for %s",
			core.ErrUpstreamUnavailable, result.ChunkCount, docID)
	}

	p.persistMetadata(ctx, docID, content, metadata, chunks)

	// Newly indexed content can change any answer; drop cached queries.
	if p.cache != nil {
		p.cache.Invalidate(ctx, cache.QueryKeyPattern)
	}

	logger.Info("Ingested document %s: %d chunks, %d failed, degraded=%v",
		docID, result.ChunkCount, result.ChunksFailed, result.Degraded)
	return result, nil
}

// Delete removes a document from the vector store, the metadata store,
// and the query cache.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: document id is empty", core.ErrValidation)
	}
	if err := p.store.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	if p.meta != nil {
		if err := p.meta.DeleteDocument(ctx, documentID); err != nil {
			logger.Warn("ingest: metadata delete failed for %s: %v", documentID, err)
		}
	}
	if p.cache != nil {
		p.cache.Invalidate(ctx, cache.QueryKeyPattern)
	}
	return nil
}

// persistMetadata is best-effort: the vector store is the retrieval
// source of truth, so metadata failures only get logged.
func (p *Pipeline) persistMetadata(ctx context.Context, docID, content string, metadata map[string]interface{}, chunks []core.Chunk) {
	if p.meta == nil {
		return
	}
	doc := core.Document{
		ID:         docID,
		Content:    content,
		Metadata:   metadata,
		CreateTime: time.Now().Unix(),
	}
	if err := p.meta.SaveDocument(ctx, doc); err != nil {
		logger.Warn("ingest: saving document record for %s: %v", docID, err)
		return
	}
	if err := p.meta.SaveChunks(ctx, chunks); err != nil {
		logger.Warn("ingest: saving chunk records for %s: %v", docID, err)
	}
}

// estimateTokens approximates the token count at four characters per
// token, the usual rule of thumb for English text.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func metadataTags(metadata map[string]interface{}) []string {
	if metadata == nil {
		return nil
	}
	switch v := metadata["tags"].(type) {
	case []string:
		return v
	case []interface{}:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			tags = append(tags, fmt.Sprintf("%v", t))
		}
		return tags
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
