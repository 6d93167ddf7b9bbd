// Package metastore persists Document and Chunk records in SQLite.
// The vector store alone is sufficient for retrieval; this bookkeeping
// exists for listing and audit purposes and its failures are treated
// as non-fatal by the ingest pipeline.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hunterwarburton/ragstore/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	document_id    TEXT NOT NULL,
	idx            INTEGER NOT NULL,
	text           TEXT NOT NULL,
	token_estimate INTEGER NOT NULL,
	PRIMARY KEY (document_id, idx),
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
`

// Store is the SQLite-backed metadata store.
type Store struct {
	db *sql.DB
}

var _ core.MetadataStore = (*Store)(nil)

// NewStore opens (or creates) the database at path and applies the
// schema. WAL mode keeps concurrent ingest and query from blocking
// each other.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying metadata schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveDocument inserts or replaces the document record.
func (s *Store) SaveDocument(ctx context.Context, doc core.Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling document metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, content, metadata, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Content, string(metadata), doc.CreateTime)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

// SaveChunks replaces the chunk records for the chunks' document.
// All chunks must belong to the same document.
func (s *Store) SaveChunks(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docID := chunks[0].DocumentID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting chunk transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-ingestion may produce fewer chunks; drop stale rows first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("clearing chunks for %s: %w", docID, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (document_id, idx, text, token_estimate) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if chunk.DocumentID != docID {
			return fmt.Errorf("%w: chunks span documents %s and %s", core.ErrValidation, docID, chunk.DocumentID)
		}
		if _, err := stmt.ExecContext(ctx, chunk.DocumentID, chunk.Index, chunk.Text, chunk.TokenEstimate); err != nil {
			return fmt.Errorf("saving chunk %s: %w", chunk.ID(), err)
		}
	}
	return tx.Commit()
}

// GetDocument returns the stored document or core.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, documentID string) (core.Document, error) {
	var doc core.Document
	var metadata string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, metadata, created_at FROM documents WHERE id = ?`, documentID).
		Scan(&doc.ID, &doc.Content, &metadata, &doc.CreateTime)
	if err == sql.ErrNoRows {
		return core.Document{}, fmt.Errorf("%w: document %s", core.ErrNotFound, documentID)
	}
	if err != nil {
		return core.Document{}, fmt.Errorf("loading document %s: %w", documentID, err)
	}
	if metadata != "" && metadata != "null" {
		_ = json.Unmarshal([]byte(metadata), &doc.Metadata)
	}
	return doc, nil
}

// ChunkCount returns how many chunks a document has on record.
func (s *Store) ChunkCount(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for %s: %w", documentID, err)
	}
	return count, nil
}

// DeleteDocument removes the document and, via the foreign key, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
