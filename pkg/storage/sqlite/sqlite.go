// Package sqlite provides a single-file implementation of storage.Store on
// the pure Go modernc.org/sqlite driver. Embeddings are stored as
// little-endian float32 blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '',
    chunk_count INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents (tenant_id, source);

CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
    tenant_id   TEXT NOT NULL DEFAULT '',
    idx         INTEGER NOT NULL,
    content     TEXT NOT NULL,
    source      TEXT NOT NULL,
    line_start  INTEGER NOT NULL DEFAULT 0,
    line_end    INTEGER NOT NULL DEFAULT 0,
    embedding   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks (tenant_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id);
`

// Store is a SQLite-backed document store.
type Store struct {
	db *sql.DB
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps the
	// per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveDocument inserts a document and its chunks in one transaction.
func (s *Store) SaveDocument(ctx context.Context, doc *storage.Document, chunks []storage.Chunk) error {
	tenantID := storage.GetTenant(ctx)

	meta := ""
	if len(doc.Metadata) > 0 {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		meta = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, source, title, metadata, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, tenantID, doc.Source, doc.Title, meta, len(chunks), doc.CreatedAt.UnixMilli())
	if err != nil {
		if isConstraint(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, tenant_id, idx, content, source, line_start, line_end, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, doc.ID, tenantID, c.Index, c.Content, c.Source,
			c.LineStart, c.LineEnd, storage.EncodeVector(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	debug.Log("storage", "saved document", "backend", "sqlite", "id", doc.ID, "chunks", len(chunks))
	return nil
}

// GetDocument retrieves a document by ID, scoped by tenant.
func (s *Store) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	tenantID := storage.GetTenant(ctx)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, metadata, chunk_count, created_at
		FROM documents
		WHERE id = ? AND (? = '' OR tenant_id = ?)
	`, id, tenantID, tenantID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the tenant's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*storage.Document, error) {
	tenantID := storage.GetTenant(ctx)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, metadata, chunk_count, created_at
		FROM documents
		WHERE (? = '' OR tenant_id = ?)
		ORDER BY created_at DESC, id DESC
	`, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []*storage.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and, through the foreign key, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE id = ? AND (? = '' OR tenant_id = ?)
	`, id, tenantID, tenantID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBySource removes all documents ingested from source.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	tenantID := storage.GetTenant(ctx)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE source = ? AND (? = '' OR tenant_id = ?)
	`, source, tenantID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting documents by source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting documents by source: %w", err)
	}
	return int(n), nil
}

// Search scores the tenant's chunks against query.
func (s *Store) Search(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	tenantID := storage.GetTenant(ctx)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, idx, content, source, line_start, line_end, embedding
		FROM chunks
		WHERE (? = '' OR tenant_id = ?)
	`, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	ranker := storage.NewRanker(query, opts)
	for rows.Next() {
		var (
			c    storage.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.Source, &c.LineStart, &c.LineEnd, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = storage.DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		ranker.Add(c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	return ranker.Results(), nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*storage.Document, error) {
	var (
		doc       storage.Document
		meta      string
		createdMs int64
	)
	if err := row.Scan(&doc.ID, &doc.Source, &doc.Title, &meta, &doc.Chunks, &createdMs); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.UnixMilli(createdMs).UTC()
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &doc, nil
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
