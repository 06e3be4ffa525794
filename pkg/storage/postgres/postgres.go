// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling, JSONB for document metadata and
// REAL[] columns for chunk embeddings.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/storage"
)

// Store is a PostgreSQL-backed document store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveDocument inserts a document and its chunks in one transaction.
func (s *Store) SaveDocument(ctx context.Context, doc *storage.Document, chunks []storage.Chunk) error {
	tenantID := storage.GetTenant(ctx)

	var metaJSON []byte
	if len(doc.Metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, tenant_id, source, title, metadata, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, tenantID, doc.Source, nullString(doc.Title), nullJSON(metaJSON), len(chunks), doc.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting document: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, document_id, tenant_id, idx, content, source, line_start, line_end, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, doc.ID, tenantID, c.Index, c.Content, c.Source, c.LineStart, c.LineEnd, c.Embedding)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	debug.Log("storage", "saved document", "backend", "postgres", "id", doc.ID, "chunks", len(chunks))
	return nil
}

// GetDocument retrieves a document by ID, scoped by tenant.
func (s *Store) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	tenantID := storage.GetTenant(ctx)

	row := s.pool.QueryRow(ctx, `
		SELECT id, source, title, metadata, chunk_count, created_at
		FROM documents
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, id, tenantID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the tenant's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*storage.Document, error) {
	tenantID := storage.GetTenant(ctx)

	rows, err := s.pool.Query(ctx, `
		SELECT id, source, title, metadata, chunk_count, created_at
		FROM documents
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at DESC, id DESC
	`, tenantID)
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

// DeleteDocument removes a document. Chunks go with it via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM documents WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBySource removes all documents ingested from source.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	tenantID := storage.GetTenant(ctx)

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM documents WHERE source = $1 AND ($2 = '' OR tenant_id = $2)
	`, source, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting documents by source: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Search scores the tenant's chunks against query.
// TODO: move scoring into the database once pgvector is available in the
// target deployments.
func (s *Store) Search(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	tenantID := storage.GetTenant(ctx)

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, idx, content, source, line_start, line_end, embedding
		FROM chunks
		WHERE ($1 = '' OR tenant_id = $1)
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	ranker := storage.NewRanker(query, opts)
	for rows.Next() {
		var c storage.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.Source, &c.LineStart, &c.LineEnd, &c.Embedding); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		ranker.Add(c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	return ranker.Results(), nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanDocument(row pgx.Row) (*storage.Document, error) {
	var (
		doc      storage.Document
		title    *string
		metaJSON []byte
	)
	if err := row.Scan(&doc.ID, &doc.Source, &title, &metaJSON, &doc.Chunks, &doc.CreatedAt); err != nil {
		return nil, err
	}
	if title != nil {
		doc.Title = *title
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &doc, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts empty JSON to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
