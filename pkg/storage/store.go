package storage

import (
	"context"
	"time"
)

// Document is an ingested source text.
type Document struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Title     string            `json:"title,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Chunks    int               `json:"chunks"`
	CreatedAt time.Time         `json:"created_at"`
}

// Chunk is an embedded slice of a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	LineStart  int       `json:"line_start,omitempty"`
	LineEnd    int       `json:"line_end,omitempty"`
	Embedding  []float32 `json:"-"`
}

// SearchResult is a chunk ranked against a query vector.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SearchOptions bound a similarity search.
type SearchOptions struct {
	// Limit is the maximum number of results (default 5).
	Limit int

	// MinScore drops results scoring below it.
	MinScore float64
}

// Store persists documents with their embedded chunks. All operations are
// scoped to the tenant carried by the context.
type Store interface {
	// SaveDocument stores doc and its chunks atomically. It returns
	// ErrConflict when the ID is taken.
	SaveDocument(ctx context.Context, doc *Document, chunks []Chunk) error

	// GetDocument returns a document by ID.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListDocuments returns documents newest first.
	ListDocuments(ctx context.Context) ([]*Document, error)

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// DeleteBySource removes every document ingested from source and
	// returns how many were removed.
	DeleteBySource(ctx context.Context, source string) (int, error)

	// Search returns the chunks most similar to query.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}
