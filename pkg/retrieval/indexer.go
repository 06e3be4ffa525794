package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/observability"
	"github.com/rhuss/plauder/pkg/storage"
)

// Embedder turns text into a vector. *embedding.Pipeline implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) (api.EmbeddingVector, error)
}

// ErrEmptyDocument is returned when a document has no indexable text.
var ErrEmptyDocument = errors.New("document has no content")

// IngestRequest describes a document to index.
type IngestRequest struct {
	Source   string            `json:"source"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Replace removes earlier documents from the same source first.
	Replace bool `json:"replace,omitempty"`
}

// Indexer chunks, embeds and stores documents.
type Indexer struct {
	store     storage.Store
	embedder  Embedder
	chunking  ChunkOptions
	storeName string
}

// NewIndexer creates an Indexer. storeName labels the indexing metric.
func NewIndexer(store storage.Store, embedder Embedder, chunking ChunkOptions, storeName string) *Indexer {
	return &Indexer{store: store, embedder: embedder, chunking: chunking, storeName: storeName}
}

// Ingest indexes one document and returns it as stored.
func (ix *Indexer) Ingest(ctx context.Context, req IngestRequest) (*storage.Document, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyDocument
	}
	if req.Source == "" {
		req.Source = "inline"
	}

	pieces := Split(req.Content, ix.chunking)
	doc := &storage.Document{
		ID:        uuid.NewString(),
		Source:    req.Source,
		Title:     req.Title,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	chunks := make([]storage.Chunk, 0, len(pieces))
	for i, p := range pieces {
		vec, err := ix.embedder.Embed(ctx, p.Content)
		if err != nil {
			if errors.Is(err, api.ErrEmptySequence) {
				// Punctuation-only pieces carry nothing to search for.
				continue
			}
			return nil, fmt.Errorf("embedding chunk %d of %s: %w", i, req.Source, err)
		}
		chunks = append(chunks, storage.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      len(chunks),
			Content:    p.Content,
			Source:     req.Source,
			LineStart:  p.LineStart,
			LineEnd:    p.LineEnd,
			Embedding:  vec,
		})
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	if req.Replace {
		n, err := ix.store.DeleteBySource(ctx, req.Source)
		if err != nil {
			return nil, fmt.Errorf("removing previous %s: %w", req.Source, err)
		}
		if n > 0 {
			debug.Log("retrieval", "replaced documents", "source", req.Source, "removed", n)
		}
	}

	if err := ix.store.SaveDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("saving %s: %w", req.Source, err)
	}
	doc.Chunks = len(chunks)

	observability.RetrievalChunksIndexed.WithLabelValues(ix.storeName).Add(float64(len(chunks)))
	slog.Info("document indexed", "source", req.Source, "id", doc.ID, "chunks", len(chunks))
	return doc, nil
}

// IngestFile indexes a file, replacing earlier versions of it. The source
// is the path relative to root when root is set.
func (ix *Indexer) IngestFile(ctx context.Context, root, path string) (*storage.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	source := sourceName(root, path)
	return ix.Ingest(ctx, IngestRequest{
		Source:   source,
		Title:    titleOf(string(content), filepath.Base(path)),
		Content:  string(content),
		Metadata: map[string]string{"path": path},
		Replace:  true,
	})
}

// Remove deletes every document indexed from source.
func (ix *Indexer) Remove(ctx context.Context, source string) (int, error) {
	return ix.store.DeleteBySource(ctx, source)
}

func sourceName(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// titleOf returns the first markdown heading of content, or fallback.
func titleOf(content, fallback string) string {
	for _, line := range strings.SplitN(content, "\n", 20) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return fallback
}
