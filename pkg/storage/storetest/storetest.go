// Package storetest holds behaviour tests shared by storage.Store adapters.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/plauder/pkg/storage"
)

// MakeDocument returns a document with n chunks whose embeddings point
// along axis i mod dims.
func MakeDocument(source string, n, dims int) (*storage.Document, []storage.Chunk) {
	doc := &storage.Document{
		ID:        uuid.NewString(),
		Source:    source,
		Title:     source,
		Metadata:  map[string]string{"kind": "test"},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	chunks := make([]storage.Chunk, n)
	for i := range n {
		vec := make([]float32, dims)
		vec[i%dims] = 1
		chunks[i] = storage.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      i,
			Content:    fmt.Sprintf("%s chunk %d", source, i),
			Source:     source,
			LineStart:  i*10 + 1,
			LineEnd:    i*10 + 9,
			Embedding:  vec,
		}
	}
	return doc, chunks
}

// Run exercises a fresh store created by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("SaveAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc, chunks := MakeDocument("guide.md", 3, 4)
		if err := s.SaveDocument(ctx, doc, chunks); err != nil {
			t.Fatalf("SaveDocument: %v", err)
		}
		got, err := s.GetDocument(ctx, doc.ID)
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if got.Source != "guide.md" || got.Chunks != 3 {
			t.Errorf("document = %+v", got)
		}
		if got.Metadata["kind"] != "test" {
			t.Errorf("metadata = %v", got.Metadata)
		}
		if err := s.SaveDocument(ctx, doc, chunks); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("duplicate SaveDocument = %v, want ErrConflict", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.GetDocument(ctx, uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetDocument = %v, want ErrNotFound", err)
		}
		if err := s.DeleteDocument(ctx, uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("DeleteDocument = %v, want ErrNotFound", err)
		}
	})

	t.Run("Search", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc, chunks := MakeDocument("notes.txt", 4, 4)
		if err := s.SaveDocument(ctx, doc, chunks); err != nil {
			t.Fatal(err)
		}
		results, err := s.Search(ctx, []float32{0, 1, 0, 0}, storage.SearchOptions{Limit: 2, MinScore: 0.5})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		r := results[0]
		if r.Chunk.Index != 1 || r.Score < 0.999 {
			t.Errorf("result = %+v", r)
		}
		if r.Chunk.Content != "notes.txt chunk 1" || r.Chunk.DocumentID != doc.ID || r.Chunk.LineStart != 11 {
			t.Errorf("chunk = %+v", r.Chunk)
		}
	})

	t.Run("DeleteRemovesChunks", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc, chunks := MakeDocument("gone.md", 2, 2)
		if err := s.SaveDocument(ctx, doc, chunks); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteDocument(ctx, doc.ID); err != nil {
			t.Fatalf("DeleteDocument: %v", err)
		}
		results, err := s.Search(ctx, []float32{1, 0}, storage.SearchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("search after delete returned %d results", len(results))
		}
	})

	t.Run("DeleteBySource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for range 2 {
			doc, chunks := MakeDocument("dup.md", 1, 2)
			if err := s.SaveDocument(ctx, doc, chunks); err != nil {
				t.Fatal(err)
			}
		}
		keep, keepChunks := MakeDocument("keep.md", 1, 2)
		if err := s.SaveDocument(ctx, keep, keepChunks); err != nil {
			t.Fatal(err)
		}

		n, err := s.DeleteBySource(ctx, "dup.md")
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("removed %d, want 2", n)
		}
		docs, err := s.ListDocuments(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 || docs[0].ID != keep.ID {
			t.Errorf("remaining = %+v", docs)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		s := newStore(t)
		alice := storage.SetTenant(context.Background(), "alice")
		bob := storage.SetTenant(context.Background(), "bob")

		doc, chunks := MakeDocument("private.md", 1, 2)
		if err := s.SaveDocument(alice, doc, chunks); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetDocument(bob, doc.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("foreign GetDocument = %v, want ErrNotFound", err)
		}
		if err := s.DeleteDocument(bob, doc.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("foreign DeleteDocument = %v, want ErrNotFound", err)
		}
		results, err := s.Search(bob, []float32{1, 0}, storage.SearchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("foreign Search returned %d results", len(results))
		}
		docs, _ := s.ListDocuments(bob)
		if len(docs) != 0 {
			t.Errorf("foreign ListDocuments returned %d documents", len(docs))
		}
		if _, err := s.GetDocument(alice, doc.ID); err != nil {
			t.Errorf("owner GetDocument: %v", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := newStore(t).HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}
