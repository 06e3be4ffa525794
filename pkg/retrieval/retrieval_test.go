package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/embedding"
	"github.com/rhuss/plauder/pkg/storage"
	"github.com/rhuss/plauder/pkg/storage/memory"
)

func newFixture(t *testing.T) (*Indexer, *Retriever, storage.Store) {
	t.Helper()
	store := memory.New(0)
	pipe := embedding.NewPipeline(embedding.HashFactory{Dimensions: 256})
	t.Cleanup(func() { pipe.Close() })
	return NewIndexer(store, pipe, ChunkOptions{Size: 200, Overlap: 20}, "memory"),
		NewRetriever(store, pipe, RetrieverConfig{TopK: 2, MinScore: 0.2}),
		store
}

func TestIngestAndSearch(t *testing.T) {
	ix, r, _ := newFixture(t)
	ctx := context.Background()

	doc, err := ix.Ingest(ctx, IngestRequest{
		Source:  "engine.md",
		Content: "The engine loads the model once.\n\nConcurrent callers share the load.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Chunks != 1 || doc.ID == "" {
		t.Errorf("doc = %+v", doc)
	}
	if _, err := ix.Ingest(ctx, IngestRequest{Source: "fruit.md", Content: "Bananas are yellow fruit."}); err != nil {
		t.Fatal(err)
	}

	results, err := r.Search(ctx, "how does the engine load the model", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Chunk.Source != "engine.md" {
		t.Fatalf("results = %+v", results)
	}
}

func TestIngestEmpty(t *testing.T) {
	ix, _, _ := newFixture(t)
	for _, content := range []string{"", "   ", "... !!!"} {
		if _, err := ix.Ingest(context.Background(), IngestRequest{Source: "x", Content: content}); !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("Ingest(%q) error = %v, want ErrEmptyDocument", content, err)
		}
	}
}

func TestIngestReplace(t *testing.T) {
	ix, _, store := newFixture(t)
	ctx := context.Background()

	for _, body := range []string{"first version", "second version"} {
		if _, err := ix.Ingest(ctx, IngestRequest{Source: "doc.md", Content: body, Replace: true}); err != nil {
			t.Fatal(err)
		}
	}
	docs, _ := store.ListDocuments(ctx)
	if len(docs) != 1 {
		t.Errorf("got %d documents, want 1", len(docs))
	}
}

func TestAugment(t *testing.T) {
	ix, r, _ := newFixture(t)
	ctx := context.Background()
	if _, err := ix.Ingest(ctx, IngestRequest{Source: "plauder.md", Content: "Plauder streams chat completions from a local model."}); err != nil {
		t.Fatal(err)
	}

	history := []api.ChatMessage{
		api.UserMessage("hello"),
		api.AssistantMessage("hi"),
		api.UserMessage("what does plauder stream from the local model?"),
	}
	out, err := r.Augment(ctx, history)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("augmented history has %d messages, want 4", len(out))
	}
	if out[2].Role != api.RoleSystem || !strings.Contains(out[2].Text(), "[1] plauder.md") {
		t.Errorf("context message = %s %q", out[2].Role, out[2].Text())
	}
	if out[3].Text() != "what does plauder stream from the local model?" {
		t.Errorf("last message = %q", out[3].Text())
	}
	if len(history) != 3 {
		t.Error("input history was modified")
	}
}

func TestAugmentNoMatch(t *testing.T) {
	_, r, _ := newFixture(t)
	history := []api.ChatMessage{api.UserMessage("anything")}
	out, err := r.Augment(context.Background(), history)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("history changed without matches: %+v", out)
	}
}

func TestAugmentNoUserMessage(t *testing.T) {
	_, r, _ := newFixture(t)
	history := []api.ChatMessage{api.SystemMessage("be nice")}
	out, err := r.Augment(context.Background(), history)
	if err != nil || len(out) != 1 {
		t.Errorf("Augment = %+v, %v", out, err)
	}
}

func TestTitleOf(t *testing.T) {
	if got := titleOf("intro\n# Heading\nbody", "f.md"); got != "Heading" {
		t.Errorf("titleOf = %q", got)
	}
	if got := titleOf("no heading", "f.md"); got != "f.md" {
		t.Errorf("titleOf = %q", got)
	}
}
