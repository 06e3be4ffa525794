package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/storage"
)

// RetrieverConfig bounds retrieval.
type RetrieverConfig struct {
	TopK     int
	MinScore float64
}

// Retriever finds chunks relevant to a query and folds them into prompts.
type Retriever struct {
	store    storage.Store
	embedder Embedder
	cfg      RetrieverConfig
}

// NewRetriever creates a Retriever.
func NewRetriever(store storage.Store, embedder Embedder, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = storage.DefaultSearchLimit
	}
	return &Retriever{store: store, embedder: embedder, cfg: cfg}
}

// Search embeds query and returns the best matching chunks. A limit of 0
// uses the configured top-k.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]storage.SearchResult, error) {
	if limit <= 0 {
		limit = r.cfg.TopK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := r.store.Search(ctx, vec, storage.SearchOptions{Limit: limit, MinScore: r.cfg.MinScore})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	debug.Log("retrieval", "search", "query", debug.Truncate(query, 80), "results", len(results))
	return results, nil
}

// Augment inserts a system message with retrieved context right before the
// last user message. Histories without a user message, or queries with no
// match, are returned unchanged.
func (r *Retriever) Augment(ctx context.Context, history []api.ChatMessage) ([]api.ChatMessage, error) {
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == api.RoleUser {
			last = i
			break
		}
	}
	if last < 0 || strings.TrimSpace(history[last].Text()) == "" {
		return history, nil
	}

	results, err := r.Search(ctx, history[last].Text(), 0)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return history, nil
	}

	out := make([]api.ChatMessage, 0, len(history)+1)
	out = append(out, history[:last]...)
	out = append(out, api.SystemMessage(FormatContext(results)))
	out = append(out, history[last:]...)
	return out, nil
}

// FormatContext renders search results as a system prompt.
func FormatContext(results []storage.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Answer using the following context when it is relevant. Cite sources by their number.\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[%d] %s", i+1, r.Chunk.Source)
		if r.Chunk.LineStart > 0 {
			fmt.Fprintf(&sb, " (lines %d-%d)", r.Chunk.LineStart, r.Chunk.LineEnd)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(r.Chunk.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}
