// Package memory provides an in-memory implementation of storage.Store for
// testing and lightweight deployments. Documents are lost when the process
// restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/plauder/pkg/storage"
)

// entry holds a stored document and its metadata.
type entry struct {
	doc      *storage.Document
	chunks   []storage.Chunk
	tenantID string
	lruElem  *list.Element // position in LRU list
}

// Store is an in-memory document store with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used document is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveDocument stores a document and its chunks.
func (s *Store) SaveDocument(ctx context.Context, doc *storage.Document, chunks []storage.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[doc.ID]; exists {
		return storage.ErrConflict
	}

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	stored := *doc
	stored.Chunks = len(chunks)
	elem := s.lruList.PushFront(doc.ID)
	s.entries[doc.ID] = &entry{
		doc:      &stored,
		chunks:   append([]storage.Chunk(nil), chunks...),
		tenantID: storage.GetTenant(ctx),
		lruElem:  elem,
	}
	return nil
}

// GetDocument retrieves a document by ID. Scoped by tenant when a tenant is
// present in the context.
func (s *Store) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	doc := *e.doc
	return &doc, nil
}

// ListDocuments returns the tenant's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)
	out := []*storage.Document{}
	for _, e := range s.entries {
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		doc := *e.doc
		out = append(out, &doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}
	s.remove(e)
	return nil
}

// DeleteBySource removes all documents ingested from source.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := storage.GetTenant(ctx)
	removed := 0
	for _, e := range s.entries {
		if e.doc.Source != source {
			continue
		}
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		s.remove(e)
		removed++
	}
	return removed, nil
}

// Search ranks every chunk visible to the tenant against query.
func (s *Store) Search(ctx context.Context, query []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)
	ranker := storage.NewRanker(query, opts)
	for _, e := range s.entries {
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		for _, c := range e.chunks {
			ranker.Add(c)
		}
	}
	return ranker.Results(), nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// lookup returns the entry for id if the tenant in ctx may see it.
// Must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return nil, false
	}
	return e, true
}

// remove deletes e. Must be called with s.mu held.
func (s *Store) remove(e *entry) {
	s.lruList.Remove(e.lruElem)
	delete(s.entries, e.doc.ID)
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
