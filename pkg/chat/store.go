package chat

import (
	"container/list"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rhuss/plauder/pkg/storage"
)

// ErrSessionNotFound is returned for unknown, evicted or foreign sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrClaimReleased is returned by Claim.Send once the claim was released.
var ErrClaimReleased = errors.New("send claim already released")

type sessionEntry struct {
	session *Session
	lruElem *list.Element
}

// SessionStore keeps sessions in memory with optional LRU eviction.
// Sessions are lost when the process exits.
type SessionStore struct {
	assembler *Assembler

	mu      sync.Mutex
	entries map[string]*sessionEntry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
}

// NewSessionStore creates a store whose sessions use assembler. If maxSize
// is 0 the store grows without limit; otherwise the least recently used
// idle session is evicted when the limit is reached.
func NewSessionStore(assembler *Assembler, maxSize int) *SessionStore {
	return &SessionStore{
		assembler: assembler,
		entries:   make(map[string]*sessionEntry),
		lruList:   list.New(),
		maxSize:   maxSize,
	}
}

// Create starts a new session owned by the tenant in ctx.
func (s *SessionStore) Create(ctx context.Context) *Session {
	sess := NewSession(s.assembler)
	sess.tenant = storage.GetTenant(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}
	elem := s.lruList.PushFront(sess.ID)
	s.entries[sess.ID] = &sessionEntry{session: sess, lruElem: elem}
	return sess
}

// Get returns a session and marks it recently used.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !visible(ctx, e.session) {
		return nil, ErrSessionNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.session, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !visible(ctx, e.session) {
		return ErrSessionNotFound
	}
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	return nil
}

// List returns the tenant's sessions, most recently created first.
func (s *SessionStore) List(ctx context.Context) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Session
	for _, e := range s.entries {
		if visible(ctx, e.session) {
			out = append(out, e.session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Len returns the number of stored sessions across tenants.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func visible(ctx context.Context, sess *Session) bool {
	tenant := storage.GetTenant(ctx)
	return tenant == "" || sess.tenant == tenant
}

// evictOldest removes the least recently used session that is not sending.
// Must be called with s.mu held.
func (s *SessionStore) evictOldest() {
	for elem := s.lruList.Back(); elem != nil; elem = elem.Prev() {
		id := elem.Value.(string)
		if s.entries[id].session.Sending() {
			continue
		}
		s.lruList.Remove(elem)
		delete(s.entries, id)
		return
	}
}
