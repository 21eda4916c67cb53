package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or expired previews.
var ErrNotFound = errors.New("preview not found")

// Store keeps rendered documents addressable by id for a limited time.
type Store interface {
	// Put stores d and returns its id.
	Put(ctx context.Context, d Document) (string, error)

	// Get returns a stored document or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// Close releases resources.
	Close() error
}

type memEntry struct {
	doc     Document
	expires time.Time
}

// MemoryStore is an in-process Store bounded by entry count and TTL.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	order      []string // insertion order, oldest first
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates a MemoryStore. Zero ttl or maxEntries disables the
// respective bound.
func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, d Document) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	var expires time.Time
	if s.ttl > 0 {
		expires = s.now().Add(s.ttl)
	}
	s.entries[id] = memEntry{doc: d, expires: expires}
	s.order = append(s.order, id)

	for s.maxEntries > 0 && len(s.order) > s.maxEntries {
		delete(s.entries, s.order[0])
		s.order = s.order[1:]
	}
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || (!e.expires.IsZero() && s.now().After(e.expires)) {
		return Document{}, ErrNotFound
	}
	return e.doc, nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	return len(s.entries)
}

// evictLocked drops expired entries from the front of the order list.
// Entries share one TTL, so expiry follows insertion order.
func (s *MemoryStore) evictLocked() {
	if s.ttl <= 0 {
		return
	}
	now := s.now()
	n := 0
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok && now.After(e.expires) {
			delete(s.entries, id)
			n++
			continue
		}
		break
	}
	s.order = s.order[n:]
}

func (s *MemoryStore) Close() error { return nil }
