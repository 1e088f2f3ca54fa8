package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store abstracts cart persistence for the HTTP surface. Durable storage is
// owned by the surrounding platform; this package only ships an in-process
// implementation.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Cart, error)
	Put(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type memoryEntry struct {
	cart      *Cart
	expiresAt time.Time
}

// MemoryStore keeps carts in process memory with a sliding TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]memoryEntry
	TTL     time.Duration
	Now     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: map[uuid.UUID]memoryEntry{}, TTL: ttl}
}

func (s *MemoryStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the cart with the given ID, refreshing its TTL.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	entry.expiresAt = s.now().Add(s.ttl())
	s.entries[id] = entry
	return entry.cart, nil
}

// Put stores or replaces a cart.
func (s *MemoryStore) Put(_ context.Context, c *Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.ID] = memoryEntry{cart: c, expiresAt: s.now().Add(s.ttl())}
	return nil
}

// Delete removes a cart.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}
