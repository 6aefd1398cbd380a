package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultMaxSize is the capacity of a [MemoryStore] when none is given.
const DefaultMaxSize = 1000

// entry is a stored result with its absolute expiry instant.
type entry struct {
	result    *mcp.CallToolResult
	expiresAt time.Time
}

// MemoryStore is the default in-process [Store]. Entries expire lazily on
// read and are evicted in insertion (FIFO) order when the store is full.
// Updating an existing key refreshes its value and TTL but does not change
// its eviction position and never triggers eviction.
//
// Safe for concurrent use. The zero value is not usable; create instances
// with [NewMemoryStore].
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	order   []string // keys in insertion order; order[0] is the FIFO head
	maxSize int

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Compile-time check: MemoryStore must implement Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore holding at most maxSize entries.
// A maxSize below 1 falls back to [DefaultMaxSize].
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the stored result for key, or (nil, nil) when the key is
// absent or its entry has expired. Expired entries are purged on read.
func (s *MemoryStore) Get(_ context.Context, key string) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.remove(key)
		return nil, nil
	}
	return e.result, nil
}

// Set stores result under key with the given ttl. When the store is at
// capacity and key is new, the oldest entry is evicted first.
func (s *MemoryStore) Set(_ context.Context, key string, result *mcp.CallToolResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		if len(s.order) >= s.maxSize {
			s.remove(s.order[0])
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = entry{result: result, expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete removes key from the store. Deleting an absent key is a no-op.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
	return nil
}

// Len returns the number of entries currently held, including entries that
// have expired but not yet been purged by a read.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// remove deletes key from both the entry map and the insertion-order list.
// Callers must hold s.mu.
func (s *MemoryStore) remove(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	if i := slices.Index(s.order, key); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}
