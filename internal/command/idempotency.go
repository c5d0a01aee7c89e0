package command

import (
	"context"
	"sync"

	"github.com/perfdesk/eventcore/internal/domain"
)

// IdempotencyStore records dispatch results by idempotency key so retried
// requests replay the original outcome instead of re-invoking the handler.
// A key is claimed before the handler runs; exactly one concurrent dispatch
// wins the claim. Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	// Get returns the recorded result for key, if one has been recorded.
	Get(ctx context.Context, key string) (domain.Result[any], bool, error)
	// Claim marks key as in flight. Returns false when another dispatch
	// already claimed or recorded it.
	Claim(ctx context.Context, key string) (bool, error)
	// Put records the final result under a claimed key. First writer wins;
	// re-recording an already recorded key is a no-op.
	Put(ctx context.Context, key string, res domain.Result[any]) error
	// Release frees a claimed key whose dispatch did not record a result,
	// so a later retry can run the handler again.
	Release(ctx context.Context, key string) error
}

type memoryIdempotencyEntry struct {
	recorded bool
	res      domain.Result[any]
}

// MemoryIdempotencyStore is an in-memory store for tests and embedded use.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memoryIdempotencyEntry
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*memoryIdempotencyEntry)}
}

// Get returns the recorded result for key, if any. In-flight claims are not
// visible.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (domain.Result[any], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.recorded {
		return domain.Result[any]{}, false, nil
	}
	return e.res, true, nil
}

// Claim implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return false, nil
	}
	s.entries[key] = &memoryIdempotencyEntry{}
	return true, nil
}

// Put records a result under key. An already recorded key keeps its original
// result.
func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, res domain.Result[any]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.recorded {
		return nil
	}
	s.entries[key] = &memoryIdempotencyEntry{recorded: true, res: res}
	return nil
}

// Release implements IdempotencyStore. Recorded results are never released.
func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.recorded {
		delete(s.entries, key)
	}
	return nil
}
