package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists outbox messages. Implementations must keep Pending ordered
// by creation time and expose atomic per-message status transitions.
type Store interface {
	// Store stages one message as pending.
	Store(ctx context.Context, msg Message) error
	// StoreAll stages a batch as pending.
	StoreAll(ctx context.Context, msgs []Message) error
	// Pending returns up to limit deliverable messages in creation order:
	// pending ones plus failed ones still under the retry budget.
	Pending(ctx context.Context, limit, maxRetries int) ([]Message, error)
	// MarkProcessed transitions a message to processed.
	MarkProcessed(ctx context.Context, id string) error
	// MarkFailed transitions a message to failed, incrementing its retry
	// count and recording the error.
	MarkFailed(ctx context.Context, id, errMsg string) error
	// RetryFailed resets every failed message to pending with a fresh retry
	// budget and returns how many were reset.
	RetryFailed(ctx context.Context) (int, error)
	// Exhausted returns messages that have used up retries, for reporting.
	Exhausted(ctx context.Context, maxRetries int) ([]Message, error)
	// OldestPendingAge reports the age of the oldest deliverable message:
	// pending, or failed but still under the retry budget. Exhausted
	// messages do not count; they wait on an operator, not on the poller.
	OldestPendingAge(ctx context.Context, maxRetries int) (time.Duration, bool, error)
}

// MemoryStore is an in-memory outbox for tests and embedded use.
type MemoryStore struct {
	mu   sync.Mutex
	msgs map[string]*Message
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string]*Message)}
}

// Store implements Store.
func (s *MemoryStore) Store(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(msg)
}

// StoreAll implements Store.
func (s *MemoryStore) StoreAll(_ context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		if err := s.put(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) put(msg Message) error {
	if _, exists := s.msgs[msg.ID]; exists {
		return fmt.Errorf("outbox: message %s already staged", msg.ID)
	}
	msg.Status = StatusPending
	s.msgs[msg.ID] = &msg
	return nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(_ context.Context, limit, maxRetries int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.msgs {
		if m.Status == StatusPending || (m.Status == StatusFailed && m.RetryCount < maxRetries) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkProcessed implements Store.
func (s *MemoryStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return fmt.Errorf("outbox: message %s not found", id)
	}
	m.Status = StatusProcessed
	m.LastError = ""
	return nil
}

// MarkFailed implements Store.
func (s *MemoryStore) MarkFailed(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return fmt.Errorf("outbox: message %s not found", id)
	}
	m.Status = StatusFailed
	m.RetryCount++
	m.LastError = errMsg
	return nil
}

// RetryFailed implements Store.
func (s *MemoryStore) RetryFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Status == StatusFailed {
			m.Status = StatusPending
			m.RetryCount = 0
			n++
		}
	}
	return n, nil
}

// Exhausted implements Store.
func (s *MemoryStore) Exhausted(_ context.Context, maxRetries int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.msgs {
		if m.Status == StatusFailed && m.RetryCount >= maxRetries {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// OldestPendingAge implements Store.
func (s *MemoryStore) OldestPendingAge(_ context.Context, maxRetries int) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	found := false
	for _, m := range s.msgs {
		if m.Status != StatusPending && !(m.Status == StatusFailed && m.RetryCount < maxRetries) {
			continue
		}
		if !found || m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
			found = true
		}
	}
	if !found {
		return 0, false, nil
	}
	return time.Since(oldest), true, nil
}

// Get returns a message by id (test helper).
func (s *MemoryStore) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}
