package store

import (
	"context"
	"sync"
	"time"
)

// MemoryConversations is an in-memory Conversations implementation.
// Thread-safe; suitable for tests and single-instance runs without a
// database path configured.
type MemoryConversations struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
	now    func() time.Time
}

// NewMemoryConversations creates an empty in-memory store.
func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{
		states: make(map[string]*ConversationState),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *MemoryConversations) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryConversations) Get(ctx context.Context, roomID string) (*ConversationState, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[roomID]; ok {
		return s.Clone(), nil
	}
	return NewConversationState(roomID, m.now()), nil
}

func (m *MemoryConversations) Merge(ctx context.Context, roomID string, update Update) (*ConversationState, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[roomID]
	if !ok {
		s = NewConversationState(roomID, m.now())
		m.states[roomID] = s
	}
	update.apply(s, m.now())
	return s.Clone(), nil
}

func (m *MemoryConversations) Reap(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := 0
	for roomID, s := range m.states {
		if s.LastUpdated.Before(olderThan) {
			delete(m.states, roomID)
			reaped++
		}
	}
	return reaped, nil
}

func (m *MemoryConversations) Close() error { return nil }

// Len returns the number of tracked rooms. Test hook.
func (m *MemoryConversations) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
