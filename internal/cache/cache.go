// Package cache stores assistant responses keyed by normalized query and
// persona so repeated questions skip the LLM call. Entries expire after a
// TTL; expiry is lazy on read with a periodic sweep as cleanup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Key builds the cache key from the normalized query and a digest prefix
// of the persona text, so the same question under different personas never
// collides.
func Key(query, persona string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(persona))
	return normalized + "|" + hex.EncodeToString(sum[:8])
}

// Responses is the response cache contract. Expired entries are treated
// as absent. Implementations must be safe for concurrent use.
type Responses interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, text string) error

	// Sweep removes expired entries and returns how many were purged.
	// Best-effort; staleness is bounded by the TTL, not by the sweep.
	Sweep(ctx context.Context) int

	Close() error
}

type entry struct {
	text      string
	createdAt time.Time
}

// Memory is the in-process Responses implementation.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an in-memory response cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) Get(ctx context.Context, key string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().Sub(e.createdAt) > m.ttl {
		return "", false
	}
	return e.text, true
}

func (m *Memory) Set(ctx context.Context, key, text string) error {
	m.mu.Lock()
	m.entries[key] = entry{text: text, createdAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Sweep(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for k, e := range m.entries {
		if now.Sub(e.createdAt) > m.ttl {
			delete(m.entries, k)
			purged++
		}
	}
	return purged
}

func (m *Memory) Close() error { return nil }

// Len returns the number of stored entries, expired or not. Test hook.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
