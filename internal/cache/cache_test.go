package cache

import (
	"context"
	"testing"
	"time"
)

func TestKeyNormalization(t *testing.T) {
	if Key("  Hola MUNDO  ", "p") != Key("hola mundo", "p") {
		t.Error("case and whitespace must not change the key")
	}
	if Key("hola", "persona-a") == Key("hola", "persona-b") {
		t.Error("different personas must not share a key")
	}
	if Key("hola", "p") == Key("mundo", "p") {
		t.Error("different queries must not share a key")
	}
}

func TestMemoryTTL(t *testing.T) {
	m := NewMemory(30 * time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	key := Key("cómo cambio mi plan", "support")
	if err := m.Set(ctx, key, "respuesta"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got, ok := m.Get(ctx, key); !ok || got != "respuesta" {
		t.Fatalf("Get = %q, %v; want hit", got, ok)
	}

	now = now.Add(29 * time.Minute)
	if _, ok := m.Get(ctx, key); !ok {
		t.Error("entry expired before the TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := m.Get(ctx, key); ok {
		t.Error("expired entry still served")
	}
}

func TestMemoryMiss(t *testing.T) {
	m := NewMemory(time.Minute)
	if _, ok := m.Get(context.Background(), "missing"); ok {
		t.Error("hit on an unknown key")
	}
}

func TestMemorySweep(t *testing.T) {
	m := NewMemory(30 * time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	m.Set(ctx, "old", "a")
	now = now.Add(31 * time.Minute)
	m.Set(ctx, "fresh", "b")

	if purged := m.Sweep(ctx); purged != 1 {
		t.Errorf("Sweep = %d, want 1", purged)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", m.Len())
	}
	if _, ok := m.Get(ctx, "fresh"); !ok {
		t.Error("fresh entry purged")
	}
}
