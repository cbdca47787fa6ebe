package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/cluster"
	"github.com/RuBiCK/viberetro-sub000/internal/stage"
)

func newTestRegistry(t *testing.T, store *board.Store) *Registry {
	t.Helper()
	engine, err := cluster.NewEngine(cluster.EngineConfig{
		Store:      store,
		Clock:      func() time.Time { return time.UnixMilli(1700000100000) },
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	registry, err := NewRegistry(RegistryConfig{
		Store:      store,
		Engine:     engine,
		Clock:      func() time.Time { return time.UnixMilli(1700000100000) },
		IDProvider: &sequentialIDs{},
		Publisher:  &capturingPublisher{},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestRegistryReturnsOneCoordinatorPerSession(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Setup)
	registry := newTestRegistry(t, store)

	first, err := registry.Get(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := registry.Get(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first != second {
		t.Fatalf("registry handed out two coordinators for one session")
	}
}

func TestRegistryRejectsUnknownSession(t *testing.T) {
	store := newTestStore(t)
	registry := newTestRegistry(t, store)

	if _, err := registry.Get(context.Background(), "missing"); !errors.Is(err, board.ErrNotFound) {
		t.Fatalf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestPurgeDropsCoordinatorsOfDeletedSessions(t *testing.T) {
	store := newTestStore(t)
	stale := seedSession(t, store, "session-stale", stage.Setup)
	fresh := seedSession(t, store, "session-fresh", stage.Setup)
	if err := store.UpdateSession(context.Background(), fresh.ID, map[string]any{"updated_at_ms": int64(1700000999000)}); err != nil {
		t.Fatalf("freshen session: %v", err)
	}
	registry := newTestRegistry(t, store)

	before, err := registry.Get(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("get stale coordinator: %v", err)
	}

	count, err := registry.PurgeOlderThan(context.Background(), 1700000500000)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if count != 1 {
		t.Fatalf("purged %d sessions, want 1", count)
	}
	if _, err := store.FindSession(context.Background(), stale.ID); !errors.Is(err, board.ErrNotFound) {
		t.Fatalf("stale session still stored: %v", err)
	}

	// A fresh Get must build a new coordinator; the old one was removed.
	seedSession(t, store, stale.ID, stage.Setup)
	after, err := registry.Get(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("get after purge: %v", err)
	}
	if after == before {
		t.Fatalf("purge kept the dead coordinator around")
	}
}
