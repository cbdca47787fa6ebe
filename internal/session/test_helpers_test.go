package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/cluster"
	"github.com/RuBiCK/viberetro-sub000/internal/stage"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("generated-%d", s.n), nil
}

// capturingPublisher records every published event for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturingPublisher) Publish(sessionID string, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Name)
	}
	return out
}

func (p *capturingPublisher) last(name string) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Name == name {
			return p.events[i], true
		}
	}
	return Event{}, false
}

func (p *capturingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.Name == name {
			n++
		}
	}
	return n
}

func (p *capturingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func newTestStore(t *testing.T) *board.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(board.Models()...); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	store, err := board.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func seedSession(t *testing.T, store *board.Store, id string, current stage.Stage) *board.Session {
	t.Helper()
	session := &board.Session{
		ID:                   id,
		HostID:               id + "-host-token",
		Name:                 "Sprint 42",
		Stage:                current,
		Columns:              []string{"Start", "Stop", "Continue"},
		TimerDurationSeconds: 300,
		VotesPerUser:         3,
		CreatedAtMS:          1700000000000,
		UpdatedAtMS:          1700000000000,
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func newTestCoordinator(t *testing.T, store *board.Store, sessionID string) (*Coordinator, *capturingPublisher) {
	t.Helper()
	engine, err := cluster.NewEngine(cluster.EngineConfig{
		Store:      store,
		Clock:      func() time.Time { return time.UnixMilli(1700000100000) },
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	publisher := &capturingPublisher{}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		SessionID:  sessionID,
		Store:      store,
		Engine:     engine,
		Clock:      func() time.Time { return time.UnixMilli(1700000100000) },
		IDProvider: &sequentialIDs{},
		Publisher:  publisher,
		ColorPick:  func(n int) int { return 0 },
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(coordinator.Close)
	return coordinator, publisher
}

func mustJoin(t *testing.T, c *Coordinator, displayName, hostToken string) *board.User {
	t.Helper()
	user, _, err := c.Join(context.Background(), displayName, hostToken, "")
	if err != nil {
		t.Fatalf("join %s: %v", displayName, err)
	}
	return user
}

func strptr(s string) *string { return &s }
