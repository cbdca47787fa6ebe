package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
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

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
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

func newTestEngine(t *testing.T, store *board.Store) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Store:      store,
		Clock:      fixedClock(1700000100000),
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func seedSession(t *testing.T, store *board.Store, id string) *board.Session {
	t.Helper()
	session := &board.Session{
		ID:           id,
		HostID:       id + "-host",
		Name:         "Sprint 42",
		Stage:        stage.Group,
		Columns:      []string{"Start", "Stop", "Continue"},
		VotesPerUser: 3,
		CreatedAtMS:  1700000000000,
		UpdatedAtMS:  1700000000000,
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func seedCard(t *testing.T, store *board.Store, sessionID, id, column, content string, createdAtMS int64) *board.Card {
	t.Helper()
	card := &board.Card{
		ID:          id,
		SessionID:   sessionID,
		UserID:      "author-1",
		Column:      column,
		Content:     content,
		CreatedAtMS: createdAtMS,
		UpdatedAtMS: createdAtMS,
	}
	if err := store.CreateCard(context.Background(), card); err != nil {
		t.Fatalf("seed card %s: %v", id, err)
	}
	return card
}

func mustMerge(t *testing.T, engine *Engine, sourceID, targetID string) MergeResult {
	t.Helper()
	result, err := engine.MergeCards(context.Background(), sourceID, targetID)
	if err != nil {
		t.Fatalf("merge %s onto %s: %v", sourceID, targetID, err)
	}
	return result
}

// verifyClusterInvariants asserts, after any mutation, that every
// cluster has 2+ members, every member points back at its cluster, and
// member columns match the cluster column.
func verifyClusterInvariants(t *testing.T, store *board.Store, sessionID string) {
	t.Helper()
	ctx := context.Background()
	clusters, err := store.FindClustersBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("list clusters: %v", err)
	}
	for _, cl := range clusters {
		if len(cl.CardIDs) < 2 {
			t.Fatalf("cluster %s has %d members, want >= 2", cl.ID, len(cl.CardIDs))
		}
		for _, cardID := range cl.CardIDs {
			card, err := store.FindCard(ctx, cardID)
			if err != nil {
				t.Fatalf("cluster %s references missing card %s", cl.ID, cardID)
			}
			if !card.Clustered() || *card.ClusterID != cl.ID {
				t.Fatalf("card %s does not point back at cluster %s", cardID, cl.ID)
			}
			if card.Column != cl.Column {
				t.Fatalf("card %s in column %q, cluster %s in %q", cardID, card.Column, cl.ID, cl.Column)
			}
		}
	}
	cards, err := store.FindCardsBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	for _, card := range cards {
		if !card.Clustered() {
			continue
		}
		cl, err := store.FindCluster(ctx, *card.ClusterID)
		if err != nil {
			t.Fatalf("card %s points at missing cluster %s", card.ID, *card.ClusterID)
		}
		if !cl.Contains(card.ID) {
			t.Fatalf("cluster %s does not list member card %s", cl.ID, card.ID)
		}
	}
}
