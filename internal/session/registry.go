package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/cluster"
	"go.uber.org/zap"
)

// RegistryConfig carries the shared dependencies coordinators are built
// from.
type RegistryConfig struct {
	Store      *board.Store
	Engine     *cluster.Engine
	Clock      func() time.Time
	IDProvider board.IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Registry hands out the single coordinator instance per session.
// Coordinators are created lazily on first use and torn down only when
// the session is deleted or purged, preserving the one-writer-per-
// session guarantee process-wide.
type Registry struct {
	mu           sync.Mutex
	coordinators map[string]*Coordinator
	cfg          RegistryConfig
}

// NewRegistry validates the config and constructs an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("session: cluster engine is required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("session: id provider is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("session: publisher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		coordinators: make(map[string]*Coordinator),
		cfg:          cfg,
	}, nil
}

// Get returns the coordinator owning sessionID, creating it on first
// use. The session must exist in the store.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Coordinator, error) {
	r.mu.Lock()
	if existing, ok := r.coordinators[sessionID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	// Existence check outside the registry lock; store calls may block.
	if _, err := r.cfg.Store.FindSession(ctx, sessionID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.coordinators[sessionID]; ok {
		return existing, nil
	}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		SessionID:  sessionID,
		Store:      r.cfg.Store,
		Engine:     r.cfg.Engine,
		Clock:      r.cfg.Clock,
		IDProvider: r.cfg.IDProvider,
		Publisher:  r.cfg.Publisher,
		Logger:     r.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.coordinators[sessionID] = coordinator
	return coordinator, nil
}

// Remove tears down the coordinator for a deleted session.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	coordinator, ok := r.coordinators[sessionID]
	if ok {
		delete(r.coordinators, sessionID)
	}
	r.mu.Unlock()
	if ok {
		coordinator.Close()
	}
}

// PurgeOlderThan deletes sessions idle since before the cutoff and
// drops their coordinators. Returns how many sessions went away.
func (r *Registry) PurgeOlderThan(ctx context.Context, cutoffMS int64) (int, error) {
	count, err := r.cfg.Store.DeleteSessionsOlderThan(ctx, cutoffMS)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	r.mu.Lock()
	ids := make([]string, 0, len(r.coordinators))
	for id := range r.coordinators {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if _, err := r.cfg.Store.FindSession(ctx, id); errors.Is(err, board.ErrNotFound) {
			r.Remove(id)
		}
	}
	r.cfg.Logger.Info("stale sessions purged", zap.Int("count", count))
	return count, nil
}
