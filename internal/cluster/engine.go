// Package cluster decides how dragged cards and clusters combine. The
// merge topology is derived purely from the two cards' current cluster
// membership; every structural change is applied in one transaction so
// a failed merge leaves state untouched.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"go.uber.org/zap"
)

// NameFunc derives a display name for a cluster from its member cards.
type NameFunc func(cards []board.Card) string

// EngineConfig carries the engine dependencies.
type EngineConfig struct {
	Store      *board.Store
	Clock      func() time.Time
	IDProvider board.IDProvider
	Namer      NameFunc
	Logger     *zap.Logger
}

// Engine owns merge and ungroup decisions for one process.
type Engine struct {
	store  *board.Store
	clock  func() time.Time
	ids    board.IDProvider
	namer  NameFunc
	logger *zap.Logger
}

// NewEngine validates the config and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cluster: store is required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("cluster: id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	namer := cfg.Namer
	if namer == nil {
		namer = DefaultNamer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: cfg.Store, clock: clock, ids: cfg.IDProvider, namer: namer, logger: logger}, nil
}

// MergeResult is the change-set a merge produced, ready for broadcast.
type MergeResult struct {
	Cluster           *board.Cluster
	Created           bool
	DeletedClusterIDs []string
	UpdatedCardIDs    []string
	DeletedVoteIDs    []string
}

// deleteTargetVotes removes votes on a disappearing target and reports
// which vote rows went away, so callers can broadcast the deletions.
func deleteTargetVotes(ctx context.Context, tx *board.Store, targetID string) ([]string, error) {
	votes, err := tx.FindVotesByTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if len(votes) == 0 {
		return nil, nil
	}
	if err := tx.DeleteVotesByTarget(ctx, targetID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(votes))
	for _, vote := range votes {
		ids = append(ids, vote.ID)
	}
	return ids, nil
}

// MergeCards combines the two cards identified by a drag gesture.
//
// Topological cases, decided from the cards' clusterId values:
//
//	A: neither clustered        -> new two-card cluster at the target
//	B: source clustered only    -> target joins, cluster migrates to target's column
//	C: target clustered only    -> source joins the target's cluster
//	D: same cluster already     -> no-op with empty deltas
//	E: two distinct clusters    -> source's cluster absorbs the target's
func (e *Engine) MergeCards(ctx context.Context, sourceCardID, targetCardID string) (MergeResult, error) {
	if sourceCardID == targetCardID {
		return MergeResult{}, fmt.Errorf("%w: cannot merge a card with itself", board.ErrInvalidOperation)
	}

	source, err := e.store.FindCard(ctx, sourceCardID)
	if err != nil {
		return MergeResult{}, err
	}
	target, err := e.store.FindCard(ctx, targetCardID)
	if err != nil {
		return MergeResult{}, err
	}
	if source.SessionID != target.SessionID {
		return MergeResult{}, fmt.Errorf("%w: cards belong to different sessions", board.ErrInvalidOperation)
	}

	// Case D: accidental self-merge inside one cluster is idempotent.
	if source.Clustered() && target.Clustered() && *source.ClusterID == *target.ClusterID {
		existing, err := e.store.FindCluster(ctx, *source.ClusterID)
		if err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Cluster: existing}, nil
	}

	var result MergeResult
	err = e.store.Transaction(ctx, func(tx *board.Store) error {
		switch {
		case !source.Clustered() && !target.Clustered():
			result, err = e.mergeLoose(ctx, tx, source, target)
		case source.Clustered() && !target.Clustered():
			result, err = e.mergeIntoCluster(ctx, tx, *source.ClusterID, target, true)
		case !source.Clustered() && target.Clustered():
			result, err = e.mergeIntoCluster(ctx, tx, *target.ClusterID, source, false)
		default:
			result, err = e.mergeClusters(ctx, tx, *source.ClusterID, *target.ClusterID)
		}
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}

	e.logger.Debug("cards merged",
		zap.String("session_id", source.SessionID),
		zap.String("cluster_id", result.Cluster.ID),
		zap.Int("members", len(result.Cluster.CardIDs)))
	return result, nil
}

// mergeLoose handles case A: two standalone cards become a new cluster
// in the target's column at the target's position. The cluster inherits
// max(createdAt) so it never sorts older than its newest member.
func (e *Engine) mergeLoose(ctx context.Context, tx *board.Store, source, target *board.Card) (MergeResult, error) {
	clusterID, err := e.ids.NewID()
	if err != nil {
		return MergeResult{}, err
	}
	nowMS := e.clock().UnixMilli()

	created := &board.Cluster{
		ID:          clusterID,
		SessionID:   target.SessionID,
		CardIDs:     []string{source.ID, target.ID},
		Column:      target.Column,
		Position:    target.Position,
		CreatedAtMS: maxInt64(source.CreatedAtMS, target.CreatedAtMS),
		UpdatedAtMS: nowMS,
	}
	created.Name = e.namer([]board.Card{*source, *target})

	source.Column = target.Column
	source.ClusterID = &created.ID
	source.UpdatedAtMS = nowMS
	target.ClusterID = &created.ID
	target.UpdatedAtMS = nowMS

	if err := tx.CreateCluster(ctx, created); err != nil {
		return MergeResult{}, err
	}
	if err := tx.SaveCard(ctx, source); err != nil {
		return MergeResult{}, err
	}
	if err := tx.SaveCard(ctx, target); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{
		Cluster:        created,
		Created:        true,
		UpdatedCardIDs: []string{source.ID, target.ID},
	}, nil
}

// mergeIntoCluster handles cases B and C: a loose card joins an existing
// cluster. When the loose card was the drag target (case B), the cluster
// migrates to that card's column; when it was the source (case C), the
// card adopts the cluster's column instead.
func (e *Engine) mergeIntoCluster(ctx context.Context, tx *board.Store, clusterID string, loose *board.Card, looseIsTarget bool) (MergeResult, error) {
	cl, err := tx.FindCluster(ctx, clusterID)
	if err != nil {
		return MergeResult{}, err
	}
	nowMS := e.clock().UnixMilli()
	updated := []string{loose.ID}

	if looseIsTarget && cl.Column != loose.Column {
		migrated, err := e.migrateColumn(ctx, tx, cl, loose.Column, nowMS)
		if err != nil {
			return MergeResult{}, err
		}
		updated = append(updated, migrated...)
	}

	loose.ClusterID = &cl.ID
	loose.Column = cl.Column
	loose.UpdatedAtMS = nowMS
	if err := tx.SaveCard(ctx, loose); err != nil {
		return MergeResult{}, err
	}

	cl.CardIDs = append(cl.CardIDs, loose.ID)
	cl.UpdatedAtMS = nowMS
	if err := e.renameAndSave(ctx, tx, cl); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Cluster: cl, UpdatedCardIDs: updated}, nil
}

// mergeClusters handles case E: the source card's cluster absorbs the
// target card's cluster. Absorbed cards move to the surviving column;
// the surviving cluster takes over the absorbed cluster's position.
func (e *Engine) mergeClusters(ctx context.Context, tx *board.Store, survivingID, absorbedID string) (MergeResult, error) {
	surviving, err := tx.FindCluster(ctx, survivingID)
	if err != nil {
		return MergeResult{}, err
	}
	absorbed, err := tx.FindCluster(ctx, absorbedID)
	if err != nil {
		return MergeResult{}, err
	}

	nowMS := e.clock().UnixMilli()
	updated := make([]string, 0, len(absorbed.CardIDs))
	for _, cardID := range absorbed.CardIDs {
		card, err := tx.FindCard(ctx, cardID)
		if err != nil {
			return MergeResult{}, err
		}
		card.ClusterID = &surviving.ID
		card.Column = surviving.Column
		card.UpdatedAtMS = nowMS
		if err := tx.SaveCard(ctx, card); err != nil {
			return MergeResult{}, err
		}
		surviving.CardIDs = append(surviving.CardIDs, cardID)
		updated = append(updated, cardID)
	}

	surviving.Position = absorbed.Position
	surviving.UpdatedAtMS = nowMS

	deletedVotes, err := deleteTargetVotes(ctx, tx, absorbed.ID)
	if err != nil {
		return MergeResult{}, err
	}
	if err := tx.DeleteCluster(ctx, absorbed.ID); err != nil {
		return MergeResult{}, err
	}
	if err := e.renameAndSave(ctx, tx, surviving); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{
		Cluster:           surviving,
		DeletedClusterIDs: []string{absorbed.ID},
		UpdatedCardIDs:    updated,
		DeletedVoteIDs:    deletedVotes,
	}, nil
}

// UngroupResult is the change-set a full cluster dissolve produced.
type UngroupResult struct {
	ClusterID      string
	FreedCardIDs   []string
	DeletedVoteIDs []string
}

// Ungroup dissolves a cluster entirely: every member card becomes
// standalone again and the cluster row (with any votes on it) goes away.
// Partial removal of a single card is not offered through this path.
func (e *Engine) Ungroup(ctx context.Context, clusterID string) (UngroupResult, error) {
	cl, err := e.store.FindCluster(ctx, clusterID)
	if err != nil {
		return UngroupResult{}, err
	}

	result := UngroupResult{ClusterID: cl.ID}
	err = e.store.Transaction(ctx, func(tx *board.Store) error {
		nowMS := e.clock().UnixMilli()
		for _, cardID := range cl.CardIDs {
			card, err := tx.FindCard(ctx, cardID)
			if err != nil {
				return err
			}
			card.ClusterID = nil
			card.UpdatedAtMS = nowMS
			if err := tx.SaveCard(ctx, card); err != nil {
				return err
			}
			result.FreedCardIDs = append(result.FreedCardIDs, cardID)
		}
		deletedVotes, err := deleteTargetVotes(ctx, tx, cl.ID)
		if err != nil {
			return err
		}
		result.DeletedVoteIDs = deletedVotes
		return tx.DeleteCluster(ctx, cl.ID)
	})
	if err != nil {
		return UngroupResult{}, err
	}
	return result, nil
}

// RemoveResult is the change-set produced by taking one card out of its
// cluster. Cluster is nil when the removal dissolved the cluster.
type RemoveResult struct {
	Cluster          *board.Cluster
	DeletedClusterID string
	FreedCardIDs     []string
	DeletedVoteIDs   []string
}

// RemoveCard takes one card out of its cluster, used when the card is
// deleted. A cluster left with fewer than two members is invalid, so the
// last remaining card is ungrouped and the cluster deleted.
func (e *Engine) RemoveCard(ctx context.Context, clusterID, cardID string) (RemoveResult, error) {
	cl, err := e.store.FindCluster(ctx, clusterID)
	if err != nil {
		return RemoveResult{}, err
	}
	if !cl.Contains(cardID) {
		return RemoveResult{}, fmt.Errorf("%w: card %s is not in cluster %s", board.ErrInvalidOperation, cardID, clusterID)
	}

	remaining := make([]string, 0, len(cl.CardIDs)-1)
	for _, id := range cl.CardIDs {
		if id != cardID {
			remaining = append(remaining, id)
		}
	}

	var result RemoveResult
	err = e.store.Transaction(ctx, func(tx *board.Store) error {
		nowMS := e.clock().UnixMilli()
		if len(remaining) < 2 {
			for _, id := range remaining {
				card, err := tx.FindCard(ctx, id)
				if err != nil {
					return err
				}
				card.ClusterID = nil
				card.UpdatedAtMS = nowMS
				if err := tx.SaveCard(ctx, card); err != nil {
					return err
				}
				result.FreedCardIDs = append(result.FreedCardIDs, id)
			}
			deletedVotes, err := deleteTargetVotes(ctx, tx, cl.ID)
			if err != nil {
				return err
			}
			result.DeletedVoteIDs = deletedVotes
			if err := tx.DeleteCluster(ctx, cl.ID); err != nil {
				return err
			}
			result.DeletedClusterID = cl.ID
			return nil
		}

		cl.CardIDs = remaining
		cl.UpdatedAtMS = nowMS
		if err := e.renameAndSave(ctx, tx, cl); err != nil {
			return err
		}
		result.Cluster = cl
		return nil
	})
	if err != nil {
		return RemoveResult{}, err
	}
	return result, nil
}

// migrateColumn moves the cluster and every member card into column,
// returning the member card ids that changed.
func (e *Engine) migrateColumn(ctx context.Context, tx *board.Store, cl *board.Cluster, column string, nowMS int64) ([]string, error) {
	moved := make([]string, 0, len(cl.CardIDs))
	for _, cardID := range cl.CardIDs {
		card, err := tx.FindCard(ctx, cardID)
		if err != nil {
			return nil, err
		}
		if card.Column == column {
			continue
		}
		card.Column = column
		card.UpdatedAtMS = nowMS
		if err := tx.SaveCard(ctx, card); err != nil {
			return nil, err
		}
		moved = append(moved, cardID)
	}
	cl.Column = column
	return moved, nil
}

// renameAndSave regenerates the derived name from the full member set,
// unless a participant locked the name by editing it, then persists.
func (e *Engine) renameAndSave(ctx context.Context, tx *board.Store, cl *board.Cluster) error {
	if !cl.NameLocked {
		members := make([]board.Card, 0, len(cl.CardIDs))
		for _, cardID := range cl.CardIDs {
			card, err := tx.FindCard(ctx, cardID)
			if err != nil {
				return err
			}
			members = append(members, *card)
		}
		cl.Name = e.namer(members)
	}
	return tx.SaveCluster(ctx, cl)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
