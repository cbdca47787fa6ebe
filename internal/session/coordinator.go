package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/cluster"
	"github.com/RuBiCK/viberetro-sub000/internal/stage"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// colorPalette is the fixed set participants are colored from. Picks
// are uniform random, not collision-free.
var colorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#008080", "#9a6324", "#800000",
}

// CoordinatorConfig carries the dependencies for one session actor.
type CoordinatorConfig struct {
	SessionID  string
	Store      *board.Store
	Engine     *cluster.Engine
	Clock      func() time.Time
	IDProvider board.IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
	// ColorPick overrides the random palette index choice in tests.
	ColorPick func(n int) int
}

// Coordinator is the single writer for one session. All mutating
// operations take the actor lock, apply their change through the store
// or the cluster engine, and publish the resulting events before the
// lock is released.
type Coordinator struct {
	mu        sync.Mutex
	sessionID string
	store     *board.Store
	engine    *cluster.Engine
	clock     func() time.Time
	ids       board.IDProvider
	publisher Publisher
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
	typing    *typingTracker
	pick      func(n int) int

	timerCancel context.CancelFunc
}

// NewCoordinator validates the config and constructs a session actor.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session: session id is required")
	}
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
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pick := cfg.ColorPick
	if pick == nil {
		pick = rand.Intn
	}

	c := &Coordinator{
		sessionID: cfg.SessionID,
		store:     cfg.Store,
		engine:    cfg.Engine,
		clock:     clock,
		ids:       cfg.IDProvider,
		publisher: cfg.Publisher,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
		pick:      pick,
	}
	c.typing = newTypingTracker(func(key typingKey, userIDs []string, excludeUserID string) {
		c.publisher.Publish(c.sessionID, Event{
			Name: EventTypingUpdated,
			Payload: typingUpdatedPayload{
				TargetID: key.targetID,
				Field:    key.field,
				UserIDs:  userIDs,
			},
			ExcludeUserID: excludeUserID,
		})
	})
	return c, nil
}

// SessionID returns the session this actor owns.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Close stops the countdown broadcaster and every typing expiry timer.
// Called when the session is purged or deleted.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.typing.close()
}

func (c *Coordinator) publish(event Event) {
	c.publisher.Publish(c.sessionID, event)
}

// clean strips markup and surrounding whitespace from free text coming
// off the wire.
func (c *Coordinator) clean(raw string) string {
	return strings.TrimSpace(c.sanitizer.Sanitize(raw))
}

func (c *Coordinator) session(ctx context.Context) (*board.Session, error) {
	return c.store.FindSession(ctx, c.sessionID)
}

// touch bumps the session's updatedAt so activity defers purging.
func (c *Coordinator) touch(ctx context.Context, nowMS int64) {
	if err := c.store.UpdateSession(ctx, c.sessionID, map[string]any{"updated_at_ms": nowMS}); err != nil {
		c.logger.Warn("session touch failed", zap.String("session_id", c.sessionID), zap.Error(err))
	}
}

// requireHost resolves the caller and fails with ErrNotHost unless they
// joined with the host token.
func (c *Coordinator) requireHost(ctx context.Context, callerID string) error {
	user, err := c.store.FindUser(ctx, callerID)
	if err != nil {
		return err
	}
	if user.SessionID != c.sessionID {
		return fmt.Errorf("%w: user %s", board.ErrNotFound, callerID)
	}
	if !user.IsHost {
		return board.ErrNotHost
	}
	return nil
}

// Join admits a participant. When existingUserID resolves to a user of
// this session the call is an idempotent reconnect: the stored identity
// comes back unchanged and no duplicate row is created. Otherwise a new
// user is created, marked host when the supplied token matches the
// session's host token.
func (c *Coordinator) Join(ctx context.Context, displayName, hostToken, existingUserID string) (*board.User, *StateSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.session(ctx)
	if err != nil {
		return nil, nil, err
	}

	if existingUserID != "" {
		user, err := c.store.FindUser(ctx, existingUserID)
		if err == nil && user.SessionID == c.sessionID {
			snapshot, err := c.snapshotLocked(ctx, session)
			if err != nil {
				return nil, nil, err
			}
			c.publish(Event{Name: EventUserReconnected, Payload: user, ExcludeUserID: user.ID})
			return user, snapshot, nil
		}
	}

	name := c.clean(displayName)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: display name is required", board.ErrInvalidOperation)
	}

	id, err := c.ids.NewID()
	if err != nil {
		return nil, nil, err
	}
	nowMS := c.clock().UnixMilli()
	user := &board.User{
		ID:          id,
		SessionID:   c.sessionID,
		DisplayName: name,
		IsHost:      hostToken != "" && hostToken == session.HostID,
		Color:       colorPalette[c.pick(len(colorPalette))],
		JoinedAtMS:  nowMS,
	}
	if err := c.store.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}
	c.touch(ctx, nowMS)

	snapshot, err := c.snapshotLocked(ctx, session)
	if err != nil {
		return nil, nil, err
	}
	c.publish(Event{Name: EventUserJoined, Payload: user, ExcludeUserID: user.ID})
	c.logger.Info("user joined",
		zap.String("session_id", c.sessionID),
		zap.String("user_id", user.ID),
		zap.Bool("is_host", user.IsHost))
	return user, snapshot, nil
}

// Snapshot returns one consistent full-state view of the session.
func (c *Coordinator) Snapshot(ctx context.Context) (*StateSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	return c.snapshotLocked(ctx, session)
}

func (c *Coordinator) snapshotLocked(ctx context.Context, session *board.Session) (*StateSnapshot, error) {
	users, err := c.store.FindUsersBySession(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	cards, err := c.store.FindCardsBySession(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	clusters, err := c.store.FindClustersBySession(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	votes, err := c.store.FindVotesBySession(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	actionItems, err := c.store.FindActionItemsBySession(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	iceBreakers, err := c.store.FindIceBreakersBySession(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	return &StateSnapshot{
		Session:     session,
		Users:       users,
		Cards:       cards,
		Clusters:    clusters,
		Votes:       votes,
		ActionItems: actionItems,
		IceBreakers: iceBreakers,
	}, nil
}

// CardInput is the client payload for card creation.
type CardInput struct {
	Column   string         `json:"column"`
	Content  string         `json:"content"`
	Position board.Position `json:"position"`
}

// CreateCard creates a sticky note. New cards always start hidden; the
// isRevealed flag is never trusted from the wire.
func (c *Coordinator) CreateCard(ctx context.Context, userID string, input CardInput) (*board.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	if !session.HasColumn(input.Column) {
		return nil, fmt.Errorf("%w: unknown column %q", board.ErrInvalidOperation, input.Column)
	}
	content := c.clean(input.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: card content is required", board.ErrInvalidOperation)
	}

	id, err := c.ids.NewID()
	if err != nil {
		return nil, err
	}
	nowMS := c.clock().UnixMilli()
	card := &board.Card{
		ID:          id,
		SessionID:   c.sessionID,
		UserID:      userID,
		Column:      input.Column,
		Content:     content,
		Position:    input.Position,
		IsRevealed:  false,
		CreatedAtMS: nowMS,
		UpdatedAtMS: nowMS,
	}
	if err := c.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	c.touch(ctx, nowMS)
	c.publish(Event{Name: EventCardCreated, Payload: card})
	return card, nil
}

// CardUpdate carries the mutable card fields; nil means unchanged.
type CardUpdate struct {
	Content  *string         `json:"content"`
	Column   *string         `json:"column"`
	Position *board.Position `json:"position"`
}

// UpdateCard applies a partial card edit. Clustered cards cannot change
// column on their own; the cluster moves as a whole instead.
func (c *Coordinator) UpdateCard(ctx context.Context, cardID string, update CardUpdate) (*board.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	card, err := c.store.FindCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.SessionID != c.sessionID {
		return nil, fmt.Errorf("%w: card %s", board.ErrNotFound, cardID)
	}
	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	if update.Content != nil {
		content := c.clean(*update.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: card content is required", board.ErrInvalidOperation)
		}
		card.Content = content
	}
	if update.Column != nil && *update.Column != card.Column {
		if !session.HasColumn(*update.Column) {
			return nil, fmt.Errorf("%w: unknown column %q", board.ErrInvalidOperation, *update.Column)
		}
		if card.Clustered() {
			return nil, fmt.Errorf("%w: clustered cards move with their cluster", board.ErrInvalidOperation)
		}
		card.Column = *update.Column
	}
	if update.Position != nil {
		card.Position = *update.Position
	}

	nowMS := c.clock().UnixMilli()
	card.UpdatedAtMS = nowMS
	if err := c.store.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	c.touch(ctx, nowMS)
	c.publish(Event{Name: EventCardUpdated, Payload: card})
	return card, nil
}

// DeleteCard removes a card, detaching it from its cluster first. A
// cluster reduced below two members dissolves, ungrouping the survivor.
func (c *Coordinator) DeleteCard(ctx context.Context, cardID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	card, err := c.store.FindCard(ctx, cardID)
	if err != nil {
		return err
	}
	if card.SessionID != c.sessionID {
		return fmt.Errorf("%w: card %s", board.ErrNotFound, cardID)
	}

	if card.Clustered() {
		removal, err := c.engine.RemoveCard(ctx, *card.ClusterID, card.ID)
		if err != nil {
			return err
		}
		c.publishRemoval(ctx, removal)
	}

	votes, err := c.store.FindVotesByTarget(ctx, card.ID)
	if err != nil {
		return err
	}
	if err := c.store.DeleteVotesByTarget(ctx, card.ID); err != nil {
		return err
	}
	if err := c.store.DeleteCard(ctx, card.ID); err != nil {
		return err
	}
	c.touch(ctx, c.clock().UnixMilli())

	for _, vote := range votes {
		c.publish(Event{Name: EventVoteDeleted, Payload: deletedPayload{ID: vote.ID}})
	}
	c.publish(Event{Name: EventCardDeleted, Payload: deletedPayload{ID: card.ID}})
	return nil
}

func (c *Coordinator) publishRemoval(ctx context.Context, removal cluster.RemoveResult) {
	for _, voteID := range removal.DeletedVoteIDs {
		c.publish(Event{Name: EventVoteDeleted, Payload: deletedPayload{ID: voteID}})
	}
	c.publishCardUpdates(ctx, removal.FreedCardIDs)
	if removal.DeletedClusterID != "" {
		c.publish(Event{Name: EventClusterDeleted, Payload: deletedPayload{ID: removal.DeletedClusterID}})
	} else if removal.Cluster != nil {
		c.publish(Event{Name: EventClusterUpdated, Payload: removal.Cluster})
	}
}

func (c *Coordinator) publishCardUpdates(ctx context.Context, cardIDs []string) {
	for _, cardID := range cardIDs {
		card, err := c.store.FindCard(ctx, cardID)
		if err != nil {
			c.logger.Warn("card lookup for broadcast failed",
				zap.String("session_id", c.sessionID),
				zap.String("card_id", cardID),
				zap.Error(err))
			continue
		}
		c.publish(Event{Name: EventCardUpdated, Payload: card})
	}
}

// MergeCards delegates the drag-merge gesture to the cluster engine and
// broadcasts the resulting change-set.
func (c *Coordinator) MergeCards(ctx context.Context, sourceCardID, targetCardID string) (cluster.MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.store.FindCard(ctx, sourceCardID)
	if err != nil {
		return cluster.MergeResult{}, err
	}
	if source.SessionID != c.sessionID {
		return cluster.MergeResult{}, fmt.Errorf("%w: card %s", board.ErrNotFound, sourceCardID)
	}

	result, err := c.engine.MergeCards(ctx, sourceCardID, targetCardID)
	if err != nil {
		return cluster.MergeResult{}, err
	}
	c.touch(ctx, c.clock().UnixMilli())

	if result.Created {
		c.publish(Event{Name: EventClusterCreated, Payload: result.Cluster})
	} else if len(result.UpdatedCardIDs) > 0 || len(result.DeletedClusterIDs) > 0 {
		c.publish(Event{Name: EventClusterUpdated, Payload: result.Cluster})
	}
	for _, voteID := range result.DeletedVoteIDs {
		c.publish(Event{Name: EventVoteDeleted, Payload: deletedPayload{ID: voteID}})
	}
	c.publishCardUpdates(ctx, result.UpdatedCardIDs)
	for _, clusterID := range result.DeletedClusterIDs {
		c.publish(Event{Name: EventClusterDeleted, Payload: deletedPayload{ID: clusterID}})
	}
	return result, nil
}

// ClusterUpdate carries the mutable cluster fields; nil means unchanged.
type ClusterUpdate struct {
	Name     *string         `json:"name"`
	Column   *string         `json:"column"`
	Position *board.Position `json:"position"`
}

// UpdateCluster applies a partial cluster edit. A manual name edit locks
// the name against automatic regeneration on later merges. A column
// change moves every member card along with the cluster.
func (c *Coordinator) UpdateCluster(ctx context.Context, clusterID string, update ClusterUpdate) (*board.Cluster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, err := c.store.FindCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if cl.SessionID != c.sessionID {
		return nil, fmt.Errorf("%w: cluster %s", board.ErrNotFound, clusterID)
	}
	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	var movedCards []string
	nowMS := c.clock().UnixMilli()

	if update.Name != nil {
		name := c.clean(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: cluster name is required", board.ErrInvalidOperation)
		}
		cl.Name = name
		cl.NameLocked = true
	}
	if update.Position != nil {
		cl.Position = *update.Position
	}
	if update.Column != nil && *update.Column != cl.Column {
		if !session.HasColumn(*update.Column) {
			return nil, fmt.Errorf("%w: unknown column %q", board.ErrInvalidOperation, *update.Column)
		}
		cl.Column = *update.Column
		movedCards = cl.CardIDs
	}

	cl.UpdatedAtMS = nowMS
	err = c.store.Transaction(ctx, func(tx *board.Store) error {
		for _, cardID := range movedCards {
			card, err := tx.FindCard(ctx, cardID)
			if err != nil {
				return err
			}
			card.Column = cl.Column
			card.UpdatedAtMS = nowMS
			if err := tx.SaveCard(ctx, card); err != nil {
				return err
			}
		}
		return tx.SaveCluster(ctx, cl)
	})
	if err != nil {
		return nil, err
	}
	c.touch(ctx, nowMS)

	c.publish(Event{Name: EventClusterUpdated, Payload: cl})
	c.publishCardUpdates(ctx, movedCards)
	return cl, nil
}

// Ungroup dissolves a cluster, freeing every member card.
func (c *Coordinator) Ungroup(ctx context.Context, clusterID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, err := c.store.FindCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if cl.SessionID != c.sessionID {
		return fmt.Errorf("%w: cluster %s", board.ErrNotFound, clusterID)
	}

	result, err := c.engine.Ungroup(ctx, clusterID)
	if err != nil {
		return err
	}
	c.touch(ctx, c.clock().UnixMilli())

	for _, voteID := range result.DeletedVoteIDs {
		c.publish(Event{Name: EventVoteDeleted, Payload: deletedPayload{ID: voteID}})
	}
	c.publishCardUpdates(ctx, result.FreedCardIDs)
	c.publish(Event{Name: EventClusterDeleted, Payload: deletedPayload{ID: result.ClusterID}})
	return nil
}

// CastVote records one vote on a card or cluster. Voting is only open
// during the VOTE stage and is capped by settings.votesPerUser; the cap
// is enforced at cast time, never retroactively.
func (c *Coordinator) CastVote(ctx context.Context, userID, targetID, targetType string) (*board.Vote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	if session.Stage != stage.Vote {
		return nil, fmt.Errorf("%w: voting is only open during %s", board.ErrWrongStage, stage.Vote)
	}

	parsedType, err := board.ParseTargetType(targetType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", board.ErrInvalidOperation, err)
	}
	switch parsedType {
	case board.TargetTypeCard:
		card, err := c.store.FindCard(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if card.SessionID != c.sessionID {
			return nil, fmt.Errorf("%w: card %s", board.ErrNotFound, targetID)
		}
	case board.TargetTypeCluster:
		cl, err := c.store.FindCluster(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if cl.SessionID != c.sessionID {
			return nil, fmt.Errorf("%w: cluster %s", board.ErrNotFound, targetID)
		}
	}

	count, err := c.store.CountVotes(ctx, c.sessionID, userID)
	if err != nil {
		return nil, err
	}
	if count >= session.VotesPerUser {
		return nil, fmt.Errorf("%w: %d of %d votes spent", board.ErrVoteLimitExceeded, count, session.VotesPerUser)
	}

	id, err := c.ids.NewID()
	if err != nil {
		return nil, err
	}
	nowMS := c.clock().UnixMilli()
	vote := &board.Vote{
		ID:          id,
		SessionID:   c.sessionID,
		UserID:      userID,
		TargetID:    targetID,
		TargetType:  parsedType,
		CreatedAtMS: nowMS,
	}
	if err := c.store.CreateVote(ctx, vote); err != nil {
		return nil, err
	}
	c.touch(ctx, nowMS)
	c.publish(Event{Name: EventVoteCreated, Payload: vote})
	return vote, nil
}

// RemoveVote retracts one of the caller's own votes.
func (c *Coordinator) RemoveVote(ctx context.Context, userID, voteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vote, err := c.store.FindVote(ctx, voteID)
	if err != nil {
		return err
	}
	if vote.SessionID != c.sessionID {
		return fmt.Errorf("%w: vote %s", board.ErrNotFound, voteID)
	}
	if vote.UserID != userID {
		return fmt.Errorf("%w: cannot remove another participant's vote", board.ErrInvalidOperation)
	}
	if err := c.store.DeleteVote(ctx, voteID); err != nil {
		return err
	}
	c.touch(ctx, c.clock().UnixMilli())
	c.publish(Event{Name: EventVoteDeleted, Payload: deletedPayload{ID: voteID}})
	return nil
}

// ActionItemInput is the client payload for action item creation.
type ActionItemInput struct {
	Owner string `json:"owner"`
	Task  string `json:"task"`
}

// CreateActionItem records a follow-up task.
func (c *Coordinator) CreateActionItem(ctx context.Context, input ActionItemInput) (*board.ActionItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.clean(input.Task)
	if task == "" {
		return nil, fmt.Errorf("%w: action item task is required", board.ErrInvalidOperation)
	}

	id, err := c.ids.NewID()
	if err != nil {
		return nil, err
	}
	nowMS := c.clock().UnixMilli()
	item := &board.ActionItem{
		ID:          id,
		SessionID:   c.sessionID,
		Owner:       c.clean(input.Owner),
		Task:        task,
		CreatedAtMS: nowMS,
	}
	if err := c.store.CreateActionItem(ctx, item); err != nil {
		return nil, err
	}
	c.touch(ctx, nowMS)
	c.publish(Event{Name: EventActionCreated, Payload: item})
	return item, nil
}

// ActionItemUpdate carries the mutable action item fields.
type ActionItemUpdate struct {
	Owner *string `json:"owner"`
	Task  *string `json:"task"`
}

// UpdateActionItem applies a partial action item edit.
func (c *Coordinator) UpdateActionItem(ctx context.Context, itemID string, update ActionItemUpdate) (*board.ActionItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, err := c.store.FindActionItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SessionID != c.sessionID {
		return nil, fmt.Errorf("%w: action item %s", board.ErrNotFound, itemID)
	}

	fields := map[string]any{}
	if update.Owner != nil {
		item.Owner = c.clean(*update.Owner)
		fields["owner"] = item.Owner
	}
	if update.Task != nil {
		task := c.clean(*update.Task)
		if task == "" {
			return nil, fmt.Errorf("%w: action item task is required", board.ErrInvalidOperation)
		}
		item.Task = task
		fields["task"] = task
	}
	if len(fields) > 0 {
		if err := c.store.UpdateActionItem(ctx, itemID, fields); err != nil {
			return nil, err
		}
		c.touch(ctx, c.clock().UnixMilli())
	}
	c.publish(Event{Name: EventActionUpdated, Payload: item})
	return item, nil
}

// DeleteActionItem removes a follow-up task.
func (c *Coordinator) DeleteActionItem(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, err := c.store.FindActionItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.SessionID != c.sessionID {
		return fmt.Errorf("%w: action item %s", board.ErrNotFound, itemID)
	}
	if err := c.store.DeleteActionItem(ctx, itemID); err != nil {
		return err
	}
	c.touch(ctx, c.clock().UnixMilli())
	c.publish(Event{Name: EventActionDeleted, Payload: deletedPayload{ID: itemID}})
	return nil
}

// CreateIceBreaker records the caller's warm-up entry. One entry per
// participant is enforced here: a new submission replaces the old one.
func (c *Coordinator) CreateIceBreaker(ctx context.Context, userID, content, kind string) (*board.IceBreaker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var parsedKind board.IceBreakerType
	switch board.IceBreakerType(kind) {
	case board.IceBreakerTypeText, board.IceBreakerTypeGif, board.IceBreakerTypeDrawing:
		parsedKind = board.IceBreakerType(kind)
	default:
		return nil, fmt.Errorf("%w: unknown ice breaker type %q", board.ErrInvalidOperation, kind)
	}

	cleaned := content
	if parsedKind == board.IceBreakerTypeText {
		cleaned = c.clean(content)
	}
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("%w: ice breaker content is required", board.ErrInvalidOperation)
	}

	if previous, err := c.store.FindIceBreakerByUser(ctx, c.sessionID, userID); err == nil {
		if err := c.store.DeleteIceBreaker(ctx, previous.ID); err != nil {
			return nil, err
		}
		c.publish(Event{Name: EventIceBreakerDeleted, Payload: deletedPayload{ID: previous.ID}})
	}

	id, err := c.ids.NewID()
	if err != nil {
		return nil, err
	}
	nowMS := c.clock().UnixMilli()
	entry := &board.IceBreaker{
		ID:          id,
		SessionID:   c.sessionID,
		UserID:      userID,
		Content:     cleaned,
		Type:        parsedKind,
		CreatedAtMS: nowMS,
	}
	if err := c.store.CreateIceBreaker(ctx, entry); err != nil {
		return nil, err
	}
	c.touch(ctx, nowMS)
	c.publish(Event{Name: EventIceBreakerCreated, Payload: entry})
	return entry, nil
}

// RevealIceBreakers flips the session-wide ice-breaker reveal. Host only.
func (c *Coordinator) RevealIceBreakers(ctx context.Context, callerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireHost(ctx, callerID); err != nil {
		return err
	}
	nowMS := c.clock().UnixMilli()
	fields := map[string]any{"ice_breakers_revealed": true, "updated_at_ms": nowMS}
	if err := c.store.UpdateSession(ctx, c.sessionID, fields); err != nil {
		return err
	}
	c.publish(Event{Name: EventIceBreakersRevealed, Payload: iceBreakersRevealedPayload{IceBreakersRevealed: true}})
	return nil
}

// RevealVotes flips the session-wide vote reveal. Host only.
func (c *Coordinator) RevealVotes(ctx context.Context, callerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireHost(ctx, callerID); err != nil {
		return err
	}
	nowMS := c.clock().UnixMilli()
	fields := map[string]any{"votes_revealed": true, "updated_at_ms": nowMS}
	if err := c.store.UpdateSession(ctx, c.sessionID, fields); err != nil {
		return err
	}
	c.publish(Event{Name: EventVotesRevealed, Payload: votesRevealedPayload{VotesRevealed: true}})
	return nil
}

// Advance moves the session one stage forward. Host only; a clamped
// no-op at COMPLETE.
func (c *Coordinator) Advance(ctx context.Context, callerID string) (stage.Stage, error) {
	return c.changeStage(ctx, callerID, stage.Advance)
}

// Previous moves the session one stage backward. Host only; a clamped
// no-op at SETUP.
func (c *Coordinator) Previous(ctx context.Context, callerID string) (stage.Stage, error) {
	return c.changeStage(ctx, callerID, stage.Previous)
}

func (c *Coordinator) changeStage(ctx context.Context, callerID string, move func(stage.Stage) (stage.Stage, []stage.SideEffect)) (stage.Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireHost(ctx, callerID); err != nil {
		return "", err
	}
	session, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	next, effects := move(session.Stage)
	if next == session.Stage {
		return next, nil
	}

	nowMS := c.clock().UnixMilli()
	fields := map[string]any{
		"stage":           string(next),
		"updated_at_ms":   nowMS,
		"timer_end_at_ms": nil,
	}

	for _, effect := range effects {
		switch effect {
		case stage.SideEffectRevealAllCards:
			if err := c.store.RevealAllCards(ctx, c.sessionID, nowMS); err != nil {
				return "", err
			}
		case stage.SideEffectClearVotes:
			// Votes are really deleted, not just hidden, so a fresh
			// full-state fetch agrees with the live broadcast.
			if err := c.store.DeleteVotesBySession(ctx, c.sessionID); err != nil {
				return "", err
			}
			fields["votes_revealed"] = false
		}
	}

	if err := c.store.UpdateSession(ctx, c.sessionID, fields); err != nil {
		return "", err
	}
	// Entering a stage resets any running countdown.
	c.stopTimerLocked()

	c.publish(Event{Name: EventStageChanged, Payload: stageChangedPayload{Stage: string(next)}})
	if len(effects) > 0 {
		updated, err := c.session(ctx)
		if err != nil {
			return "", err
		}
		snapshot, err := c.snapshotLocked(ctx, updated)
		if err != nil {
			return "", err
		}
		c.publish(Event{Name: EventSessionState, Payload: snapshot})
	}
	c.logger.Info("stage changed",
		zap.String("session_id", c.sessionID),
		zap.String("stage", string(next)))
	return next, nil
}

// Export renders the grouped markdown summary from one consistent view.
// Pure read; no mutation and no broadcast.
func (c *Coordinator) Export(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.session(ctx)
	if err != nil {
		return "", err
	}
	snapshot, err := c.snapshotLocked(ctx, session)
	if err != nil {
		return "", err
	}
	return renderMarkdown(snapshot), nil
}

// CursorMoved relays a pointer position to the caller's peers. The
// position is ephemeral connection state and is never persisted.
func (c *Coordinator) CursorMoved(userID string, x, y float64) {
	c.publish(Event{
		Name:          EventCursorUpdated,
		Payload:       cursorUpdatedPayload{UserID: userID, X: x, Y: y},
		ExcludeUserID: userID,
	})
}

// TypingStarted records a keystroke signal for a card or field.
func (c *Coordinator) TypingStarted(userID, targetID, field string) {
	c.typing.start(userID, targetID, field)
}

// TypingStopped clears the caller's typing entry immediately.
func (c *Coordinator) TypingStopped(userID, targetID, field string) {
	c.typing.stop(userID, targetID, field)
}
