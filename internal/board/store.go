package board

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Store is the persistence adapter every session mutation passes
// through. It owns no business rules; callers are expected to hold the
// per-session coordinator lock, so no row locking is used here.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("board: database handle is required")
	}
	return &Store{db: db}, nil
}

// Models lists every entity the store persists, for schema migration.
func Models() []any {
	return []any{&Session{}, &User{}, &Card{}, &Cluster{}, &Vote{}, &ActionItem{}, &IceBreaker{}}
}

// Transaction runs fn against a store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

func (s *Store) FindSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).Take(&session).Error; err != nil {
		return nil, notFound(err, "session", id)
	}
	return &session, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&Session{}).Where("session_id = ?", id).Updates(fields).Error
}

// DeleteSession removes a session and every child entity in one
// transaction. Child cleanup lives here because the sqlite store runs
// in-process; there is no external cascade to lean on.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		for _, model := range []any{&Vote{}, &Card{}, &Cluster{}, &ActionItem{}, &IceBreaker{}, &User{}} {
			if err := tx.db.Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.db.Where("session_id = ?", id).Delete(&Session{}).Error
	})
}

// FindSessionsByUser lists sessions the given user has joined.
func (s *Store) FindSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	memberOf := s.db.Model(&User{}).Select("session_id").Where("user_id = ?", userID)
	err := s.db.WithContext(ctx).
		Where("session_id IN (?)", memberOf).
		Order("updated_at_ms DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSessionsOlderThan purges sessions whose last update precedes the
// cutoff (epoch milliseconds) and returns how many were removed.
func (s *Store) DeleteSessionsOlderThan(ctx context.Context, cutoffMS int64) (int, error) {
	var stale []Session
	if err := s.db.WithContext(ctx).Where("updated_at_ms < ?", cutoffMS).Find(&stale).Error; err != nil {
		return 0, err
	}
	for _, session := range stale {
		if err := s.DeleteSession(ctx, session.ID); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, user *User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *Store) FindUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("user_id = ?", id).Take(&user).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

func (s *Store) FindUsersBySession(ctx context.Context, sessionID string) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at_ms ASC").
		Find(&users).Error
	return users, err
}

func (s *Store) UpdateUser(ctx context.Context, id string, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", id).Updates(fields).Error
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", id).Delete(&User{}).Error
}

// --- cards ---

func (s *Store) CreateCard(ctx context.Context, card *Card) error {
	return s.db.WithContext(ctx).Create(card).Error
}

func (s *Store) FindCard(ctx context.Context, id string) (*Card, error) {
	var card Card
	if err := s.db.WithContext(ctx).Where("card_id = ?", id).Take(&card).Error; err != nil {
		return nil, notFound(err, "card", id)
	}
	return &card, nil
}

func (s *Store) FindCardsBySession(ctx context.Context, sessionID string) ([]Card, error) {
	var cards []Card
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_ms ASC").
		Find(&cards).Error
	return cards, err
}

// SaveCard persists the full card row, serializer columns included.
func (s *Store) SaveCard(ctx context.Context, card *Card) error {
	return s.db.WithContext(ctx).Save(card).Error
}

func (s *Store) DeleteCard(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("card_id = ?", id).Delete(&Card{}).Error
}

// RevealAllCards force-sets isRevealed on every card in the session.
func (s *Store) RevealAllCards(ctx context.Context, sessionID string, nowMS int64) error {
	return s.db.WithContext(ctx).Model(&Card{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"is_revealed": true, "updated_at_ms": nowMS}).Error
}

// --- clusters ---

func (s *Store) CreateCluster(ctx context.Context, cluster *Cluster) error {
	return s.db.WithContext(ctx).Create(cluster).Error
}

func (s *Store) FindCluster(ctx context.Context, id string) (*Cluster, error) {
	var cluster Cluster
	if err := s.db.WithContext(ctx).Where("cluster_id = ?", id).Take(&cluster).Error; err != nil {
		return nil, notFound(err, "cluster", id)
	}
	return &cluster, nil
}

func (s *Store) FindClustersBySession(ctx context.Context, sessionID string) ([]Cluster, error) {
	var clusters []Cluster
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_ms ASC").
		Find(&clusters).Error
	return clusters, err
}

// SaveCluster persists the full cluster row, card id list included.
func (s *Store) SaveCluster(ctx context.Context, cluster *Cluster) error {
	return s.db.WithContext(ctx).Save(cluster).Error
}

func (s *Store) DeleteCluster(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("cluster_id = ?", id).Delete(&Cluster{}).Error
}

// --- votes ---

func (s *Store) CreateVote(ctx context.Context, vote *Vote) error {
	return s.db.WithContext(ctx).Create(vote).Error
}

func (s *Store) FindVote(ctx context.Context, id string) (*Vote, error) {
	var vote Vote
	if err := s.db.WithContext(ctx).Where("vote_id = ?", id).Take(&vote).Error; err != nil {
		return nil, notFound(err, "vote", id)
	}
	return &vote, nil
}

func (s *Store) FindVotesBySession(ctx context.Context, sessionID string) ([]Vote, error) {
	var votes []Vote
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_ms ASC").
		Find(&votes).Error
	return votes, err
}

// CountVotes returns how many votes the user has cast in the session.
func (s *Store) CountVotes(ctx context.Context, sessionID, userID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Vote{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Count(&count).Error
	return int(count), err
}

func (s *Store) DeleteVote(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("vote_id = ?", id).Delete(&Vote{}).Error
}

func (s *Store) DeleteVotesBySession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&Vote{}).Error
}

// FindVotesByTarget lists votes pointing at one card or cluster.
func (s *Store) FindVotesByTarget(ctx context.Context, targetID string) ([]Vote, error) {
	var votes []Vote
	err := s.db.WithContext(ctx).Where("target_id = ?", targetID).Find(&votes).Error
	return votes, err
}

// DeleteVotesByTarget removes votes pointing at a card or cluster that
// is going away.
func (s *Store) DeleteVotesByTarget(ctx context.Context, targetID string) error {
	return s.db.WithContext(ctx).Where("target_id = ?", targetID).Delete(&Vote{}).Error
}

// --- action items ---

func (s *Store) CreateActionItem(ctx context.Context, item *ActionItem) error {
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) FindActionItem(ctx context.Context, id string) (*ActionItem, error) {
	var item ActionItem
	if err := s.db.WithContext(ctx).Where("action_item_id = ?", id).Take(&item).Error; err != nil {
		return nil, notFound(err, "action item", id)
	}
	return &item, nil
}

func (s *Store) FindActionItemsBySession(ctx context.Context, sessionID string) ([]ActionItem, error) {
	var items []ActionItem
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_ms ASC").
		Find(&items).Error
	return items, err
}

func (s *Store) UpdateActionItem(ctx context.Context, id string, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&ActionItem{}).Where("action_item_id = ?", id).Updates(fields).Error
}

func (s *Store) DeleteActionItem(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("action_item_id = ?", id).Delete(&ActionItem{}).Error
}

// --- ice breakers ---

func (s *Store) CreateIceBreaker(ctx context.Context, entry *IceBreaker) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) FindIceBreakersBySession(ctx context.Context, sessionID string) ([]IceBreaker, error) {
	var entries []IceBreaker
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_ms ASC").
		Find(&entries).Error
	return entries, err
}

// FindIceBreakerByUser returns the user's current entry, or ErrNotFound.
func (s *Store) FindIceBreakerByUser(ctx context.Context, sessionID, userID string) (*IceBreaker, error) {
	var entry IceBreaker
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Take(&entry).Error
	if err != nil {
		return nil, notFound(err, "ice breaker for user", userID)
	}
	return &entry, nil
}

func (s *Store) DeleteIceBreaker(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("ice_breaker_id = ?", id).Delete(&IceBreaker{}).Error
}
