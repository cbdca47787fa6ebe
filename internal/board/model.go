package board

import (
	"errors"

	"github.com/RuBiCK/viberetro-sub000/internal/stage"
)

// TargetType discriminates what a vote points at.
type TargetType string

const (
	// TargetTypeCard marks a vote cast on a standalone card.
	TargetTypeCard TargetType = "card"
	// TargetTypeCluster marks a vote cast on a cluster.
	TargetTypeCluster TargetType = "cluster"
)

// IceBreakerType enumerates supported ice-breaker payload kinds.
type IceBreakerType string

const (
	IceBreakerTypeText    IceBreakerType = "text"
	IceBreakerTypeGif     IceBreakerType = "gif"
	IceBreakerTypeDrawing IceBreakerType = "drawing"
)

// ErrInvalidTargetType indicates an unknown vote target discriminator.
var ErrInvalidTargetType = errors.New("board: invalid vote target type")

// ParseTargetType validates a raw vote target discriminator.
func ParseTargetType(raw string) (TargetType, error) {
	switch TargetType(raw) {
	case TargetTypeCard:
		return TargetTypeCard, nil
	case TargetTypeCluster:
		return TargetTypeCluster, nil
	default:
		return "", ErrInvalidTargetType
	}
}

// Position is a board coordinate pair.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Session is one retrospective instance. Columns are fixed at creation;
// every card and cluster column must be a member of them.
type Session struct {
	ID                   string      `gorm:"column:session_id;primaryKey;size:190;not null" json:"id"`
	HostID               string      `gorm:"column:host_id;size:190;not null" json:"hostId"`
	Name                 string      `gorm:"column:name;size:320;not null" json:"name"`
	Stage                stage.Stage `gorm:"column:stage;size:32;not null" json:"stage"`
	Columns              []string    `gorm:"column:columns;serializer:json;not null" json:"columns"`
	TimerDurationSeconds int         `gorm:"column:timer_duration_s;not null;default:300" json:"timerDurationSeconds"`
	VotesPerUser         int         `gorm:"column:votes_per_user;not null;default:3" json:"votesPerUser"`
	IceBreakerPrompt     string      `gorm:"column:ice_breaker_prompt;size:512" json:"iceBreakerPrompt"`
	TimerEndAt           *int64      `gorm:"column:timer_end_at_ms" json:"timerEndAt"`
	IceBreakersRevealed  bool        `gorm:"column:ice_breakers_revealed;not null;default:false" json:"iceBreakersRevealed"`
	VotesRevealed        bool        `gorm:"column:votes_revealed;not null;default:false" json:"votesRevealed"`
	CreatedAtMS          int64       `gorm:"column:created_at_ms;not null" json:"createdAt"`
	UpdatedAtMS          int64       `gorm:"column:updated_at_ms;not null;index" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// HasColumn reports whether name is one of the session's configured columns.
func (s Session) HasColumn(name string) bool {
	for _, column := range s.Columns {
		if column == name {
			return true
		}
	}
	return false
}

// User is a session participant. Rows survive disconnects so the same
// browser can reconnect and resume in place; they are deleted only when
// the owning session is purged.
type User struct {
	ID             string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"id"`
	SessionID      string    `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	DisplayName    string    `gorm:"column:display_name;size:320;not null" json:"displayName"`
	IsHost         bool      `gorm:"column:is_host;not null;default:false" json:"isHost"`
	Color          string    `gorm:"column:color;size:16;not null" json:"color"`
	CursorPosition *Position `gorm:"column:cursor_position;serializer:json" json:"cursorPosition"`
	JoinedAtMS     int64     `gorm:"column:joined_at_ms;not null" json:"joinedAt"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "session_users"
}

// Card is a single sticky-note contribution. A nil ClusterID means the
// card stands alone; otherwise the referenced cluster must list the card.
type Card struct {
	ID          string   `gorm:"column:card_id;primaryKey;size:190;not null" json:"id"`
	SessionID   string   `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	UserID      string   `gorm:"column:user_id;size:190;not null" json:"userId"`
	Column      string   `gorm:"column:board_column;size:190;not null" json:"column"`
	Content     string   `gorm:"column:content;type:text;not null" json:"content"`
	Position    Position `gorm:"column:position;serializer:json" json:"position"`
	ClusterID   *string  `gorm:"column:cluster_id;size:190;index" json:"clusterId"`
	IsRevealed  bool     `gorm:"column:is_revealed;not null;default:false" json:"isRevealed"`
	CreatedAtMS int64    `gorm:"column:created_at_ms;not null" json:"createdAt"`
	UpdatedAtMS int64    `gorm:"column:updated_at_ms;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Card) TableName() string {
	return "cards"
}

// Clustered reports whether the card currently belongs to a cluster.
func (c Card) Clustered() bool {
	return c.ClusterID != nil && *c.ClusterID != ""
}

// Cluster is a named grouping of two or more cards. NameLocked is set
// once a participant edits the name by hand; automatic renaming on merge
// is skipped from then on.
type Cluster struct {
	ID          string   `gorm:"column:cluster_id;primaryKey;size:190;not null" json:"id"`
	SessionID   string   `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	Name        string   `gorm:"column:name;size:320;not null" json:"name"`
	CardIDs     []string `gorm:"column:card_ids;serializer:json;not null" json:"cardIds"`
	Column      string   `gorm:"column:board_column;size:190;not null" json:"column"`
	Position    Position `gorm:"column:position;serializer:json" json:"position"`
	NameLocked  bool     `gorm:"column:name_locked;not null;default:false" json:"nameLocked"`
	CreatedAtMS int64    `gorm:"column:created_at_ms;not null" json:"createdAt"`
	UpdatedAtMS int64    `gorm:"column:updated_at_ms;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Cluster) TableName() string {
	return "clusters"
}

// Contains reports whether the cluster lists the given card id.
func (c Cluster) Contains(cardID string) bool {
	for _, id := range c.CardIDs {
		if id == cardID {
			return true
		}
	}
	return false
}

// Vote is one vote by one user on a card or cluster.
type Vote struct {
	ID          string     `gorm:"column:vote_id;primaryKey;size:190;not null" json:"id"`
	SessionID   string     `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	UserID      string     `gorm:"column:user_id;size:190;not null" json:"userId"`
	TargetID    string     `gorm:"column:target_id;size:190;not null" json:"targetId"`
	TargetType  TargetType `gorm:"column:target_type;size:16;not null" json:"targetType"`
	CreatedAtMS int64      `gorm:"column:created_at_ms;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// ActionItem is a follow-up task captured during the ACT stage.
type ActionItem struct {
	ID          string `gorm:"column:action_item_id;primaryKey;size:190;not null" json:"id"`
	SessionID   string `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	Owner       string `gorm:"column:owner;size:320;not null" json:"owner"`
	Task        string `gorm:"column:task;type:text;not null" json:"task"`
	CreatedAtMS int64  `gorm:"column:created_at_ms;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (ActionItem) TableName() string {
	return "action_items"
}

// IceBreaker is one user's warm-up contribution. At most one row per
// (session, user) is kept; a new submission replaces the previous one.
type IceBreaker struct {
	ID          string         `gorm:"column:ice_breaker_id;primaryKey;size:190;not null" json:"id"`
	SessionID   string         `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	UserID      string         `gorm:"column:user_id;size:190;not null" json:"userId"`
	Content     string         `gorm:"column:content;type:text;not null" json:"content"`
	Type        IceBreakerType `gorm:"column:kind;size:16;not null" json:"type"`
	CreatedAtMS int64          `gorm:"column:created_at_ms;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (IceBreaker) TableName() string {
	return "ice_breakers"
}
