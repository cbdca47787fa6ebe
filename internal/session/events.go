// Package session hosts the per-session coordinator actor: the single
// owner of one session's canonical state. Every mutation passes through
// the actor's lock and publishes its broadcast events before the lock is
// released, so clients observe changes in application order.
package session

import "github.com/RuBiCK/viberetro-sub000/internal/board"

// Server-to-client event names.
const (
	EventSessionState        = "session:state"
	EventUserJoined          = "user:joined"
	EventUserReconnected     = "user:reconnected"
	EventCursorUpdated       = "cursor:updated"
	EventCardCreated         = "card:created"
	EventCardUpdated         = "card:updated"
	EventCardDeleted         = "card:deleted"
	EventClusterCreated      = "cluster:created"
	EventClusterUpdated      = "cluster:updated"
	EventClusterDeleted      = "cluster:deleted"
	EventVoteCreated         = "vote:created"
	EventVoteDeleted         = "vote:deleted"
	EventActionCreated       = "action:created"
	EventActionUpdated       = "action:updated"
	EventActionDeleted       = "action:deleted"
	EventIceBreakerCreated   = "icebreaker:created"
	EventIceBreakerDeleted   = "icebreaker:deleted"
	EventIceBreakersRevealed = "icebreaker:revealed"
	EventVotesRevealed       = "vote:revealed"
	EventStageChanged        = "stage:changed"
	EventTimerTick           = "timer:tick"
	EventTypingUpdated       = "typing:updated"
	EventSessionExported     = "session:exported"
	EventError               = "error"
)

// Event is one outbound broadcast frame. ExcludeUserID marks the
// peer-facing events (cursor, typing) that skip the originator's own
// connections.
type Event struct {
	Name          string `json:"event"`
	Payload       any    `json:"data"`
	ExcludeUserID string `json:"-"`
}

// Publisher fans an event out to every connection in a session room.
// Implementations must not block; the coordinator publishes while
// holding the session lock.
type Publisher interface {
	Publish(sessionID string, event Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(sessionID string, event Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(sessionID string, event Event) {
	f(sessionID, event)
}

// StateSnapshot is the full session:state payload: one consistent view
// of the session and every child entity, sent on join and on stage
// transitions that carry side effects.
type StateSnapshot struct {
	Session     *board.Session     `json:"session"`
	Users       []board.User       `json:"users"`
	Cards       []board.Card       `json:"cards"`
	Clusters    []board.Cluster    `json:"clusters"`
	Votes       []board.Vote       `json:"votes"`
	ActionItems []board.ActionItem `json:"actionItems"`
	IceBreakers []board.IceBreaker `json:"iceBreakers"`
}

type deletedPayload struct {
	ID string `json:"id"`
}

type stageChangedPayload struct {
	Stage string `json:"stage"`
}

type iceBreakersRevealedPayload struct {
	IceBreakersRevealed bool `json:"iceBreakersRevealed"`
}

type votesRevealedPayload struct {
	VotesRevealed bool `json:"votesRevealed"`
}

type timerTickPayload struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type cursorUpdatedPayload struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type typingUpdatedPayload struct {
	TargetID string   `json:"targetId"`
	Field    string   `json:"field"`
	UserIDs  []string `json:"userIds"`
}
