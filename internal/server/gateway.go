package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Shared upgrader; origin checks are handled by CORS on the bootstrap
// routes, the socket accepts any origin.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// inboundFrame is the wire shape of every client event.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	DisplayName string `json:"displayName"`
	HostID      string `json:"hostId"`
	UserID      string `json:"userId"`
}

type idPayload struct {
	ID string `json:"id"`
}

type cursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type cardUpdatePayload struct {
	ID string `json:"id"`
	session.CardUpdate
}

type mergePayload struct {
	SourceCardID string `json:"sourceCardId"`
	TargetCardID string `json:"targetCardId"`
}

type clusterUpdatePayload struct {
	ID      string                `json:"id"`
	Updates session.ClusterUpdate `json:"updates"`
}

type ungroupPayload struct {
	ClusterID string `json:"clusterId"`
}

type votePayload struct {
	TargetID   string `json:"targetId"`
	TargetType string `json:"targetType"`
}

type voteRemovePayload struct {
	VoteID string `json:"voteId"`
}

type actionUpdatePayload struct {
	ID string `json:"id"`
	session.ActionItemUpdate
}

type iceBreakerPayload struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type timerPayload struct {
	Duration int `json:"duration"`
}

type typingPayload struct {
	CardID string `json:"cardId"`
	Field  string `json:"field"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type exportedPayload struct {
	Markdown string `json:"markdown"`
}

// handleSocket upgrades the connection and runs its read loop. The
// first frame must be join:session; everything after is dispatched to
// the session coordinator.
func (h *httpHandler) handleSocket(c *gin.Context) {
	sessionID := c.Param("id")
	coordinator, err := h.registry.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, board.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
			return
		}
		h.logger.Error("session lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_lookup_failed"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:      conn,
		send:      make(chan []byte, clientSendBuffer),
		sessionID: sessionID,
	}
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	go cl.writePump()

	defer func() {
		h.hub.leave(cl)
		cl.shutdown()
		if h.metrics != nil {
			h.metrics.ConnectionClosed()
		}
	}()

	ctx := c.Request.Context()
	if !h.awaitJoin(ctx, coordinator, cl) {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Ordinary disconnect: the User row stays so the same
			// browser can reattach via userId on the next join.
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			cl.enqueue(session.Event{Name: session.EventError, Payload: errorPayload{Message: "malformed frame"}})
			continue
		}
		if h.metrics != nil {
			h.metrics.EventReceived(frame.Event)
		}
		if err := h.dispatch(ctx, coordinator, cl, frame); err != nil {
			if h.metrics != nil {
				h.metrics.DispatchFailed(frame.Event)
			}
			// Failures stay local to the originating connection.
			cl.enqueue(session.Event{Name: session.EventError, Payload: errorPayload{Message: err.Error()}})
		}
	}
}

// awaitJoin consumes frames until a valid join:session arrives, binding
// the connection to a user and delivering the initial full snapshot.
func (h *httpHandler) awaitJoin(ctx context.Context, coordinator *session.Coordinator, cl *client) bool {
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return false
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event != "join:session" {
			cl.enqueue(session.Event{Name: session.EventError, Payload: errorPayload{Message: "expected join:session"}})
			continue
		}
		var payload joinPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			cl.enqueue(session.Event{Name: session.EventError, Payload: errorPayload{Message: "malformed join payload"}})
			continue
		}

		// Room membership first so no broadcast slips between the join
		// mutation and this connection's subscription.
		h.hub.join(cl)
		user, snapshot, err := coordinator.Join(ctx, payload.DisplayName, payload.HostID, payload.UserID)
		if err != nil {
			h.hub.leave(cl)
			cl.enqueue(session.Event{Name: session.EventError, Payload: errorPayload{Message: err.Error()}})
			continue
		}
		cl.bindUser(user.ID)
		cl.enqueue(session.Event{Name: session.EventSessionState, Payload: snapshot})
		return true
	}
}

// dispatch maps one inbound client intent onto a coordinator call.
func (h *httpHandler) dispatch(ctx context.Context, coordinator *session.Coordinator, cl *client, frame inboundFrame) error {
	decode := func(v any) error {
		if len(frame.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(frame.Data, v); err != nil {
			return fmt.Errorf("%w: malformed %s payload", board.ErrInvalidOperation, frame.Event)
		}
		return nil
	}

	switch frame.Event {
	case "join:session":
		// Already joined; a repeated join is treated as a reconnect
		// request for the same identity.
		_, snapshot, err := coordinator.Join(ctx, "", "", cl.userID)
		if err != nil {
			return err
		}
		cl.enqueue(session.Event{Name: session.EventSessionState, Payload: snapshot})
		return nil

	case "cursor:move":
		var p cursorPayload
		if err := decode(&p); err != nil {
			return err
		}
		coordinator.CursorMoved(cl.userID, p.X, p.Y)
		return nil

	case "card:create":
		var p session.CardInput
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.CreateCard(ctx, cl.userID, p)
		return err

	case "card:update":
		var p cardUpdatePayload
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.UpdateCard(ctx, p.ID, p.CardUpdate)
		return err

	case "card:delete":
		var p idPayload
		if err := decode(&p); err != nil {
			return err
		}
		return coordinator.DeleteCard(ctx, p.ID)

	case "cluster:create":
		var p mergePayload
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.MergeCards(ctx, p.SourceCardID, p.TargetCardID)
		return err

	case "cluster:update":
		var p clusterUpdatePayload
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.UpdateCluster(ctx, p.ID, p.Updates)
		return err

	case "cluster:ungroup":
		var p ungroupPayload
		if err := decode(&p); err != nil {
			return err
		}
		return coordinator.Ungroup(ctx, p.ClusterID)

	case "vote:cast":
		var p votePayload
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.CastVote(ctx, cl.userID, p.TargetID, p.TargetType)
		return err

	case "vote:remove":
		var p voteRemovePayload
		if err := decode(&p); err != nil {
			return err
		}
		return coordinator.RemoveVote(ctx, cl.userID, p.VoteID)

	case "action:create":
		var p session.ActionItemInput
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.CreateActionItem(ctx, p)
		return err

	case "action:update":
		var p actionUpdatePayload
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.UpdateActionItem(ctx, p.ID, p.ActionItemUpdate)
		return err

	case "action:delete":
		var p idPayload
		if err := decode(&p); err != nil {
			return err
		}
		return coordinator.DeleteActionItem(ctx, p.ID)

	case "icebreaker:create":
		var p iceBreakerPayload
		if err := decode(&p); err != nil {
			return err
		}
		_, err := coordinator.CreateIceBreaker(ctx, cl.userID, p.Content, p.Type)
		return err

	case "icebreaker:reveal":
		return coordinator.RevealIceBreakers(ctx, cl.userID)

	case "vote:reveal":
		return coordinator.RevealVotes(ctx, cl.userID)

	case "stage:advance":
		_, err := coordinator.Advance(ctx, cl.userID)
		return err

	case "stage:previous":
		_, err := coordinator.Previous(ctx, cl.userID)
		return err

	case "timer:start":
		var p timerPayload
		if err := decode(&p); err != nil {
			return err
		}
		return coordinator.StartTimer(ctx, cl.userID, p.Duration)

	case "session:export":
		markdown, err := coordinator.Export(ctx)
		if err != nil {
			return err
		}
		cl.enqueue(session.Event{Name: session.EventSessionExported, Payload: exportedPayload{Markdown: markdown}})
		return nil

	case "typing:start":
		var p typingPayload
		if err := decode(&p); err != nil {
			return err
		}
		coordinator.TypingStarted(cl.userID, p.CardID, p.Field)
		return nil

	case "typing:stop":
		var p typingPayload
		if err := decode(&p); err != nil {
			return err
		}
		coordinator.TypingStopped(cl.userID, p.CardID, p.Field)
		return nil

	default:
		return fmt.Errorf("%w: unknown event %q", board.ErrInvalidOperation, frame.Event)
	}
}
