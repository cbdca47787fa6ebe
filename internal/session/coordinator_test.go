package session

import (
	"context"
	"errors"
	"testing"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/stage"
)

func TestJoinCreatesUserAndBroadcasts(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.Setup)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")

	user, snapshot, err := coordinator.Join(context.Background(), "Alice", session.HostID, "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !user.IsHost {
		t.Fatalf("host token did not mark user as host")
	}
	if user.Color != "#e6194b" {
		t.Fatalf("user color = %q, want first palette entry", user.Color)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0].ID != user.ID {
		t.Fatalf("snapshot users = %+v, want the joined user", snapshot.Users)
	}

	event, ok := publisher.last(EventUserJoined)
	if !ok {
		t.Fatalf("no user:joined event published")
	}
	if event.ExcludeUserID != user.ID {
		t.Fatalf("user:joined exclude = %q, want joining user %s", event.ExcludeUserID, user.ID)
	}
}

func TestJoinWithWrongTokenIsNotHost(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Setup)
	coordinator, _ := newTestCoordinator(t, store, "session-1")

	user := mustJoin(t, coordinator, "Bob", "not-the-token")
	if user.IsHost {
		t.Fatalf("wrong token marked user as host")
	}
}

func TestJoinReconnectReusesStoredIdentity(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Reflect)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	original := mustJoin(t, coordinator, "Alice", "")
	publisher.reset()

	again, snapshot, err := coordinator.Join(context.Background(), "ignored", "", original.ID)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if again.ID != original.ID || again.DisplayName != "Alice" {
		t.Fatalf("reconnect returned %+v, want the original identity", again)
	}
	if len(snapshot.Users) != 1 {
		t.Fatalf("reconnect created a duplicate user row: %+v", snapshot.Users)
	}
	if _, ok := publisher.last(EventUserReconnected); !ok {
		t.Fatalf("no user:reconnected event published")
	}
	if _, ok := publisher.last(EventUserJoined); ok {
		t.Fatalf("reconnect also published user:joined")
	}
}

func TestJoinRejectsEmptyDisplayName(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Setup)
	coordinator, _ := newTestCoordinator(t, store, "session-1")

	if _, _, err := coordinator.Join(context.Background(), "  <script>x</script>  ", "", ""); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("markup-only name error = %v, want ErrInvalidOperation", err)
	}
}

func TestCreateCardStartsHiddenWithSanitizedContent(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Reflect)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	card, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{
		Column:  "Start",
		Content: "<b>pair</b> more often",
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if card.IsRevealed {
		t.Fatalf("new card started revealed")
	}
	if card.Content != "pair more often" {
		t.Fatalf("card content = %q, want markup stripped", card.Content)
	}
	if _, ok := publisher.last(EventCardCreated); !ok {
		t.Fatalf("no card:created event published")
	}
}

func TestCreateCardRejectsUnknownColumn(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Reflect)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	if _, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Kudos", Content: "x"}); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("unknown column error = %v, want ErrInvalidOperation", err)
	}
}

func TestUpdateCardRejectsColumnChangeWhileClustered(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Group)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	first, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	second, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "beta"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := coordinator.MergeCards(context.Background(), first.ID, second.ID); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if _, err := coordinator.UpdateCard(context.Background(), first.ID, CardUpdate{Column: strptr("Stop")}); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("clustered column move error = %v, want ErrInvalidOperation", err)
	}
}

func TestDeleteClusteredCardDissolvesPairAndDropsVotes(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Vote)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	first, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	second, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "beta"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := coordinator.MergeCards(context.Background(), first.ID, second.ID); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := coordinator.CastVote(context.Background(), user.ID, first.ID, "card"); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	publisher.reset()

	if err := coordinator.DeleteCard(context.Background(), first.ID); err != nil {
		t.Fatalf("delete card: %v", err)
	}

	if _, err := store.FindCard(context.Background(), first.ID); !errors.Is(err, board.ErrNotFound) {
		t.Fatalf("deleted card lookup = %v, want ErrNotFound", err)
	}
	survivor, err := store.FindCard(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("reload survivor: %v", err)
	}
	if survivor.Clustered() {
		t.Fatalf("survivor still clustered after pair dissolved")
	}
	for _, name := range []string{EventClusterDeleted, EventVoteDeleted, EventCardDeleted} {
		if _, ok := publisher.last(name); !ok {
			t.Fatalf("missing %s event, got %v", name, publisher.names())
		}
	}
}

func TestCastVoteOutsideVoteStageFails(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Group)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	card, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := coordinator.CastVote(context.Background(), user.ID, card.ID, "card"); !errors.Is(err, board.ErrWrongStage) {
		t.Fatalf("vote during GROUP error = %v, want ErrWrongStage", err)
	}
}

func TestCastVoteEnforcesPerUserCap(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Vote)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	card, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	var lastVote *board.Vote
	for i := 0; i < 3; i++ {
		lastVote, err = coordinator.CastVote(context.Background(), user.ID, card.ID, "card")
		if err != nil {
			t.Fatalf("vote %d: %v", i+1, err)
		}
	}
	if _, err := coordinator.CastVote(context.Background(), user.ID, card.ID, "card"); !errors.Is(err, board.ErrVoteLimitExceeded) {
		t.Fatalf("fourth vote error = %v, want ErrVoteLimitExceeded", err)
	}

	// Retracting a vote frees the slot again.
	if err := coordinator.RemoveVote(context.Background(), user.ID, lastVote.ID); err != nil {
		t.Fatalf("remove vote: %v", err)
	}
	if _, err := coordinator.CastVote(context.Background(), user.ID, card.ID, "card"); err != nil {
		t.Fatalf("vote after retraction: %v", err)
	}
}

func TestRemoveVoteOfAnotherUserFails(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Vote)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	alice := mustJoin(t, coordinator, "Alice", "")
	bob := mustJoin(t, coordinator, "Bob", "")

	card, err := coordinator.CreateCard(context.Background(), alice.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	vote, err := coordinator.CastVote(context.Background(), alice.ID, card.ID, "card")
	if err != nil {
		t.Fatalf("cast vote: %v", err)
	}

	if err := coordinator.RemoveVote(context.Background(), bob.ID, vote.ID); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("foreign vote removal error = %v, want ErrInvalidOperation", err)
	}
}

func TestCastVoteRejectsUnknownTargetType(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Vote)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	if _, err := coordinator.CastVote(context.Background(), user.ID, "whatever", "column"); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("unknown target type error = %v, want ErrInvalidOperation", err)
	}
}

func TestCreateIceBreakerReplacesPreviousEntry(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.IceBreaker)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	first, err := coordinator.CreateIceBreaker(context.Background(), user.ID, "coffee", "text")
	if err != nil {
		t.Fatalf("first entry: %v", err)
	}
	publisher.reset()

	second, err := coordinator.CreateIceBreaker(context.Background(), user.ID, "tea", "text")
	if err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("replacement reused entry id")
	}

	entries, err := store.FindIceBreakersBySession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "tea" {
		t.Fatalf("entries = %+v, want only the replacement", entries)
	}
	if _, ok := publisher.last(EventIceBreakerDeleted); !ok {
		t.Fatalf("replacement did not publish icebreaker:deleted")
	}
}

func TestCreateIceBreakerRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.IceBreaker)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	if _, err := coordinator.CreateIceBreaker(context.Background(), user.ID, "x", "video"); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("unknown type error = %v, want ErrInvalidOperation", err)
	}
}

func TestStageChangeRequiresHost(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Reflect)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	guest := mustJoin(t, coordinator, "Bob", "")

	if _, err := coordinator.Advance(context.Background(), guest.ID); !errors.Is(err, board.ErrNotHost) {
		t.Fatalf("guest advance error = %v, want ErrNotHost", err)
	}
	if _, err := coordinator.Previous(context.Background(), guest.ID); !errors.Is(err, board.ErrNotHost) {
		t.Fatalf("guest previous error = %v, want ErrNotHost", err)
	}
}

func TestAdvanceIntoGroupRevealsEveryCard(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.Reflect)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	host := mustJoin(t, coordinator, "Alice", session.HostID)

	card, err := coordinator.CreateCard(context.Background(), host.ID, CardInput{Column: "Start", Content: "hidden until grouping"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	publisher.reset()

	next, err := coordinator.Advance(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next != stage.Group {
		t.Fatalf("advanced to %s, want GROUP", next)
	}

	revealed, err := store.FindCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("reload card: %v", err)
	}
	if !revealed.IsRevealed {
		t.Fatalf("card still hidden after entering GROUP")
	}
	if _, ok := publisher.last(EventStageChanged); !ok {
		t.Fatalf("no stage:changed event published")
	}
	// Side effects ship a fresh full snapshot so late observers converge.
	if _, ok := publisher.last(EventSessionState); !ok {
		t.Fatalf("no session:state event after side effects")
	}
}

func TestEnteringVoteStageDeletesStoredVotes(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.Vote)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	host := mustJoin(t, coordinator, "Alice", session.HostID)

	card, err := coordinator.CreateCard(context.Background(), host.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if _, err := coordinator.CastVote(context.Background(), host.ID, card.ID, "card"); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if err := coordinator.RevealVotes(context.Background(), host.ID); err != nil {
		t.Fatalf("reveal votes: %v", err)
	}

	// Step away and back in; re-entering VOTE wipes the ballot box.
	if _, err := coordinator.Advance(context.Background(), host.ID); err != nil {
		t.Fatalf("advance to ACT: %v", err)
	}
	if _, err := coordinator.Previous(context.Background(), host.ID); err != nil {
		t.Fatalf("back to VOTE: %v", err)
	}

	votes, err := store.FindVotesBySession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("list votes: %v", err)
	}
	if len(votes) != 0 {
		t.Fatalf("votes after re-entering VOTE = %d, want 0", len(votes))
	}
	reloaded, err := store.FindSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.VotesRevealed {
		t.Fatalf("votesRevealed still set after VOTE re-entry")
	}
}

func TestAdvanceClampsAtCompleteWithoutEvents(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.Complete)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	host := mustJoin(t, coordinator, "Alice", session.HostID)
	publisher.reset()

	next, err := coordinator.Advance(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next != stage.Complete {
		t.Fatalf("clamped advance moved to %s", next)
	}
	if _, ok := publisher.last(EventStageChanged); ok {
		t.Fatalf("clamped advance published stage:changed")
	}
}

func TestUpdateClusterRenameLocksTheName(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Group)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	first, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	second, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "beta"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	merged, err := coordinator.MergeCards(context.Background(), first.ID, second.ID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	updated, err := coordinator.UpdateCluster(context.Background(), merged.Cluster.ID, ClusterUpdate{Name: strptr("Pairing")})
	if err != nil {
		t.Fatalf("rename cluster: %v", err)
	}
	if updated.Name != "Pairing" || !updated.NameLocked {
		t.Fatalf("cluster after rename = %+v, want locked name Pairing", updated)
	}
}

func TestUpdateClusterColumnMovesMemberCards(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Group)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")

	first, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "alpha"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	second, err := coordinator.CreateCard(context.Background(), user.ID, CardInput{Column: "Start", Content: "beta"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	merged, err := coordinator.MergeCards(context.Background(), first.ID, second.ID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	if _, err := coordinator.UpdateCluster(context.Background(), merged.Cluster.ID, ClusterUpdate{Column: strptr("Continue")}); err != nil {
		t.Fatalf("move cluster: %v", err)
	}
	for _, id := range []string{first.ID, second.ID} {
		card, err := store.FindCard(context.Background(), id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if card.Column != "Continue" {
			t.Fatalf("member %s column = %q, want Continue", id, card.Column)
		}
	}
}

func TestRevealIceBreakersIsHostOnly(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.IceBreaker)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	host := mustJoin(t, coordinator, "Alice", session.HostID)
	guest := mustJoin(t, coordinator, "Bob", "")

	if err := coordinator.RevealIceBreakers(context.Background(), guest.ID); !errors.Is(err, board.ErrNotHost) {
		t.Fatalf("guest reveal error = %v, want ErrNotHost", err)
	}
	if err := coordinator.RevealIceBreakers(context.Background(), host.ID); err != nil {
		t.Fatalf("host reveal: %v", err)
	}
	reloaded, err := store.FindSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if !reloaded.IceBreakersRevealed {
		t.Fatalf("iceBreakersRevealed not set after host reveal")
	}
}

func TestStartTimerRequiresHostAndPositiveDuration(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.Reflect)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	host := mustJoin(t, coordinator, "Alice", session.HostID)
	guest := mustJoin(t, coordinator, "Bob", "")

	if err := coordinator.StartTimer(context.Background(), guest.ID, 60); !errors.Is(err, board.ErrNotHost) {
		t.Fatalf("guest timer error = %v, want ErrNotHost", err)
	}
	if err := coordinator.StartTimer(context.Background(), host.ID, 0); !errors.Is(err, board.ErrInvalidOperation) {
		t.Fatalf("zero duration error = %v, want ErrInvalidOperation", err)
	}

	if err := coordinator.StartTimer(context.Background(), host.ID, 120); err != nil {
		t.Fatalf("host timer: %v", err)
	}
	reloaded, err := store.FindSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.TimerEndAt == nil || *reloaded.TimerEndAt != 1700000100000+120*1000 {
		t.Fatalf("timerEndAt = %v, want now + 120s", reloaded.TimerEndAt)
	}
}

func TestStageChangeClearsRunningTimer(t *testing.T) {
	store := newTestStore(t)
	session := seedSession(t, store, "session-1", stage.Reflect)
	coordinator, _ := newTestCoordinator(t, store, "session-1")
	host := mustJoin(t, coordinator, "Alice", session.HostID)

	if err := coordinator.StartTimer(context.Background(), host.ID, 120); err != nil {
		t.Fatalf("start timer: %v", err)
	}
	if _, err := coordinator.Advance(context.Background(), host.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	reloaded, err := store.FindSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.TimerEndAt != nil {
		t.Fatalf("timerEndAt = %v after stage change, want nil", reloaded.TimerEndAt)
	}
}

func TestCursorMovedSkipsTheOriginator(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "session-1", stage.Reflect)
	coordinator, publisher := newTestCoordinator(t, store, "session-1")
	user := mustJoin(t, coordinator, "Alice", "")
	publisher.reset()

	coordinator.CursorMoved(user.ID, 42, 17)

	event, ok := publisher.last(EventCursorUpdated)
	if !ok {
		t.Fatalf("no cursor:updated event published")
	}
	if event.ExcludeUserID != user.ID {
		t.Fatalf("cursor event exclude = %q, want %s", event.ExcludeUserID, user.ID)
	}
}
