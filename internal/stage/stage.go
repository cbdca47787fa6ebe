// Package stage implements the fixed retrospective workflow as a pure
// state machine. Transitions return the side effects the caller must
// execute rather than reaching into other entities directly.
package stage

// Stage is one phase of a session's fixed workflow.
type Stage string

const (
	Setup      Stage = "SETUP"
	IceBreaker Stage = "ICE_BREAKER"
	Reflect    Stage = "REFLECT"
	Group      Stage = "GROUP"
	Vote       Stage = "VOTE"
	Act        Stage = "ACT"
	Complete   Stage = "COMPLETE"
)

// order is the total order stages move along. Setup is initial and
// Complete is terminal.
var order = []Stage{Setup, IceBreaker, Reflect, Group, Vote, Act, Complete}

// SideEffect is a command the caller executes after a transition.
type SideEffect string

const (
	// SideEffectRevealAllCards forces isRevealed on every card in the
	// session. Emitted on entering GROUP.
	SideEffectRevealAllCards SideEffect = "reveal_all_cards"
	// SideEffectClearVotes deletes the session's votes and drops the
	// votesRevealed flag. Emitted on entering VOTE in either direction.
	SideEffectClearVotes SideEffect = "clear_votes"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.index() >= 0
}

func (s Stage) index() int {
	for i, candidate := range order {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Advance moves one stage forward. At COMPLETE it is a clamped no-op:
// the current stage comes back with no side effects.
func Advance(current Stage) (Stage, []SideEffect) {
	idx := current.index()
	if idx < 0 || idx == len(order)-1 {
		return current, nil
	}
	next := order[idx+1]
	return next, entryEffects(next)
}

// Previous moves one stage backward. At SETUP it is a clamped no-op.
func Previous(current Stage) (Stage, []SideEffect) {
	idx := current.index()
	if idx <= 0 {
		return current, nil
	}
	prev := order[idx-1]
	return prev, entryEffects(prev)
}

// entryEffects lists the commands triggered by entering a stage,
// regardless of direction.
func entryEffects(entered Stage) []SideEffect {
	switch entered {
	case Group:
		return []SideEffect{SideEffectRevealAllCards}
	case Vote:
		return []SideEffect{SideEffectClearVotes}
	default:
		return nil
	}
}
