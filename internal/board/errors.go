package board

import "errors"

// Failure taxonomy shared by the coordinator, cluster engine, and stage
// machine. The gateway maps these onto error events for the originating
// connection; none of them terminate the connection or the process.
var (
	// ErrNotFound indicates a missing session, card, cluster, user,
	// vote, or action item.
	ErrNotFound = errors.New("board: not found")
	// ErrInvalidOperation indicates a structurally invalid request,
	// such as merging a card with itself or across sessions.
	ErrInvalidOperation = errors.New("board: invalid operation")
	// ErrWrongStage indicates an action attempted outside the stage
	// that permits it.
	ErrWrongStage = errors.New("board: wrong stage")
	// ErrNotHost indicates a host-only action attempted by a non-host.
	ErrNotHost = errors.New("board: not host")
	// ErrVoteLimitExceeded indicates the caller already spent every
	// vote the session settings grant them.
	ErrVoteLimitExceeded = errors.New("board: vote limit exceeded")
)
