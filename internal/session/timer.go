package session

import (
	"context"
	"fmt"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"go.uber.org/zap"
)

// StartTimer arms the stage countdown. Host only. A fresh start cancels
// any countdown already running; the broadcaster is one-shot per start,
// ticking once a second until it reaches zero.
func (c *Coordinator) StartTimer(ctx context.Context, callerID string, durationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireHost(ctx, callerID); err != nil {
		return err
	}
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: timer duration must be positive", board.ErrInvalidOperation)
	}

	nowMS := c.clock().UnixMilli()
	endMS := nowMS + int64(durationSeconds)*1000
	fields := map[string]any{"timer_end_at_ms": endMS, "updated_at_ms": nowMS}
	if err := c.store.UpdateSession(ctx, c.sessionID, fields); err != nil {
		return err
	}

	c.stopTimerLocked()
	timerCtx, cancel := context.WithCancel(context.Background())
	c.timerCancel = cancel
	go c.runTimer(timerCtx, endMS)

	c.logger.Info("timer started",
		zap.String("session_id", c.sessionID),
		zap.Int("duration_s", durationSeconds))
	return nil
}

// stopTimerLocked cancels the running countdown broadcaster, if any.
// Caller holds c.mu.
func (c *Coordinator) stopTimerLocked() {
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
}

// runTimer broadcasts timer:tick once a second until the deadline
// passes, then stops on its own.
func (c *Coordinator) runTimer(ctx context.Context, endMS int64) {
	tick := func() (remaining int64) {
		nowMS := c.clock().UnixMilli()
		remaining = (endMS - nowMS) / 1000
		if remaining < 0 {
			remaining = 0
		}
		c.publish(Event{Name: EventTimerTick, Payload: timerTickPayload{RemainingSeconds: remaining}})
		return remaining
	}

	if tick() == 0 {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tick() == 0 {
				return
			}
		}
	}
}
