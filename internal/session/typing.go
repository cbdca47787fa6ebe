package session

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// A typing entry expires this long after the most recent keystroke
	// signal for that user, target, and field.
	typingExpiry = 3 * time.Second
	// Broadcasts are throttled per user so fast typing does not flood
	// the room.
	typingBroadcastInterval = 500 * time.Millisecond
)

type typingKey struct {
	targetID string
	field    string
}

// typingTracker holds the ephemeral who-is-typing-where state for one
// session. Entries self-expire; expiry fires a broadcast of its own.
type typingTracker struct {
	mu       sync.Mutex
	entries  map[typingKey]map[string]*time.Timer
	limiters map[string]*rate.Limiter
	notify   func(key typingKey, userIDs []string, excludeUserID string)
}

func newTypingTracker(notify func(key typingKey, userIDs []string, excludeUserID string)) *typingTracker {
	return &typingTracker{
		entries:  make(map[typingKey]map[string]*time.Timer),
		limiters: make(map[string]*rate.Limiter),
		notify:   notify,
	}
}

// start records a keystroke signal, resetting the user's expiry timer.
// The resulting broadcast is dropped when the user's throttle window is
// still open; the entry itself is always refreshed.
func (t *typingTracker) start(userID, targetID, field string) {
	key := typingKey{targetID: targetID, field: field}

	t.mu.Lock()
	users, ok := t.entries[key]
	if !ok {
		users = make(map[string]*time.Timer)
		t.entries[key] = users
	}
	if timer, ok := users[userID]; ok {
		timer.Stop()
	}
	users[userID] = time.AfterFunc(typingExpiry, func() {
		t.expire(userID, key)
	})

	limiter, ok := t.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(typingBroadcastInterval), 1)
		t.limiters[userID] = limiter
	}
	broadcast := limiter.Allow()
	snapshot := t.usersLocked(key)
	t.mu.Unlock()

	if broadcast {
		t.notify(key, snapshot, userID)
	}
}

// stop clears the user's entry immediately, e.g. on blur or submit.
// Stops always broadcast so peers do not wait out the expiry.
func (t *typingTracker) stop(userID, targetID, field string) {
	key := typingKey{targetID: targetID, field: field}

	t.mu.Lock()
	removed := t.removeLocked(userID, key)
	snapshot := t.usersLocked(key)
	t.mu.Unlock()

	if removed {
		t.notify(key, snapshot, userID)
	}
}

func (t *typingTracker) expire(userID string, key typingKey) {
	t.mu.Lock()
	removed := t.removeLocked(userID, key)
	snapshot := t.usersLocked(key)
	t.mu.Unlock()

	if removed {
		t.notify(key, snapshot, "")
	}
}

func (t *typingTracker) removeLocked(userID string, key typingKey) bool {
	users, ok := t.entries[key]
	if !ok {
		return false
	}
	timer, ok := users[userID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.entries, key)
	}
	return true
}

func (t *typingTracker) usersLocked(key typingKey) []string {
	users := t.entries[key]
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// close stops every pending expiry timer; used on coordinator teardown.
func (t *typingTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, users := range t.entries {
		for _, timer := range users {
			timer.Stop()
		}
		delete(t.entries, key)
	}
}
