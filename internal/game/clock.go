package game

import (
	"sync"
	"time"
)

// TurnClock holds at most one pending deadline per session. Arming happens
// outside the store's critical section, so two racing callers can commit
// transitions in one order and arm in the other; the clock keeps the pending
// deadline keyed by turn and ignores arms for a turn no newer than it, which
// makes arm order irrelevant. A fire that loses the race against an explicit
// completion carries a stale turn key and is rejected as ErrAlreadyAdvanced
// by CompleteTurn, so the clock never needs to know whether it is still the
// authoritative timer.
type TurnClock struct {
	mu     sync.Mutex
	timers map[string]*turnTimer
	fire   func(sessionID string, key TurnKey)
}

type turnTimer struct {
	timer *time.Timer
	key   TurnKey
}

// NewTurnClock returns a clock invoking fire when a deadline elapses.
func NewTurnClock(fire func(sessionID string, key TurnKey)) *TurnClock {
	return &TurnClock{timers: make(map[string]*turnTimer), fire: fire}
}

// Arm schedules a one-shot deadline for the session's turn identified by
// key, replacing a pending deadline only if key is a later turn.
func (c *TurnClock) Arm(sessionID string, key TurnKey, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.timers[sessionID]; ok {
		if !key.after(prev.key) {
			return
		}
		prev.timer.Stop()
	}
	pending := &turnTimer{key: key}
	pending.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		// a re-arm may have replaced us; only clear our own entry
		if c.timers[sessionID] == pending {
			delete(c.timers, sessionID)
		}
		c.mu.Unlock()
		c.fire(sessionID, key)
	})
	c.timers[sessionID] = pending
}

// Disarm cancels the pending deadline, if any. Best-effort: a timer that
// already fired is neutralized by its stale turn key instead.
func (c *TurnClock) Disarm(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pending, ok := c.timers[sessionID]; ok {
		pending.timer.Stop()
		delete(c.timers, sessionID)
	}
}

// after reports whether k identifies a later turn than other. Rounds only
// ever increase and the turn index resets with each round, so (round,
// turnIndex) orders a session's turns totally.
func (k TurnKey) after(other TurnKey) bool {
	if k.Round != other.Round {
		return k.Round > other.Round
	}
	return k.TurnIndex > other.TurnIndex
}
