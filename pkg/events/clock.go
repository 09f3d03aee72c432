package events

import (
	"sync"
	"time"
)

// SessionClock issues strictly monotonic microsecond timestamps per session.
// Wall-clock collisions (two reads in the same microsecond, or clock skew
// going backwards) are resolved by bumping 1µs past the last issued value,
// so every session's timeline orders deterministically.
type SessionClock struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewSessionClock creates an empty clock.
func NewSessionClock() *SessionClock {
	return &SessionClock{last: make(map[string]int64)}
}

// Next returns the next timestamp for the session, strictly greater than any
// previously issued value for the same session.
func (c *SessionClock) Next(sessionID string) int64 {
	now := time.Now().UnixMicro()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[sessionID]; ok && now <= prev {
		now = prev + 1
	}
	c.last[sessionID] = now
	return now
}

// Forget releases the tracking state for a finalized session.
func (c *SessionClock) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, sessionID)
}
