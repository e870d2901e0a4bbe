package clock

import (
	"sync"
	"time"
)

// Clock provides current time for staleness checks and alert timestamps.
// Params: none.
// Returns: current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for deterministic tests and replays.
// Params: initial time via NewManual.
// Returns: clock that only moves on Set/Advance.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock at given time.
func NewManual(at time.Time) *Manual {
	return &Manual{now: at.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves manual time forward.
// Params: step duration.
// Returns: new current time.
func (m *Manual) Advance(step time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(step)
	return m.now
}

// Set replaces manual time.
func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	m.now = at.UTC()
	m.mu.Unlock()
}
