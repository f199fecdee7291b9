package dispatch

import (
	"time"

	"github.com/benbjohnson/clock"
)

// HeartbeatInterval is how long the device may stay silent before the
// collector must hear from it again. Fixed by the collector's liveness
// policy, not configurable.
const HeartbeatInterval = 15 * time.Second

// Heartbeat tracks elapsed time since the last heartbeat was sent. The loop
// checks Due at the start of every cycle, so a slow frame delays a beat by at
// most one cycle but never starves it.
type Heartbeat struct {
	clk  clock.Clock
	last time.Time
}

// NewHeartbeat starts the timer with the current instant as its baseline.
func NewHeartbeat(clk clock.Clock) *Heartbeat {
	return &Heartbeat{clk: clk, last: clk.Now()}
}

// Due reports whether at least HeartbeatInterval has elapsed since the last
// Reset.
func (h *Heartbeat) Due() bool {
	return h.clk.Since(h.last) >= HeartbeatInterval
}

// Reset records now as the new baseline.
func (h *Heartbeat) Reset() {
	h.last = h.clk.Now()
}
