package host

import "sync/atomic"

// TickControl is the keep-ticking flag. Plugins with the tick capability
// request the loop; a signal or a graceful ExitProcess stops it. Once stopped
// it stays stopped.
type TickControl struct {
	requested atomic.Bool
	stopped   atomic.Bool
}

// Request asks for the tick loop.
func (t *TickControl) Request() {
	t.requested.Store(true)
}

// Stop ends the tick loop. Safe to call from any goroutine.
func (t *TickControl) Stop() {
	t.stopped.Store(true)
}

// Requested reports whether any plugin asked for ticks.
func (t *TickControl) Requested() bool {
	return t.requested.Load()
}

// Active reports whether the loop should keep going.
func (t *TickControl) Active() bool {
	return t.requested.Load() && !t.stopped.Load()
}
