package lifecycle

import (
	"sync/atomic"
	"time"
)

// State tracks process phase for the health endpoint. The zero value is not
// usable; create one with New.
type State struct {
	started      time.Time
	shuttingDown atomic.Bool
}

// New returns a State whose start time is now.
func New() *State {
	return &State{started: time.Now()}
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
// The health handler reports shutting-down with 503 while true.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Uptime returns the time since New.
func (s *State) Uptime() time.Duration {
	return time.Since(s.started)
}
