// Package debounce coalesces bursts of events per key into one delayed
// action.
//
// Every Arm restarts the quiescence window for its key, so a steady trickle
// of events postpones the action indefinitely. Trigger bypasses the wait.
// Cancellation is cooperative: each armed timer carries a generation, and an
// expiry whose generation is no longer current does nothing, even if the
// underlying timer had already fired when it was stopped.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the default quiescence window.
const DefaultWindow = 3 * time.Second

// State is the scheduler state for one key.
type State int

const (
	// Idle means no timer is armed.
	Idle State = iota
	// Waiting means a timer is counting down.
	Waiting
	// Fired means the action is running; the key returns to Idle afterwards.
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

type entry struct {
	gen   uint64
	timer Timer
	state State
}

// Scheduler holds at most one live timer per key.
type Scheduler[K comparable] struct {
	window time.Duration
	clock  Clock

	mu      sync.Mutex
	gen     uint64
	entries map[K]*entry
	stopped bool
}

// New creates a scheduler. A non-positive window selects DefaultWindow and
// a nil clock selects RealClock.
func New[K comparable](window time.Duration, clock Clock) *Scheduler[K] {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler[K]{
		window:  window,
		clock:   clock,
		entries: make(map[K]*entry),
	}
}

// Window returns the quiescence window.
func (s *Scheduler[K]) Window() time.Duration {
	return s.window
}

// Arm cancels any pending timer for key and starts a fresh one that runs fn
// after the full window.
func (s *Scheduler[K]) Arm(key K, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelLocked(key)

	s.gen++
	e := &entry{gen: s.gen, state: Waiting}
	gen := e.gen
	e.timer = s.clock.AfterFunc(s.window, func() { s.expire(key, gen, fn) })
	s.entries[key] = e
}

// Trigger cancels any pending timer for key and runs fn synchronously.
func (s *Scheduler[K]) Trigger(key K, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelLocked(key)
	s.mu.Unlock()

	fn()
}

// Cancel stops the pending timer for key. It reports whether one was
// pending.
func (s *Scheduler[K]) Cancel(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

// State returns the current state for key.
func (s *Scheduler[K]) State(key K) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.state
	}
	return Idle
}

// Pending reports whether a timer is counting down for key.
func (s *Scheduler[K]) Pending(key K) bool {
	return s.State(key) == Waiting
}

// Len returns the number of keys that are Waiting or Fired.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending timer. Later Arm and Trigger calls are
// ignored.
func (s *Scheduler[K]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key := range s.entries {
		s.cancelLocked(key)
	}
}

// cancelLocked removes a Waiting entry. A Fired entry is left alone since
// its action is already running. Caller must hold mu.
func (s *Scheduler[K]) cancelLocked(key K) bool {
	e, ok := s.entries[key]
	if !ok || e.state != Waiting {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

func (s *Scheduler[K]) expire(key K, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen || e.state != Waiting {
		s.mu.Unlock()
		return
	}
	e.state = Fired
	s.mu.Unlock()

	fn()

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur.gen == gen {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}
