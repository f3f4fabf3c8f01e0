package session

import (
	"sync"
	"time"

	"github.com/pithecene-io/coalesce/types"
)

// Registry maps user ids to sessions.
//
// Callers bracket work on a session with Acquire and Release; Sweep never
// evicts a session that is held.
type Registry struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[types.UserID]*registryEntry
}

type registryEntry struct {
	session *Session
	refs    int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNow overrides the time source.
func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		now:     time.Now,
		entries: make(map[types.UserID]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the session for user, creating it if needed, and pins it
// against eviction until the matching Release.
func (r *Registry) Acquire(user types.UserID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[user]
	if !ok {
		e = &registryEntry{session: newSession(user, r.now)}
		r.entries[user] = e
	}
	e.refs++
	return e.session
}

// Release unpins a session obtained from Acquire.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[s.userID]; ok && e.session == s && e.refs > 0 {
		e.refs--
	}
}

// Lookup returns the existing session for user without creating one.
func (r *Registry) Lookup(user types.UserID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[user]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts sessions idle for longer than ttl. pinned, when non-nil,
// vetoes eviction of users with outside state such as an armed debounce
// timer. It returns the evicted user ids.
func (r *Registry) Sweep(ttl time.Duration, pinned func(types.UserID) bool) []types.UserID {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []types.UserID
	for user, e := range r.entries {
		if e.refs > 0 {
			continue
		}
		if pinned != nil && pinned(user) {
			continue
		}
		if !e.session.Idle(cutoff) {
			continue
		}
		delete(r.entries, user)
		evicted = append(evicted, user)
	}
	return evicted
}
