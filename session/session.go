// Package session holds per-user merge state.
//
// A Session is mutated only through its methods, each of which runs under
// the session lock, so every phase transition is atomic with respect to the
// pending artifact list.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/coalesce/types"
)

// Phase is the lifecycle position of a session.
type Phase int

const (
	// Collecting accepts artifacts and waits for the debounce to expire.
	Collecting Phase = iota
	// AwaitingName has prompted the user for the output name.
	AwaitingName
	// Merging is running a merge job over a snapshot of the pending list.
	Merging
	// Delivering is handing the merged artifact to the transport.
	Delivering
)

func (p Phase) String() string {
	switch p {
	case Collecting:
		return "collecting"
	case AwaitingName:
		return "awaiting_name"
	case Merging:
		return "merging"
	case Delivering:
		return "delivering"
	default:
		return "unknown"
	}
}

// Busy reports whether a job owns the session.
func (p Phase) Busy() bool {
	return p == Merging || p == Delivering
}

// Session is the mutable state of one user.
type Session struct {
	userID types.UserID
	now    func() time.Time

	mu         sync.Mutex
	phase      Phase
	pending    []types.ArtifactRef
	status     types.MessageHandle
	progress   types.MessageHandle
	uploads    []types.MessageHandle
	lastActive time.Time
}

func newSession(userID types.UserID, now func() time.Time) *Session {
	return &Session{userID: userID, now: now, lastActive: now()}
}

// UserID returns the owning user.
func (s *Session) UserID() types.UserID {
	return s.userID
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Enqueue appends an artifact to the pending list and remembers its upload
// message. It returns the new pending count and the phase at the time of
// the call, so the caller can decide whether to arm the debounce.
func (s *Session) Enqueue(ref types.ArtifactRef, upload types.MessageHandle) (int, Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ref)
	if !upload.IsZero() {
		s.uploads = append(s.uploads, upload)
	}
	s.touchLocked()
	return len(s.pending), s.phase
}

// PendingCount returns the number of queued artifacts.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Pending returns a copy of the queued artifacts.
func (s *Session) Pending() []types.ArtifactRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// RequestName moves a collecting session with queued artifacts to
// AwaitingName. It reports whether the transition happened; a false result
// means the caller must not prompt.
func (s *Session) RequestName() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Collecting || len(s.pending) == 0 {
		return false
	}
	s.phase = AwaitingName
	s.touchLocked()
	return true
}

// BeginMerge snapshots and clears the pending list and enters Merging.
// It only succeeds from AwaitingName with at least one artifact queued.
// An AwaitingName session with nothing queued falls back to Collecting.
func (s *Session) BeginMerge() ([]types.ArtifactRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != AwaitingName {
		return nil, false
	}
	if len(s.pending) == 0 {
		s.phase = Collecting
		return nil, false
	}
	snapshot := s.pending
	s.pending = nil
	s.phase = Merging
	s.touchLocked()
	return snapshot, true
}

// Deliver marks the output as produced.
func (s *Session) Deliver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Merging {
		s.phase = Delivering
	}
}

// Finish returns the session to Collecting and reports how many artifacts
// arrived while the job was running.
func (s *Session) Finish() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Collecting
	s.touchLocked()
	return len(s.pending)
}

// Requeue puts refs back at the front of the pending list, ahead of
// anything that arrived during the job, and returns to Collecting.
func (s *Session) Requeue(refs []types.ArtifactRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(slices.Clone(refs), s.pending...)
	s.phase = Collecting
	s.touchLocked()
	return len(s.pending)
}

// StatusHandle returns the live "files received" message, if any.
func (s *Session) StatusHandle() types.MessageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatusHandle records the live status message.
func (s *Session) SetStatusHandle(h types.MessageHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = h
}

// TakeStatusHandle clears and returns the status message.
func (s *Session) TakeStatusHandle() types.MessageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.status
	s.status = types.MessageHandle{}
	return h
}

// SetProgressHandle records the live progress message.
func (s *Session) SetProgressHandle(h types.MessageHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = h
}

// TakeProgressHandle clears and returns the progress message.
func (s *Session) TakeProgressHandle() types.MessageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.progress
	s.progress = types.MessageHandle{}
	return h
}

// TakeUploads clears and returns the recorded upload messages.
func (s *Session) TakeUploads() []types.MessageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.uploads
	s.uploads = nil
	return h
}

// Idle reports whether the session holds nothing worth keeping and has not
// changed since before cutoff.
func (s *Session) Idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == Collecting &&
		len(s.pending) == 0 &&
		s.status.IsZero() &&
		s.progress.IsZero() &&
		s.lastActive.Before(cutoff)
}

func (s *Session) touchLocked() {
	s.lastActive = s.now()
}
