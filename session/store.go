package session

import (
	"sort"
	"sync"
)

// Store is the registry of active calls, keyed by session id. It lives for
// the lifetime of the process and persists nothing.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating an empty one if absent.
// created is false when an existing session was reused.
func (s *Store) GetOrCreate(id string) (sess *Session, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		return existing, false
	}
	sess = newSession(id)
	s.sessions[id] = sess
	return sess, true
}

// Attach registers a media stream on the session for id, creating the session
// if absent. The stream gets its own empty playback state; the transcript is
// shared with earlier streams of the same call. Every Attach must be paired
// with a Detach.
func (s *Store) Attach(id string) (sess *Session, pb *Playback, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession(id)
		s.sessions[id] = sess
	}
	sess.streams++
	return sess, sess.newPlayback(), !ok
}

// Detach unregisters a media stream attached with Attach. The session is
// removed when its last stream detaches, and last reports whether that
// happened.
func (s *Store) Detach(id string, sess *Session) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.streams > 0 {
		sess.streams--
	}
	if sess.streams > 0 {
		return false
	}
	if s.sessions[id] == sess {
		delete(s.sessions, id)
	}
	return true
}

// Get returns the session for id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove deletes the session for id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the active session ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
