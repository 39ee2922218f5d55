// Package session holds per-call state and the registry of active calls.
package session

import (
	"strings"
	"sync"
	"time"
)

// Transcript line labels.
const (
	SpeakerUser  = "User"
	SpeakerAgent = "Agent"
)

// Session is the state of one phone call. It outlives a single media stream
// connection: a reconnect with the same id resumes the same Session.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.RWMutex
	streamSID  string
	callSID    string
	transcript []string
	playback   *Playback

	// streams counts attached media streams; guarded by Store.mu.
	streams int
}

func newSession(id string) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		playback:  &Playback{},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// StreamSID returns the Twilio stream SID, or "" before the start event.
func (s *Session) StreamSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

// SetStreamSID records the stream SID from the start event.
func (s *Session) SetStreamSID(sid string) {
	s.mu.Lock()
	s.streamSID = sid
	s.mu.Unlock()
}

// CallSID returns the Twilio call SID if the start event carried one.
func (s *Session) CallSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSID
}

// SetCallSID records the Twilio call SID.
func (s *Session) SetCallSID(sid string) {
	s.mu.Lock()
	s.callSID = sid
	s.mu.Unlock()
}

// AppendUtterance appends one labeled line to the transcript. The transcript
// is append-only; identical utterances are kept.
func (s *Session) AppendUtterance(speaker, text string) string {
	line := speaker + ": " + text
	s.mu.Lock()
	s.transcript = append(s.transcript, line)
	s.mu.Unlock()
	return line
}

// Transcript returns a copy of the transcript lines in order.
func (s *Session) Transcript() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// TranscriptText renders the transcript with one newline-terminated line per utterance.
func (s *Session) TranscriptText() string {
	return JoinTranscript(s.Transcript())
}

// JoinTranscript renders transcript lines as newline-terminated text.
func JoinTranscript(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Playback returns the assistant playback state of the most recently attached
// media stream. It is owned by the goroutine bridging that stream and is not
// synchronized.
func (s *Session) Playback() *Playback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback
}

// newPlayback replaces the playback state with an empty one. Playback is
// tracked per media stream connection, the transcript per call.
func (s *Session) newPlayback() *Playback {
	pb := &Playback{}
	s.mu.Lock()
	s.playback = pb
	s.mu.Unlock()
	return pb
}
