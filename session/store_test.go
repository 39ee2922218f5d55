package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestStore_GetOrCreateReusesSession(t *testing.T) {
	s := NewStore()

	first, created := s.GetOrCreate("CA1")
	if !created {
		t.Error("expected first call to create")
	}
	if first.StreamSID() != "" || len(first.Transcript()) != 0 {
		t.Error("expected empty new session")
	}
	first.SetStreamSID("MZ1")

	second, created := s.GetOrCreate("CA1")
	if created {
		t.Error("expected reconnect to reuse the session")
	}
	if second != first || second.StreamSID() != "MZ1" {
		t.Error("expected the same session instance")
	}
	if s.Len() != 1 {
		t.Errorf("len=%d, want 1", s.Len())
	}
}

func TestStore_Remove(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("a")
	s.GetOrCreate("b")

	s.Remove("a")
	s.Remove("missing")

	if _, ok := s.Get("a"); ok {
		t.Error("expected a to be removed")
	}
	if ids := s.IDs(); len(ids) != 1 || ids[0] != "b" {
		t.Errorf("ids=%v, want [b]", ids)
	}
}

func TestStore_ConcurrentSessions(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session_%d", i)
			sess, _ := s.GetOrCreate(id)
			sess.AppendUtterance(SpeakerUser, "hello")
			s.GetOrCreate(id)
			if i%2 == 0 {
				s.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 25 {
		t.Errorf("len=%d, want 25", s.Len())
	}
}

func TestSession_TranscriptIsAppendOnly(t *testing.T) {
	sess := newSession("CA1")
	sess.AppendUtterance(SpeakerUser, "I need an appointment")
	sess.AppendUtterance(SpeakerUser, "I need an appointment")
	sess.AppendUtterance(SpeakerAgent, "Sure, for which day?")

	want := "User: I need an appointment\nUser: I need an appointment\nAgent: Sure, for which day?\n"
	if got := sess.TranscriptText(); got != want {
		t.Errorf("transcript=%q, want %q", got, want)
	}

	lines := sess.Transcript()
	lines[0] = "mutated"
	if sess.Transcript()[0] != "User: I need an appointment" {
		t.Error("Transcript must return a copy")
	}
}

func TestStore_AttachGivesEachStreamItsOwnPlayback(t *testing.T) {
	s := NewStore()

	sess, first, created := s.Attach("CA1")
	if !created {
		t.Error("expected first attach to create")
	}
	first.ObserveMedia(800)
	first.AudioForwarded("item_1", "responsePart")
	sess.AppendUtterance(SpeakerUser, "first")

	again, second, created := s.Attach("CA1")
	if created || again != sess {
		t.Fatal("expected second attach to reuse the session")
	}
	if second == first {
		t.Fatal("expected a fresh playback for the second stream")
	}
	if second.PendingMarks() != 0 || second.LatestMediaTimestamp() != 0 {
		t.Error("expected empty playback for the second stream")
	}
	if first.PendingMarks() != 1 || first.LatestMediaTimestamp() != 800 {
		t.Error("first stream playback must not be reset by a second attach")
	}
	if sess.Playback() != second {
		t.Error("expected session playback to follow the latest stream")
	}
	if got := sess.Transcript(); len(got) != 1 || got[0] != "User: first" {
		t.Errorf("transcript=%q, want shared transcript", got)
	}
}

func TestStore_DetachRemovesOnLastStream(t *testing.T) {
	s := NewStore()
	sess, _, _ := s.Attach("CA1")
	s.Attach("CA1")

	if last := s.Detach("CA1", sess); last {
		t.Error("expected first detach not to be last")
	}
	if _, ok := s.Get("CA1"); !ok {
		t.Fatal("session removed while a stream is still attached")
	}

	if last := s.Detach("CA1", sess); !last {
		t.Error("expected second detach to be last")
	}
	if _, ok := s.Get("CA1"); ok {
		t.Error("session still in store after last detach")
	}
}

func TestStore_DetachLeavesReplacementSession(t *testing.T) {
	s := NewStore()
	old, _, _ := s.Attach("CA1")
	s.Remove("CA1")
	replacement, _, _ := s.Attach("CA1")

	if last := s.Detach("CA1", old); !last {
		t.Error("expected detach of the only stream to be last")
	}
	if got, ok := s.Get("CA1"); !ok || got != replacement {
		t.Error("detaching a stale session must not remove its replacement")
	}
}
