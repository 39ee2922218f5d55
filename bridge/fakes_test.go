package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agentplexus/twilio-realtime-bridge/realtime"
	"github.com/agentplexus/twilio-realtime-bridge/session"
	"github.com/agentplexus/twilio-realtime-bridge/transport"
)

type sentFrame struct {
	Event     string
	StreamSID string
	Payload   string
	Mark      string
}

type fakeTelephony struct {
	events chan transport.Event

	mu     sync.Mutex
	sent   []sentFrame
	closed bool
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{events: make(chan transport.Event, 16)}
}

func (f *fakeTelephony) Events() <-chan transport.Event { return f.events }

func (f *fakeTelephony) record(fr sentFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeTelephony) SendMedia(streamSID, payload string) error {
	return f.record(sentFrame{Event: "media", StreamSID: streamSID, Payload: payload})
}

func (f *fakeTelephony) SendMark(streamSID, name string) error {
	return f.record(sentFrame{Event: "mark", StreamSID: streamSID, Mark: name})
}

func (f *fakeTelephony) SendClear(streamSID string) error {
	return f.record(sentFrame{Event: "clear", StreamSID: streamSID})
}

func (f *fakeTelephony) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTelephony) Sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTelephony) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeUpstream struct {
	events chan realtime.ServerEvent

	mu         sync.Mutex
	sent       []realtime.ClientEvent
	closed     bool
	subscribed bool
	err        error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan realtime.ServerEvent, 16)}
}

func (f *fakeUpstream) Events() <-chan realtime.ServerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = true
	return f.events
}

func (f *fakeUpstream) Send(ev realtime.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return realtime.ErrClosed
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeUpstream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) Sent() []realtime.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.ClientEvent(nil), f.sent...)
}

func (f *fakeUpstream) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeUpstream) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

type processCall struct {
	Transcript     []string
	DestinationURL string
	SessionID      string
}

type fakeProcessor struct {
	err   error
	calls chan processCall
}

func newFakeProcessor(err error) *fakeProcessor {
	return &fakeProcessor{err: err, calls: make(chan processCall, 4)}
}

func (f *fakeProcessor) Process(_ context.Context, transcript []string, destinationURL, sessionID string) error {
	f.calls <- processCall{Transcript: transcript, DestinationURL: destinationURL, SessionID: sessionID}
	return f.err
}

var errDialRefused = errors.New("dial refused")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTo(up Upstream) DialFunc {
	return func(context.Context) (Upstream, error) { return up, nil }
}

// newTestCall returns a call in the ACTIVE state with both sides attached,
// for driving handlers directly.
func newTestCall(t *testing.T) (*call, *fakeTelephony, *fakeUpstream) {
	t.Helper()
	tel := newFakeTelephony()
	up := newFakeUpstream()
	ctrl, err := New(Config{
		Store:  session.NewStore(),
		Dial:   dialTo(up),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, pb, _ := ctrl.store.Attach("test-session")
	sess.SetStreamSID("MZ123")
	return &call{
		c:         ctrl,
		sess:      sess,
		pb:        pb,
		streamSID: "MZ123",
		tel:       tel,
		up:        up,
		state:     StateActive,
		logger:    testLogger(),
	}, tel, up
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
