package callsystem

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/agentplexus/twilio-realtime-bridge/internal/client"
)

type fakeTwilio struct {
	created  []client.CreateCallParams
	hungUp   []string
	remote   map[string]*client.Call
	createFn func(client.CreateCallParams) (*client.Call, error)
}

func (f *fakeTwilio) CreateCall(_ context.Context, params client.CreateCallParams) (*client.Call, error) {
	f.created = append(f.created, params)
	if f.createFn != nil {
		return f.createFn(params)
	}
	return &client.Call{SID: "CAout", Status: "queued"}, nil
}

func (f *fakeTwilio) GetCall(_ context.Context, sid string) (*client.Call, error) {
	if c, ok := f.remote[sid]; ok {
		return c, nil
	}
	return nil, &client.Error{Status: 404, Code: 20404, Message: "not found"}
}

func (f *fakeTwilio) HangupCall(_ context.Context, sid string) (*client.Call, error) {
	f.hungUp = append(f.hungUp, sid)
	return &client.Call{SID: sid, Status: "completed"}, nil
}

func newTestProvider(tw Twilio) *Provider {
	return New(Config{
		Greeting: "Hi, you have called Desert Sands. How can we help you today?",
		From:     "+15550100",
		Twilio:   tw,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestMediaStreamTwiML(t *testing.T) {
	out, err := MediaStreamTwiML("Hello & welcome", "wss://bridge.example.com/media-stream", map[string]string{
		"callSid": "CA1",
		"empty":   "",
	})
	if err != nil {
		t.Fatalf("MediaStreamTwiML: %v", err)
	}
	if !strings.HasPrefix(out, xml.Header) {
		t.Errorf("missing xml header: %s", out)
	}

	var doc ResponseElement
	if err := xml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Say == nil || doc.Say.Text != "Hello & welcome" {
		t.Errorf("say=%+v", doc.Say)
	}
	if doc.Connect == nil || doc.Connect.Stream.URL != "wss://bridge.example.com/media-stream" {
		t.Fatalf("connect=%+v", doc.Connect)
	}
	params := doc.Connect.Stream.Parameters
	if len(params) != 1 || params[0].Name != "callSid" || params[0].Value != "CA1" {
		t.Errorf("parameters=%+v", params)
	}
	if strings.Index(out, "<Say>") > strings.Index(out, "<Connect>") {
		t.Error("greeting must come before the stream")
	}
}

func TestMediaStreamTwiML_NoGreeting(t *testing.T) {
	out, err := MediaStreamTwiML("", "wss://h/media-stream", nil)
	if err != nil {
		t.Fatalf("MediaStreamTwiML: %v", err)
	}
	if strings.Contains(out, "<Say") {
		t.Errorf("unexpected Say: %s", out)
	}
}

func TestHandleIncoming(t *testing.T) {
	p := newTestProvider(nil)

	twiml, err := p.HandleIncoming("CA1", "+15550001", "+15550100", "bridge.example.com")
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if !strings.Contains(twiml, `url="wss://bridge.example.com/media-stream"`) {
		t.Errorf("stream url missing: %s", twiml)
	}
	if !strings.Contains(twiml, `name="callSid" value="CA1"`) {
		t.Errorf("callSid parameter missing: %s", twiml)
	}

	calls := p.ActiveCalls()
	if len(calls) != 1 || calls[0].SID != "CA1" || calls[0].Direction != Inbound || calls[0].Status != StatusRinging {
		t.Errorf("calls=%+v", calls)
	}
}

func TestPublicHostOverridesRequestHost(t *testing.T) {
	p := New(Config{PublicHost: "public.example.com"})
	if got := p.StreamURL("10.0.0.5:3000"); got != "wss://public.example.com/media-stream" {
		t.Errorf("stream url=%s", got)
	}
	if got := p.StatusCallbackURL("10.0.0.5:3000"); got != "https://public.example.com/status-callback" {
		t.Errorf("status callback url=%s", got)
	}
}

func TestHandleStatusCallback(t *testing.T) {
	p := newTestProvider(nil)
	if _, err := p.HandleIncoming("CA1", "+1", "+2", "h"); err != nil {
		t.Fatal(err)
	}

	p.HandleStatusCallback("CA1", "in-progress")
	if calls := p.ActiveCalls(); len(calls) != 1 || calls[0].Status != StatusAnswered {
		t.Errorf("calls=%+v", calls)
	}

	p.StreamStarted("CA1")
	if calls := p.ActiveCalls(); calls[0].Status != StatusStreaming {
		t.Errorf("status=%s, want streaming", calls[0].Status)
	}

	p.HandleStatusCallback("CA1", "completed")
	if calls := p.ActiveCalls(); len(calls) != 0 {
		t.Errorf("ended call still tracked: %+v", calls)
	}

	p.HandleStatusCallback("CAunknown", "completed")
}

func TestMakeCall(t *testing.T) {
	tw := &fakeTwilio{}
	p := newTestProvider(tw)

	call, err := p.MakeCall(context.Background(), " +15550001 ", "bridge.example.com")
	if err != nil {
		t.Fatalf("MakeCall: %v", err)
	}
	if call.SID != "CAout" || call.Direction != Outbound || call.Status != StatusRinging {
		t.Errorf("call=%+v", call)
	}
	if len(tw.created) != 1 {
		t.Fatalf("created %d calls", len(tw.created))
	}
	params := tw.created[0]
	if params.To != "+15550001" || params.From != "+15550100" {
		t.Errorf("numbers %s -> %s", params.From, params.To)
	}
	if !strings.Contains(params.Twiml, "wss://bridge.example.com/media-stream") {
		t.Errorf("twiml=%s", params.Twiml)
	}
	if strings.Contains(params.Twiml, "<Say") {
		t.Error("outbound twiml should not greet")
	}
	if params.StatusCallback != "https://bridge.example.com/status-callback" {
		t.Errorf("status callback=%s", params.StatusCallback)
	}
}

func TestMakeCall_Errors(t *testing.T) {
	if _, err := New(Config{}).MakeCall(context.Background(), "+1", "h"); !errors.Is(err, ErrOutboundDisabled) {
		t.Errorf("err=%v, want ErrOutboundDisabled", err)
	}

	tw := &fakeTwilio{createFn: func(client.CreateCallParams) (*client.Call, error) {
		return nil, &client.Error{Status: 400, Code: 21211, Message: "invalid To number"}
	}}
	p := newTestProvider(tw)
	_, err := p.MakeCall(context.Background(), "+1", "h")
	var apiErr *client.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 21211 {
		t.Errorf("err=%v, want wrapped twilio error", err)
	}
	if len(p.ActiveCalls()) != 0 {
		t.Error("failed call must not be tracked")
	}

	if _, err := p.MakeCall(context.Background(), "  ", "h"); err == nil {
		t.Error("expected error for empty destination")
	}
}

func TestGetCallAndHangup(t *testing.T) {
	tw := &fakeTwilio{remote: map[string]*client.Call{
		"CAremote": {SID: "CAremote", Status: "in-progress", Direction: "inbound", From: "+1", To: "+2"},
	}}
	p := newTestProvider(tw)
	if _, err := p.MakeCall(context.Background(), "+1", "h"); err != nil {
		t.Fatal(err)
	}

	got, err := p.GetCall(context.Background(), "CAout")
	if err != nil || got.SID != "CAout" {
		t.Errorf("tracked call=%+v err=%v", got, err)
	}

	got, err = p.GetCall(context.Background(), "CAremote")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Direction != Inbound || got.Status != StatusAnswered {
		t.Errorf("remote call=%+v", got)
	}

	if _, err := p.GetCall(context.Background(), "CAmissing"); !client.IsNotFound(err) {
		t.Errorf("err=%v, want not found", err)
	}

	if err := p.Hangup(context.Background(), "CAout"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if len(tw.hungUp) != 1 || tw.hungUp[0] != "CAout" {
		t.Errorf("hung up %v", tw.hungUp)
	}
	if len(p.ActiveCalls()) != 0 {
		t.Error("hung up call still tracked")
	}
}

func TestMapCallStatus(t *testing.T) {
	tests := map[string]Status{
		"queued":      StatusRinging,
		"ringing":     StatusRinging,
		"in-progress": StatusAnswered,
		"completed":   StatusEnded,
		"busy":        StatusBusy,
		"no-answer":   StatusNoAnswer,
		"canceled":    StatusFailed,
		"failed":      StatusFailed,
		"mystery":     StatusRinging,
	}
	for in, want := range tests {
		if got := mapCallStatus(in); got != want {
			t.Errorf("mapCallStatus(%q)=%s, want %s", in, got, want)
		}
	}
}
