package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newConnPair starts an httptest server that accepts one media stream and
// returns the server-side Conn together with the dialing (Twilio-side) socket.
func newConnPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	return nil, nil
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return out
}

func nextEvent(t *testing.T, conn *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestConn_InboundEventsInOrder(t *testing.T) {
	conn, client := newConnPair(t)

	frames := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"start","start":{"streamSid":"MZ1"}}`,
		`{"event":"media","media":{"timestamp":"20","payload":"AQID"}}`,
		`not json`,
		`{"event":"mark","mark":{"name":"responsePart"}}`,
	}
	for _, f := range frames {
		if err := client.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if _, ok := nextEvent(t, conn).(ConnectedEvent); !ok {
		t.Error("expected connected event first")
	}
	if start, ok := nextEvent(t, conn).(StartEvent); !ok || start.StreamSID != "MZ1" {
		t.Error("expected start event second")
	}
	if media, ok := nextEvent(t, conn).(MediaEvent); !ok || media.Timestamp != 20 {
		t.Error("expected media event third")
	}
	if invalid, ok := nextEvent(t, conn).(InvalidEvent); !ok || invalid.Err == nil {
		t.Error("expected invalid event for malformed frame")
	}
	if _, ok := nextEvent(t, conn).(MarkEvent); !ok {
		t.Error("expected mark event last")
	}
}

func TestConn_OutboundFrames(t *testing.T) {
	conn, client := newConnPair(t)

	if err := conn.SendMedia("MZ1", "QUJD"); err != nil {
		t.Fatalf("send media: %v", err)
	}
	if err := conn.SendMark("MZ1", "responsePart"); err != nil {
		t.Fatalf("send mark: %v", err)
	}
	if err := conn.SendClear("MZ1"); err != nil {
		t.Fatalf("send clear: %v", err)
	}

	media := readFrame(t, client)
	if media["event"] != "media" || media["streamSid"] != "MZ1" {
		t.Errorf("unexpected media frame: %v", media)
	}
	if payload := media["media"].(map[string]any)["payload"]; payload != "QUJD" {
		t.Errorf("expected payload QUJD, got %v", payload)
	}

	mark := readFrame(t, client)
	if mark["event"] != "mark" || mark["mark"].(map[string]any)["name"] != "responsePart" {
		t.Errorf("unexpected mark frame: %v", mark)
	}

	clear := readFrame(t, client)
	if clear["event"] != "clear" || clear["streamSid"] != "MZ1" {
		t.Errorf("unexpected clear frame: %v", clear)
	}
	if _, ok := clear["media"]; ok {
		t.Errorf("clear frame should not carry media: %v", clear)
	}
}

func TestConn_CloseEndsEventsAndRejectsWrites(t *testing.T) {
	conn, client := newConnPair(t)

	_ = client.Close()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("expected events channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events channel to close")
	}

	if err := conn.Close(); err != nil {
		t.Logf("close after remote hangup: %v", err)
	}
	if err := conn.SendClear("MZ1"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
