package transport

import (
	"errors"
	"testing"
)

func TestDecode_Start(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ123","accountSid":"AC1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},"customParameters":{"callSid":"CA1"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start, ok := ev.(StartEvent)
	if !ok {
		t.Fatalf("expected StartEvent, got %T", ev)
	}
	if start.StreamSID != "MZ123" {
		t.Errorf("expected stream sid MZ123, got %s", start.StreamSID)
	}
	if start.CallSID != "CA1" {
		t.Errorf("expected call sid CA1, got %s", start.CallSID)
	}
	if start.MediaFormat.SampleRate != 8000 {
		t.Errorf("expected sample rate 8000, got %d", start.MediaFormat.SampleRate)
	}
	if start.CustomParameters["callSid"] != "CA1" {
		t.Errorf("expected custom parameter callSid, got %v", start.CustomParameters)
	}
}

func TestDecode_MediaTimestampForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"number", `{"event":"media","media":{"timestamp":800,"payload":"AAAA"}}`, 800},
		{"string", `{"event":"media","media":{"timestamp":"1250","payload":"AAAA"}}`, 1250},
		{"missing", `{"event":"media","media":{"payload":"AAAA"}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			media, ok := ev.(MediaEvent)
			if !ok {
				t.Fatalf("expected MediaEvent, got %T", ev)
			}
			if media.Timestamp != tt.want {
				t.Errorf("timestamp=%d, want %d", media.Timestamp, tt.want)
			}
			if media.Payload != "AAAA" {
				t.Errorf("payload=%q, want AAAA", media.Payload)
			}
		})
	}
}

func TestDecode_MarkStopAndUnknown(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"mark","mark":{"name":"responsePart"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mark, ok := ev.(MarkEvent); !ok || mark.Name != "responsePart" {
		t.Errorf("expected responsePart mark, got %#v", ev)
	}

	ev, err = Decode([]byte(`{"event":"stop","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stop, ok := ev.(StopEvent); !ok || stop.CallSID != "CA1" {
		t.Errorf("expected stop for CA1, got %#v", ev)
	}

	ev, err = Decode([]byte(`{"event":"dtmf","dtmf":{"digit":"1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unknown, ok := ev.(UnknownEvent); !ok || unknown.EventName() != "dtmf" {
		t.Errorf("expected unknown dtmf event, got %#v", ev)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"event":`},
		{"missing event", `{"media":{"payload":"AAAA"}}`},
		{"start without sid", `{"event":"start","start":{}}`},
		{"media without body", `{"event":"media"}`},
		{"bad timestamp", `{"event":"media","media":{"timestamp":"soon","payload":"AAAA"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error, got event %#v", ev)
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("expected *DecodeError, got %T", err)
			}
		})
	}
}
