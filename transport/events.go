package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
)

// Event is one decoded inbound Media Streams message.
//
// The concrete types are ConnectedEvent, StartEvent, MediaEvent, MarkEvent,
// StopEvent, UnknownEvent and InvalidEvent.
type Event interface {
	EventName() string
}

// ConnectedEvent is the first message Twilio sends on a new stream.
type ConnectedEvent struct {
	Protocol string
	Version  string
}

// StartEvent carries the stream metadata, including the stream SID used to
// address every outbound frame.
type StartEvent struct {
	StreamSID        string
	AccountSID       string
	CallSID          string
	Tracks           []string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

// MediaFormat describes the inbound audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaEvent is one chunk of caller audio. Timestamp is the stream playback
// clock in milliseconds; Payload is base64 μ-law audio and is passed upstream untouched.
type MediaEvent struct {
	Track     string
	Chunk     string
	Timestamp int64
	Payload   string
}

// MarkEvent acknowledges that a previously sent mark has been played.
type MarkEvent struct {
	Name string
}

// StopEvent is sent when the stream ends.
type StopEvent struct {
	AccountSID string
	CallSID    string
}

// UnknownEvent is any well-formed message with an unrecognized event name.
type UnknownEvent struct {
	Name string
}

// InvalidEvent is a frame that could not be decoded. The read loop delivers it
// instead of dropping it so the consumer can log it with call context.
type InvalidEvent struct {
	Raw []byte
	Err error
}

func (ConnectedEvent) EventName() string { return realtimebridge.TwilioEventConnected }
func (StartEvent) EventName() string     { return realtimebridge.TwilioEventStart }
func (MediaEvent) EventName() string     { return realtimebridge.TwilioEventMedia }
func (MarkEvent) EventName() string      { return realtimebridge.TwilioEventMark }
func (StopEvent) EventName() string      { return realtimebridge.TwilioEventStop }
func (e UnknownEvent) EventName() string { return e.Name }
func (InvalidEvent) EventName() string   { return "" }

// DecodeError reports a Media Streams frame that is not valid JSON or lacks a
// field its event requires.
type DecodeError struct {
	Event   string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Event != "" {
		msg = fmt.Sprintf("%s: %s", e.Event, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Wire shapes for inbound Media Streams messages.
type inboundMessage struct {
	Event    string        `json:"event"`
	Protocol string        `json:"protocol,omitempty"`
	Version  string        `json:"version,omitempty"`
	Start    *startMessage `json:"start,omitempty"`
	Media    *mediaPayload `json:"media,omitempty"`
	Mark     *markMessage  `json:"mark,omitempty"`
	Stop     *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string      `json:"track"`
	Chunk     string      `json:"chunk"`
	Timestamp millisecond `json:"timestamp"`
	Payload   string      `json:"payload"`
}

type markMessage struct {
	Name string `json:"name"`
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// millisecond accepts both a JSON number and a numeric string; Twilio sends
// the media timestamp as a string.
type millisecond int64

func (m *millisecond) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
		if len(data) == 0 {
			*m = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return fmt.Errorf("invalid timestamp %q", string(data))
		}
		n = int64(f)
	}
	*m = millisecond(n)
	return nil
}

// Decode parses one inbound Media Streams frame.
func Decode(data []byte) (Event, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Message: "invalid json frame", Err: err}
	}

	switch msg.Event {
	case "":
		return nil, &DecodeError{Message: "missing event"}
	case realtimebridge.TwilioEventConnected:
		return ConnectedEvent{Protocol: msg.Protocol, Version: msg.Version}, nil
	case realtimebridge.TwilioEventStart:
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return nil, &DecodeError{Event: msg.Event, Message: "start.streamSid is required"}
		}
		return StartEvent{
			StreamSID:        msg.Start.StreamSID,
			AccountSID:       msg.Start.AccountSID,
			CallSID:          msg.Start.CallSID,
			Tracks:           msg.Start.Tracks,
			MediaFormat:      msg.Start.MediaFormat,
			CustomParameters: msg.Start.CustomParams,
		}, nil
	case realtimebridge.TwilioEventMedia:
		if msg.Media == nil {
			return nil, &DecodeError{Event: msg.Event, Message: "media is required"}
		}
		return MediaEvent{
			Track:     msg.Media.Track,
			Chunk:     msg.Media.Chunk,
			Timestamp: int64(msg.Media.Timestamp),
			Payload:   msg.Media.Payload,
		}, nil
	case realtimebridge.TwilioEventMark:
		var name string
		if msg.Mark != nil {
			name = msg.Mark.Name
		}
		return MarkEvent{Name: name}, nil
	case realtimebridge.TwilioEventStop:
		ev := StopEvent{}
		if msg.Stop != nil {
			ev.AccountSID = msg.Stop.AccountSID
			ev.CallSID = msg.Stop.CallSID
		}
		return ev, nil
	default:
		return UnknownEvent{Name: msg.Event}, nil
	}
}

// Outbound frame written to Twilio. Clear frames carry only event and streamSid.
type outboundMessage struct {
	Event     string           `json:"event"`
	StreamSID string           `json:"streamSid"`
	Media     *outboundPayload `json:"media,omitempty"`
	Mark      *markMessage     `json:"mark,omitempty"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}
