package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client event types.
const (
	EventSessionUpdate          = "session.update"
	EventInputAudioBufferAppend = "input_audio_buffer.append"
	EventConversationItemTrunc  = "conversation.item.truncate"
)

// Server event types the bridge acts on.
const (
	EventError                  = "error"
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventInputAudioCommitted    = "input_audio_buffer.committed"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseAudioDelta     = "response.audio.delta"
	EventResponseContentDone    = "response.content.done"
	EventResponseTextDone       = "response.text.done"
	EventResponseDone           = "response.done"
	EventRateLimitsUpdated      = "rate_limits.updated"
)

// LogEventTypes lists the server events that are logged when received.
var LogEventTypes = []string{
	EventResponseContentDone,
	EventRateLimitsUpdated,
	EventResponseDone,
	EventInputAudioCommitted,
	EventSpeechStopped,
	EventSpeechStarted,
	EventSessionCreated,
	EventResponseTextDone,
	EventTranscriptionCompleted,
}

var logEventSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(LogEventTypes))
	for _, t := range LogEventTypes {
		set[t] = struct{}{}
	}
	return set
}()

// ShouldLog reports whether eventType is on the logged allow-list.
func ShouldLog(eventType string) bool {
	_, ok := logEventSet[eventType]
	return ok
}

// ClientEvent is an event sent to the realtime API.
type ClientEvent interface {
	ClientEventType() string
}

// SessionUpdate configures the realtime session.
type SessionUpdate struct {
	Session SessionConfig `json:"session"`
}

// InputAudioBufferAppend appends base64 caller audio to the input buffer.
type InputAudioBufferAppend struct {
	Audio string `json:"audio"`
}

// ConversationItemTruncate tells the model how much of an assistant item the
// caller actually heard.
type ConversationItemTruncate struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

func (SessionUpdate) ClientEventType() string            { return EventSessionUpdate }
func (InputAudioBufferAppend) ClientEventType() string   { return EventInputAudioBufferAppend }
func (ConversationItemTruncate) ClientEventType() string { return EventConversationItemTrunc }

func (e SessionUpdate) MarshalJSON() ([]byte, error) {
	type wire SessionUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{EventSessionUpdate, wire(e)})
}

func (e InputAudioBufferAppend) MarshalJSON() ([]byte, error) {
	type wire InputAudioBufferAppend
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{EventInputAudioBufferAppend, wire(e)})
}

func (e ConversationItemTruncate) MarshalJSON() ([]byte, error) {
	type wire ConversationItemTruncate
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{EventConversationItemTrunc, wire(e)})
}

// ServerEvent is one decoded event received from the realtime API.
//
// The concrete types are TranscriptionCompleted, ResponseDone, SessionUpdated,
// SpeechStarted, AudioDelta, ErrorEvent, LoggedEvent, UnknownEvent and InvalidEvent.
type ServerEvent interface {
	EventType() string
}

// TranscriptionCompleted carries the transcript of one caller utterance.
type TranscriptionCompleted struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// ResponseDone is emitted when the model finishes a response.
type ResponseDone struct {
	Response Response `json:"response"`
}

// Response is the completed response object.
type Response struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []OutputItem `json:"output"`
}

// OutputItem is one item of a response's output.
type OutputItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one content entry of an output item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// AgentTranscript returns the first transcript found in the first output item.
func (e ResponseDone) AgentTranscript() (string, bool) {
	if len(e.Response.Output) == 0 {
		return "", false
	}
	for _, part := range e.Response.Output[0].Content {
		if part.Transcript != "" {
			return part.Transcript, true
		}
	}
	return "", false
}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct {
	Session json.RawMessage `json:"session"`
}

// SpeechStarted signals that server VAD detected the caller speaking.
type SpeechStarted struct {
	AudioStartMS int64  `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// AudioDelta is one chunk of assistant audio, base64 encoded.
type AudioDelta struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// ErrorEvent reports an error raised by the realtime API.
type ErrorEvent struct {
	Error APIError `json:"error"`
}

// APIError is the error object of an ErrorEvent.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// LoggedEvent is an allow-listed event the bridge only logs.
type LoggedEvent struct {
	Type string
	Raw  json.RawMessage
}

// UnknownEvent is any other well-formed event.
type UnknownEvent struct {
	Type string
}

// InvalidEvent is a frame that could not be decoded.
type InvalidEvent struct {
	Raw []byte
	Err error
}

func (TranscriptionCompleted) EventType() string { return EventTranscriptionCompleted }
func (ResponseDone) EventType() string           { return EventResponseDone }
func (SessionUpdated) EventType() string         { return EventSessionUpdated }
func (SpeechStarted) EventType() string          { return EventSpeechStarted }
func (AudioDelta) EventType() string             { return EventResponseAudioDelta }
func (ErrorEvent) EventType() string             { return EventError }
func (e LoggedEvent) EventType() string          { return e.Type }
func (e UnknownEvent) EventType() string         { return e.Type }
func (InvalidEvent) EventType() string           { return "" }

// DecodeError reports a server frame that is not valid JSON or whose payload
// does not match its declared type.
type DecodeError struct {
	Type    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" {
		msg = fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one server event.
func Decode(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Message: "invalid json frame", Err: err}
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, &DecodeError{Message: "missing type"}
	}

	switch typ {
	case EventTranscriptionCompleted:
		return decodeAs[TranscriptionCompleted](typ, data)
	case EventResponseDone:
		return decodeAs[ResponseDone](typ, data)
	case EventSessionUpdated:
		return decodeAs[SessionUpdated](typ, data)
	case EventSpeechStarted:
		return decodeAs[SpeechStarted](typ, data)
	case EventResponseAudioDelta:
		return decodeAs[AudioDelta](typ, data)
	case EventError:
		return decodeAs[ErrorEvent](typ, data)
	}

	if ShouldLog(typ) {
		return LoggedEvent{Type: typ, Raw: json.RawMessage(data)}, nil
	}
	return UnknownEvent{Type: typ}, nil
}

func decodeAs[T ServerEvent](typ string, data []byte) (ServerEvent, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &DecodeError{Type: typ, Message: "invalid payload", Err: err}
	}
	return ev, nil
}
