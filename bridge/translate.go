package bridge

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/agentplexus/twilio-realtime-bridge/realtime"
	"github.com/agentplexus/twilio-realtime-bridge/session"
	"github.com/agentplexus/twilio-realtime-bridge/transport"
)

// MissingAgentText is recorded when a completed response carries no transcript.
const MissingAgentText = "Agent message not found"

// AppendFor converts a caller audio frame to an upstream append. The payload
// is passed through unchanged.
func AppendFor(ev transport.MediaEvent) realtime.InputAudioBufferAppend {
	return realtime.InputAudioBufferAppend{Audio: ev.Payload}
}

// TruncateFor converts an interruption into an upstream truncate.
func TruncateFor(t session.Truncation) realtime.ConversationItemTruncate {
	return realtime.ConversationItemTruncate{
		ItemID:       t.ItemID,
		ContentIndex: 0,
		AudioEndMS:   t.AudioEndMS,
	}
}

// UserText returns the caller utterance carried by a transcription event.
func UserText(ev realtime.TranscriptionCompleted) string {
	return strings.TrimSpace(ev.Transcript)
}

// AgentText returns the assistant utterance carried by a completed response.
func AgentText(ev realtime.ResponseDone) string {
	text, ok := ev.AgentTranscript()
	if !ok {
		return MissingAgentText
	}
	return text
}

// MediaPayload decodes an assistant audio delta and re-encodes it for the
// telephony media frame.
func MediaPayload(ev realtime.AudioDelta) (string, error) {
	audio, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		return "", fmt.Errorf("decode audio delta: %w", err)
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}
