// Package realtimebridge bridges Twilio Media Streams phone calls to a hosted
// realtime speech-to-speech API.
//
// The repository is organized as:
//   - transport: the Twilio Media Streams WebSocket (caller side)
//   - realtime: the realtime speech API WebSocket (upstream side)
//   - session: per-call state and the session store
//   - bridge: event translation, barge-in handling and the per-call controller
//   - callsystem: TwiML for inbound calls, status callbacks and outbound dialing
//   - transcript: post-call extraction and delivery of appointment details
//
// # Environment Variables
//
//	OPENAI_API_KEY     - API key for the realtime and completion APIs (required)
//	WEBHOOK_URL        - destination for extracted call details
//	DATABASE_URL       - Postgres connection string for the appointment store
//	NATS_URL           - NATS server for completed-call events
//	TWILIO_ACCOUNT_SID - Twilio Account SID (outbound calls)
//	TWILIO_AUTH_TOKEN  - Twilio Auth Token (outbound calls)
package realtimebridge

// Version is the service version.
const Version = "0.1.0"

// ServiceName identifies this service in logs, metrics and health responses.
const ServiceName = "realtime-bridge"

// Twilio Media Streams event names.
const (
	TwilioEventConnected = "connected"
	TwilioEventStart     = "start"
	TwilioEventMedia     = "media"
	TwilioEventMark      = "mark"
	TwilioEventStop      = "stop"
	TwilioEventClear     = "clear"
)

// MarkResponsePart names the mark sent after every forwarded assistant audio chunk.
const MarkResponsePart = "responsePart"

// Audio format constants.
const (
	// AudioFormatG711ULaw is the realtime API name for 8kHz μ-law, the Twilio Media Streams codec.
	AudioFormatG711ULaw = "g711_ulaw"

	// DefaultSampleRate is the Twilio Media Streams sample rate (8kHz).
	DefaultSampleRate = 8000
)

// Realtime API defaults.
const (
	DefaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice         = "alloy"
	DefaultTemperature   = 0.8
	DefaultInputSTTModel = "whisper-1"
)

// MediaStreamPath is the HTTP path Twilio connects its media stream to.
const MediaStreamPath = "/media-stream"
