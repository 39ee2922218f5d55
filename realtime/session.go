package realtime

import (
	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
)

// SessionConfig is the session object of a session.update event.
type SessionConfig struct {
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Temperature             float64                  `json:"temperature"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

// TurnDetection selects how the API decides the caller has finished speaking.
type TurnDetection struct {
	Type string `json:"type"`
}

// InputAudioTranscription enables transcription of caller audio.
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// DefaultSessionConfig returns the phone-call configuration: μ-law audio in
// both directions, server-side VAD, text and audio output and caller transcription.
func DefaultSessionConfig(instructions string) SessionConfig {
	return SessionConfig{
		TurnDetection:     &TurnDetection{Type: "server_vad"},
		InputAudioFormat:  realtimebridge.AudioFormatG711ULaw,
		OutputAudioFormat: realtimebridge.AudioFormatG711ULaw,
		Voice:             realtimebridge.DefaultVoice,
		Instructions:      instructions,
		Modalities:        []string{"text", "audio"},
		Temperature:       realtimebridge.DefaultTemperature,
		InputAudioTranscription: &InputAudioTranscription{
			Model: realtimebridge.DefaultInputSTTModel,
		},
	}
}
