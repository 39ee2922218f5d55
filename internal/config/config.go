package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
)

// DefaultSystemMessage is the assistant persona used when neither
// SYSTEM_MESSAGE nor SYSTEM_MESSAGE_FILE is set.
const DefaultSystemMessage = `You are a warm and professional virtual receptionist for a medical practice.
Help callers book, move or cancel appointments. Ask for the patient's full name,
a contact number, the preferred doctor or department, the reason for the visit and
a preferred date and time. Keep answers short and confirm the details before ending the call.`

// DefaultGreeting is spoken by Twilio before the media stream connects.
const DefaultGreeting = "Hi, you have called Desert Sands. How can we help you today?"

type Config struct {
	Port     int
	LogLevel string

	OpenAIAPIKey    string
	RealtimeURL     string
	RealtimeModel   string
	APIBaseURL      string
	ExtractionModel string
	Voice           string
	Temperature     float64
	SystemMessage   string
	SettleDelay     time.Duration

	Greeting   string
	WebhookURL string
	PublicHost string

	DatabaseURL string
	NatsURL     string
	NatsSubject string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first; variables already set take precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:     envInt("PORT", 3000),
		LogLevel: envStr("LOG_LEVEL", "info"),

		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		RealtimeURL:     envStr("OPENAI_REALTIME_URL", realtimebridge.DefaultRealtimeURL),
		RealtimeModel:   envStr("OPENAI_REALTIME_MODEL", realtimebridge.DefaultRealtimeModel),
		APIBaseURL:      envStr("OPENAI_API_BASE_URL", "https://api.openai.com/v1"),
		ExtractionModel: envStr("OPENAI_EXTRACTION_MODEL", "gpt-4o-2024-08-06"),
		Voice:           envStr("VOICE", realtimebridge.DefaultVoice),
		Temperature:     envFloat("TEMPERATURE", realtimebridge.DefaultTemperature),
		SystemMessage:   envStr("SYSTEM_MESSAGE", DefaultSystemMessage),
		SettleDelay:     time.Duration(envInt("SESSION_SETTLE_DELAY_MS", 250)) * time.Millisecond,

		Greeting:   envStr("GREETING", DefaultGreeting),
		WebhookURL: envStr("WEBHOOK_URL", ""),
		PublicHost: envStr("PUBLIC_HOST", ""),

		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsSubject: envStr("NATS_SUBJECT", "calls.completed"),

		TwilioAccountSID:  envStr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   envStr("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: envStr("TWILIO_PHONE_NUMBER", ""),
	}

	if path := os.Getenv("SYSTEM_MESSAGE_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read SYSTEM_MESSAGE_FILE: %w", err)
		}
		cfg.SystemMessage = strings.TrimSpace(string(data))
	}

	return cfg, nil
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("missing OpenAI API key, set OPENAI_API_KEY")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

// TwilioEnabled reports whether outbound calling is configured.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
