// Package transcript turns the transcript of a finished call into structured
// customer details and delivers them: to the appointment store, to a webhook
// and onto the message bus.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentplexus/twilio-realtime-bridge/internal/metrics"
	"github.com/agentplexus/twilio-realtime-bridge/session"
)

// Delivery stages.
const (
	StageExtract  = "extract"
	StageValidate = "validate"
	StageStore    = "store"
	StageWebhook  = "webhook"
	StagePublish  = "publish"
)

// DeliveryError reports a failed processing stage.
type DeliveryError struct {
	Stage string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("transcript %s: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Extractor produces a JSON details document from a transcript.
type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]byte, error)
}

// Appointment is the persisted result of a call.
type Appointment struct {
	SessionID    string
	Details      Details
	Availability *time.Time
	Transcript   string
	CreatedAt    time.Time
}

// Saver persists appointments.
type Saver interface {
	SaveAppointment(ctx context.Context, a Appointment) error
}

// CallCompleted is published for every processed call.
type CallCompleted struct {
	SessionID   string    `json:"session_id"`
	Details     Details   `json:"details"`
	Transcript  []string  `json:"transcript"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher announces processed calls.
type Publisher interface {
	PublishCallCompleted(ctx context.Context, ev CallCompleted) error
}

// Config configures a Processor. Saver and Publisher are optional.
type Config struct {
	Extractor  Extractor
	Validator  *Validator
	Saver      Saver
	Publisher  Publisher
	HTTPClient *http.Client
	Location   *time.Location
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Processor extracts and delivers call details.
type Processor struct {
	extractor  Extractor
	validator  *Validator
	saver      Saver
	publisher  Publisher
	httpClient *http.Client
	location   *time.Location
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Extractor == nil {
		return nil, errors.New("transcript extractor is required")
	}
	if cfg.Validator == nil {
		v, err := NewValidator()
		if err != nil {
			return nil, err
		}
		cfg.Validator = v
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		extractor:  cfg.Extractor,
		validator:  cfg.Validator,
		saver:      cfg.Saver,
		publisher:  cfg.Publisher,
		httpClient: cfg.HTTPClient,
		location:   cfg.Location,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// Process extracts customer details from transcript and delivers them. Each
// failed stage is logged and returned as a *DeliveryError; stages that do not
// depend on a failed one still run.
func (p *Processor) Process(ctx context.Context, transcript []string, destinationURL, sessionID string) error {
	logger := p.logger.With("session_id", sessionID)
	if len(transcript) == 0 {
		logger.Info("empty transcript, nothing to process")
		return nil
	}
	text := session.JoinTranscript(transcript)
	logger.Info("processing transcript", "utterances", len(transcript))

	raw, err := p.extractor.Extract(ctx, text)
	p.metrics.Delivery(StageExtract, err)
	if err != nil {
		return p.fail(logger, StageExtract, err)
	}

	details, err := p.validator.Validate(raw)
	p.metrics.Delivery(StageValidate, err)
	if err != nil {
		return p.fail(logger, StageValidate, err)
	}
	logger.Info("extracted customer details",
		"customer_name", details.CustomerName,
		"availability", details.CustomerAvailability,
	)

	var errs []error
	if p.saver != nil {
		appt := Appointment{
			SessionID:  sessionID,
			Details:    details,
			Transcript: text,
			CreatedAt:  p.now().UTC(),
		}
		if t, ok := details.Availability(p.location); ok {
			appt.Availability = &t
		}
		err := p.saver.SaveAppointment(ctx, appt)
		p.metrics.Delivery(StageStore, err)
		if err != nil {
			errs = append(errs, p.fail(logger, StageStore, err))
		}
	}

	if destinationURL != "" {
		err := p.postWebhook(ctx, destinationURL, details)
		p.metrics.Delivery(StageWebhook, err)
		if err != nil {
			errs = append(errs, p.fail(logger, StageWebhook, err))
		} else {
			logger.Info("sent details to webhook")
		}
	}

	if p.publisher != nil {
		err := p.publisher.PublishCallCompleted(ctx, CallCompleted{
			SessionID:   sessionID,
			Details:     details,
			Transcript:  transcript,
			CompletedAt: p.now().UTC(),
		})
		p.metrics.Delivery(StagePublish, err)
		if err != nil {
			errs = append(errs, p.fail(logger, StagePublish, err))
		}
	}

	return errors.Join(errs...)
}

func (p *Processor) fail(logger *slog.Logger, stage string, err error) error {
	derr := &DeliveryError{Stage: stage, Err: err}
	logger.Error("transcript delivery failed", "stage", stage, "error", err)
	return derr
}

func (p *Processor) postWebhook(ctx context.Context, url string, details Details) error {
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}
