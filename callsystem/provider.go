// Package callsystem answers and places Twilio calls and connects them to the
// bridge's media stream endpoint.
package callsystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
	"github.com/agentplexus/twilio-realtime-bridge/internal/client"
)

// Direction is the direction of a call.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Status is the lifecycle status of a tracked call.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusStreaming Status = "streaming"
	StatusEnded     Status = "ended"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no-answer"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status changes are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	}
	return false
}

// Call is a snapshot of a tracked call.
type Call struct {
	SID       string    `json:"sid"`
	Direction Direction `json:"direction"`
	Status    Status    `json:"status"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// Twilio is the subset of the Twilio REST API the provider uses.
// *client.Client implements it.
type Twilio interface {
	CreateCall(ctx context.Context, params client.CreateCallParams) (*client.Call, error)
	GetCall(ctx context.Context, callSID string) (*client.Call, error)
	HangupCall(ctx context.Context, callSID string) (*client.Call, error)
}

// ErrOutboundDisabled is returned by MakeCall when no Twilio client or caller
// ID is configured.
var ErrOutboundDisabled = errors.New("outbound calling is not configured")

// Config configures the Provider.
type Config struct {
	// Greeting is spoken before the media stream connects.
	Greeting string
	// PublicHost overrides the request host in generated URLs.
	PublicHost string
	// StreamPath is the media stream endpoint path.
	StreamPath string
	// From is the caller ID for outbound calls.
	From   string
	Twilio Twilio
	Logger *slog.Logger
}

// Provider tracks calls and produces the TwiML that connects them to the
// bridge.
type Provider struct {
	greeting   string
	publicHost string
	streamPath string
	from       string
	twilio     Twilio
	logger     *slog.Logger

	mu    sync.RWMutex
	calls map[string]*Call
}

// New creates a Provider.
func New(cfg Config) *Provider {
	if cfg.StreamPath == "" {
		cfg.StreamPath = realtimebridge.MediaStreamPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		greeting:   cfg.Greeting,
		publicHost: cfg.PublicHost,
		streamPath: cfg.StreamPath,
		from:       cfg.From,
		twilio:     cfg.Twilio,
		logger:     cfg.Logger,
		calls:      make(map[string]*Call),
	}
}

// Host returns the public host, falling back to requestHost.
func (p *Provider) Host(requestHost string) string {
	if p.publicHost != "" {
		return p.publicHost
	}
	return requestHost
}

// StreamURL returns the media stream URL for a call reaching host.
func (p *Provider) StreamURL(host string) string {
	u := url.URL{Scheme: "wss", Host: p.Host(host), Path: p.streamPath}
	return u.String()
}

// StatusCallbackURL returns the status callback URL for host.
func (p *Provider) StatusCallbackURL(host string) string {
	u := url.URL{Scheme: "https", Host: p.Host(host), Path: "/status-callback"}
	return u.String()
}

// HandleIncoming registers an inbound call and returns the TwiML answering it.
func (p *Provider) HandleIncoming(callSID, from, to, host string) (string, error) {
	twiml, err := MediaStreamTwiML(p.greeting, p.StreamURL(host), map[string]string{"callSid": callSID})
	if err != nil {
		return "", err
	}

	if callSID != "" {
		p.track(&Call{
			SID:       callSID,
			Direction: Inbound,
			Status:    StatusRinging,
			From:      from,
			To:        to,
			StartTime: time.Now(),
		})
	}
	p.logger.Info("incoming call", "call_sid", callSID, "from", from, "to", to)
	return twiml, nil
}

// HandleStatusCallback applies a Twilio call status update. Calls that have
// ended are no longer tracked.
func (p *Provider) HandleStatusCallback(callSID, twilioStatus string) {
	status := mapCallStatus(twilioStatus)

	p.mu.Lock()
	call, ok := p.calls[callSID]
	if ok {
		call.Status = status
		if status.Terminal() {
			delete(p.calls, callSID)
		}
	}
	p.mu.Unlock()

	p.logger.Info("call status", "call_sid", callSID, "status", twilioStatus, "tracked", ok)
}

// StreamStarted marks a tracked call as connected to the media stream.
func (p *Provider) StreamStarted(callSID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if call, ok := p.calls[callSID]; ok {
		call.Status = StatusStreaming
	}
}

// MakeCall places an outbound call that connects to the media stream when
// answered.
func (p *Provider) MakeCall(ctx context.Context, to, host string) (Call, error) {
	if p.twilio == nil || p.from == "" {
		return Call{}, ErrOutboundDisabled
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return Call{}, errors.New("destination number is required")
	}

	// The call SID is not known until Twilio creates the call, so the
	// stream falls back to the start event's own call SID.
	twiml, err := MediaStreamTwiML("", p.StreamURL(host), nil)
	if err != nil {
		return Call{}, err
	}

	created, err := p.twilio.CreateCall(ctx, client.CreateCallParams{
		To:                  to,
		From:                p.from,
		Twiml:               twiml,
		StatusCallback:      p.StatusCallbackURL(host),
		StatusCallbackEvent: []string{"initiated", "ringing", "answered", "completed"},
	})
	if err != nil {
		return Call{}, fmt.Errorf("failed to make call: %w", err)
	}

	call := &Call{
		SID:       created.SID,
		Direction: Outbound,
		Status:    mapCallStatus(created.Status),
		From:      p.from,
		To:        to,
		StartTime: time.Now(),
	}
	p.track(call)
	p.logger.Info("outbound call placed", "call_sid", call.SID, "to", to)
	return *call, nil
}

// GetCall returns a tracked call, or looks it up with Twilio.
func (p *Provider) GetCall(ctx context.Context, callSID string) (Call, error) {
	p.mu.RLock()
	if call, ok := p.calls[callSID]; ok {
		p.mu.RUnlock()
		return *call, nil
	}
	p.mu.RUnlock()

	if p.twilio == nil {
		return Call{}, fmt.Errorf("call %s is not tracked", callSID)
	}
	remote, err := p.twilio.GetCall(ctx, callSID)
	if err != nil {
		return Call{}, fmt.Errorf("failed to get call: %w", err)
	}
	return Call{
		SID:       remote.SID,
		Direction: mapDirection(remote.Direction),
		Status:    mapCallStatus(remote.Status),
		From:      remote.From,
		To:        remote.To,
	}, nil
}

// Hangup ends a call.
func (p *Provider) Hangup(ctx context.Context, callSID string) error {
	if p.twilio == nil {
		return ErrOutboundDisabled
	}
	if _, err := p.twilio.HangupCall(ctx, callSID); err != nil {
		return fmt.Errorf("failed to hangup: %w", err)
	}

	p.mu.Lock()
	delete(p.calls, callSID)
	p.mu.Unlock()
	return nil
}

// ActiveCalls returns the tracked calls ordered by SID.
func (p *Provider) ActiveCalls() []Call {
	p.mu.RLock()
	defer p.mu.RUnlock()

	calls := make([]Call, 0, len(p.calls))
	for _, call := range p.calls {
		calls = append(calls, *call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].SID < calls[j].SID })
	return calls
}

func (p *Provider) track(call *Call) {
	p.mu.Lock()
	p.calls[call.SID] = call
	p.mu.Unlock()
}

func mapCallStatus(status string) Status {
	switch status {
	case "queued", "initiated", "ringing":
		return StatusRinging
	case "in-progress", "answered":
		return StatusAnswered
	case "completed":
		return StatusEnded
	case "busy":
		return StatusBusy
	case "no-answer":
		return StatusNoAnswer
	case "failed", "canceled":
		return StatusFailed
	default:
		return StatusRinging
	}
}

func mapDirection(dir string) Direction {
	if dir == "inbound" {
		return Inbound
	}
	return Outbound
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
