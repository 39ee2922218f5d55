// Package notify publishes completed-call events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentplexus/twilio-realtime-bridge/transcript"
)

// DefaultSubject is the subject completed calls are published on.
const DefaultSubject = "calls.completed"

type conn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// Publisher publishes transcript.CallCompleted events.
type Publisher struct {
	nc      conn
	subject string
}

// Connect dials NATS and returns a Publisher for subject.
func Connect(natsURL, subject string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("twilio-realtime-bridge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(nc conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// PublishCallCompleted publishes ev. The session id is set as the message id
// so JetStream can drop duplicates.
func (p *Publisher) PublishCallCompleted(ctx context.Context, ev transcript.CallCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode call completed: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Header.Set(nats.MsgIdHdr, ev.SessionID)
	msg.Data = data
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
