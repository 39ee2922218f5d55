// Package bridge relays one Twilio media stream to one realtime API
// connection. All per-call state is owned by a single goroutine that
// multiplexes the events of both connections.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
	"github.com/agentplexus/twilio-realtime-bridge/internal/metrics"
	"github.com/agentplexus/twilio-realtime-bridge/realtime"
	"github.com/agentplexus/twilio-realtime-bridge/session"
	"github.com/agentplexus/twilio-realtime-bridge/transport"
)

// Telephony is the caller side of a bridged call. *transport.Conn implements it.
type Telephony interface {
	Events() <-chan transport.Event
	SendMedia(streamSID, payload string) error
	SendMark(streamSID, name string) error
	SendClear(streamSID string) error
	Close() error
}

// Upstream is the realtime API side of a bridged call. *realtime.Conn
// implements it.
type Upstream interface {
	Events() <-chan realtime.ServerEvent
	Send(ev realtime.ClientEvent) error
	Err() error
	Close() error
}

// DialFunc opens one upstream connection.
type DialFunc func(ctx context.Context) (Upstream, error)

// TranscriptProcessor receives the transcript of a finished call.
type TranscriptProcessor interface {
	Process(ctx context.Context, transcript []string, destinationURL, sessionID string) error
}

// Config configures a Controller.
type Config struct {
	Store      *session.Store
	Dial       DialFunc
	Processor  TranscriptProcessor
	WebhookURL string
	// OnStreamStart, if set, is called with the Twilio call SID when a
	// stream's start event identifies its call.
	OnStreamStart func(callSID string)
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Controller bridges media streams. One Controller serves every call.
type Controller struct {
	store      *session.Store
	dial       DialFunc
	processor     TranscriptProcessor
	webhookURL    string
	onStreamStart func(callSID string)
	metrics       *metrics.Metrics
	logger        *slog.Logger

	tasks sync.WaitGroup
}

// New creates a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("bridge: session store is required")
	}
	if cfg.Dial == nil {
		return nil, errors.New("bridge: upstream dial func is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		store:      cfg.Store,
		dial:       cfg.Dial,
		processor:     cfg.Processor,
		webhookURL:    cfg.WebhookURL,
		onStreamStart: cfg.OnStreamStart,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}, nil
}

// RealtimeDialer adapts a realtime client to a DialFunc.
func RealtimeDialer(c *realtime.Client) DialFunc {
	return func(ctx context.Context) (Upstream, error) {
		conn, err := c.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type dialResult struct {
	up  Upstream
	err error
}

// Serve bridges tel until the caller hangs up or ctx is done. It returns
// after both connections are closed and the stream has been detached from its
// session. The session is removed and its transcript processed when its last
// stream ends; processing continues in the background, use Wait to block on it.
func (c *Controller) Serve(ctx context.Context, sessionID string, tel Telephony) {
	sess, pb, created := c.store.Attach(sessionID)

	cl := &call{
		c:      c,
		sess:   sess,
		pb:     pb,
		tel:    tel,
		state:  StateConnecting,
		logger: c.logger.With("session_id", sessionID),
	}
	cl.logger.Info("media stream connected", "reused_session", !created)

	started := time.Now()
	c.metrics.CallStarted()

	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	dialed := make(chan dialResult, 1)
	go func() {
		up, err := c.dial(dialCtx)
		dialed <- dialResult{up: up, err: err}
	}()

	telEvents := tel.Events()
	var upEvents <-chan realtime.ServerEvent
	outcome := "completed"

loop:
	for {
		select {
		case res := <-dialed:
			dialed = nil
			if res.err != nil {
				cl.upstreamLost(&UpstreamConnectionError{Op: "dial", Err: res.err})
				outcome = "upstream_error"
				continue
			}
			cl.up = res.up
			upEvents = res.up.Events()
			cl.setState(StateActive)

		case ev, ok := <-upEvents:
			if !ok {
				upEvents = nil
				cl.upstreamLost(&UpstreamConnectionError{Op: "read", Err: cl.up.Err()})
				outcome = "upstream_error"
				continue
			}
			c.metrics.Frame(metrics.DirectionUpstreamIn)
			cl.handleUpstream(ev)

		case ev, ok := <-telEvents:
			if !ok {
				break loop
			}
			cl.handleTelephony(ev)

		case <-ctx.Done():
			outcome = "canceled"
			break loop
		}
	}

	cl.setState(StateClosing)
	if cl.up != nil {
		if err := cl.up.Close(); err != nil {
			cl.logger.Debug("closing upstream", "error", err)
		}
		cl.up = nil
	} else if dialed != nil {
		// A dial still in flight is canceled; close whatever it returns.
		cancelDial()
		go func(pending <-chan dialResult) {
			if res := <-pending; res.up != nil {
				_ = res.up.Close()
			}
		}(dialed)
	}
	if err := tel.Close(); err != nil {
		cl.logger.Debug("closing media stream", "error", err)
	}

	transcript := sess.Transcript()
	cl.logger.Info("media stream disconnected",
		"stream_sid", cl.streamSID,
		"utterances", len(transcript),
		"duration", time.Since(started).Round(time.Millisecond),
	)
	if c.store.Detach(sessionID, sess) {
		c.deliver(sessionID, transcript)
	} else {
		cl.logger.Info("session still has an active stream, transcript left to it")
	}
	cl.setState(StateClosed)
	c.metrics.CallEnded(outcome, time.Since(started))
}

// Wait blocks until every background transcript delivery has finished or ctx
// is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for transcript deliveries: %w", ctx.Err())
	}
}

func (c *Controller) deliver(sessionID string, transcript []string) {
	if c.processor == nil {
		return
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		if err := c.processor.Process(context.Background(), transcript, c.webhookURL, sessionID); err != nil {
			c.logger.Debug("transcript processing finished with errors", "session_id", sessionID, "error", err)
		}
	}()
}

// call is the state of one bridged media stream. It is only touched by the
// goroutine running Serve.
type call struct {
	c         *Controller
	sess      *session.Session
	pb        *session.Playback
	streamSID string
	tel       Telephony
	up        Upstream
	state     State
	logger    *slog.Logger
}

func (cl *call) setState(s State) {
	if cl.state == s {
		return
	}
	cl.logger.Debug("call state changed", "from", cl.state.String(), "to", s.String())
	cl.state = s
}

func (cl *call) handleTelephony(ev transport.Event) {
	pb := cl.pb

	switch ev := ev.(type) {
	case transport.StartEvent:
		cl.streamSID = ev.StreamSID
		cl.sess.SetStreamSID(ev.StreamSID)
		callSID := ev.CallSID
		if callSID == "" {
			callSID = ev.CustomParameters["callSid"]
		}
		if callSID != "" {
			cl.sess.SetCallSID(callSID)
		}
		pb.Reset()
		cl.logger = cl.logger.With("stream_sid", ev.StreamSID)
		cl.logger.Info("incoming stream has started", "call_sid", callSID)
		if callSID != "" && cl.c.onStreamStart != nil {
			cl.c.onStreamStart(callSID)
		}

	case transport.MediaEvent:
		cl.c.metrics.Frame(metrics.DirectionTelephonyIn)
		pb.ObserveMedia(ev.Timestamp)
		if cl.state != StateActive || cl.up == nil {
			cl.c.metrics.FrameDropped("upstream_unavailable")
			return
		}
		if err := cl.up.Send(AppendFor(ev)); err != nil {
			cl.c.metrics.FrameDropped("upstream_send")
			cl.logger.Warn("forwarding caller audio", "error", err)
			return
		}
		cl.c.metrics.Frame(metrics.DirectionUpstreamOut)

	case transport.MarkEvent:
		pb.AckMark()

	case transport.InvalidEvent:
		cl.parseError(SourceTelephony, ev.Raw, ev.Err)

	default:
		cl.logger.Debug("received non-media event", "event", ev.EventName())
	}
}

func (cl *call) handleUpstream(ev realtime.ServerEvent) {
	if realtime.ShouldLog(ev.EventType()) {
		cl.logger.Debug("received upstream event", "type", ev.EventType())
	}

	switch ev := ev.(type) {
	case realtime.TranscriptionCompleted:
		line := cl.sess.AppendUtterance(session.SpeakerUser, UserText(ev))
		cl.logger.Info("caller utterance", "line", line)

	case realtime.ResponseDone:
		line := cl.sess.AppendUtterance(session.SpeakerAgent, AgentText(ev))
		cl.logger.Info("agent utterance", "line", line)

	case realtime.SessionUpdated:
		cl.logger.Info("upstream session updated")

	case realtime.SpeechStarted:
		cl.interrupt()

	case realtime.AudioDelta:
		cl.forwardAudio(ev)

	case realtime.ErrorEvent:
		cl.logger.Error("upstream reported error",
			"type", ev.Error.Type,
			"code", ev.Error.Code,
			"message", ev.Error.Message,
		)

	case realtime.InvalidEvent:
		cl.parseError(SourceUpstream, ev.Raw, ev.Err)
	}
}

func (cl *call) forwardAudio(ev realtime.AudioDelta) {
	if ev.Delta == "" {
		return
	}
	payload, err := MediaPayload(ev)
	if err != nil {
		cl.parseError(SourceUpstream, nil, err)
		return
	}

	streamSID := cl.streamSID
	if err := cl.tel.SendMedia(streamSID, payload); err != nil {
		cl.c.metrics.FrameDropped("telephony_send")
		cl.logger.Warn("forwarding agent audio", "error", err)
		return
	}
	cl.c.metrics.Frame(metrics.DirectionTelephonyOut)

	cl.pb.AudioForwarded(ev.ItemID, realtimebridge.MarkResponsePart)
	if err := cl.tel.SendMark(streamSID, realtimebridge.MarkResponsePart); err != nil {
		cl.logger.Warn("sending playback mark", "error", err)
	}
}

// upstreamLost drops the upstream side. The media stream stays open and
// caller audio is discarded until the caller hangs up.
func (cl *call) upstreamLost(err *UpstreamConnectionError) {
	cl.c.metrics.UpstreamError()
	cl.logger.Error("upstream connection lost", "error", err)
	if cl.up != nil {
		_ = cl.up.Close()
		cl.up = nil
	}
	cl.setState(StateClosing)
}

const maxLoggedFrame = 256

func (cl *call) parseError(source string, raw []byte, err error) {
	perr := &ParseError{Source: source, Err: err}
	cl.c.metrics.ParseError(source)

	attrs := []any{"error", perr}
	if len(raw) > 0 {
		if len(raw) > maxLoggedFrame {
			raw = raw[:maxLoggedFrame]
		}
		attrs = append(attrs, "frame", string(raw))
	}
	cl.logger.Warn("dropping malformed frame", attrs...)
}
