package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
	"github.com/agentplexus/twilio-realtime-bridge/bridge"
	"github.com/agentplexus/twilio-realtime-bridge/callsystem"
	"github.com/agentplexus/twilio-realtime-bridge/internal/metrics"
	"github.com/agentplexus/twilio-realtime-bridge/internal/store"
	"github.com/agentplexus/twilio-realtime-bridge/session"
	"github.com/agentplexus/twilio-realtime-bridge/transport"
)

// CallSIDHeader carries the call SID when the media stream is opened by a
// proxy that knows it.
const CallSIDHeader = "X-Twilio-Call-Sid"

// Bridge serves one media stream. *bridge.Controller implements it.
type Bridge interface {
	Serve(ctx context.Context, sessionID string, tel bridge.Telephony)
}

// Appointments lists stored appointments. *store.Store implements it.
type Appointments interface {
	RecentAppointments(ctx context.Context, limit int) ([]store.Record, error)
}

// Config configures the Server. Appointments and Metrics are optional.
type Config struct {
	Port             int
	Bridge           Bridge
	Calls            *callsystem.Provider
	Sessions         *session.Store
	Appointments     Appointments
	Metrics          *metrics.Metrics
	TransportOptions []transport.Option
	Logger           *slog.Logger
}

type Server struct {
	bridge       Bridge
	calls        *callsystem.Provider
	sessions     *session.Store
	appointments Appointments
	metrics      *metrics.Metrics
	transportOpt []transport.Option
	logger       *slog.Logger

	router chi.Router
	http   *http.Server

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		bridge:       cfg.Bridge,
		calls:        cfg.Calls,
		sessions:     cfg.Sessions,
		appointments: cfg.Appointments,
		metrics:      cfg.Metrics,
		transportOpt: append([]transport.Option{transport.WithLogger(cfg.Logger)}, cfg.TransportOptions...),
		logger:       cfg.Logger,
		baseCtx:      baseCtx,
		cancelBase:   cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/", srv.handleRoot)
	r.Get("/health", srv.handleHealth)
	r.HandleFunc("/incoming-call", srv.handleIncomingCall)
	r.Post("/status-callback", srv.handleStatusCallback)
	r.Post("/outbound-call", srv.handleOutboundCall)
	r.Route("/calls", func(r chi.Router) {
		r.Get("/", srv.handleListCalls)
		r.Get("/{callSID}", srv.handleGetCall)
		r.Post("/{callSID}/hangup", srv.handleHangup)
	})
	if srv.appointments != nil {
		r.Get("/appointments", srv.handleListAppointments)
	}
	if srv.metrics != nil {
		r.Method(http.MethodGet, "/metrics", srv.metrics.Handler())
	}
	r.Get(realtimebridge.MediaStreamPath, srv.handleMediaStream)

	srv.router = r
	srv.http = &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	return srv
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and ends open media streams.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	// Hijacked media stream connections are not tracked by http.Server.
	s.cancelBase()
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Media Stream Server is running!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": realtimebridge.ServiceName,
		"version": realtimebridge.Version,
	}
	if s.sessions != nil {
		body["active_sessions"] = s.sessions.Len()
	}
	if s.calls != nil {
		body["tracked_calls"] = len(s.calls.ActiveCalls())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	twiml, err := s.calls.HandleIncoming(r.Form.Get("CallSid"), r.Form.Get("From"), r.Form.Get("To"), r.Host)
	if err != nil {
		s.logger.Error("building twiml failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twiml))
}

func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callSID := r.PostForm.Get("CallSid")
	if callSID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "CallSid is required"})
		return
	}
	s.calls.HandleStatusCallback(callSID, r.PostForm.Get("CallStatus"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	to, err := destination(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	call, err := s.calls.MakeCall(r.Context(), to, r.Host)
	switch {
	case errors.Is(err, callsystem.ErrOutboundDisabled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("outbound call failed", "to", to, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to place call"})
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calls.ActiveCalls())
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.calls.GetCall(r.Context(), chi.URLParam(r, "callSID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSID")
	err := s.calls.Hangup(r.Context(), callSID)
	switch {
	case errors.Is(err, callsystem.ErrOutboundDisabled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("hangup failed", "call_sid", callSID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to hang up"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.appointments.RecentAppointments(r.Context(), limit)
	if err != nil {
		slog.Error("query appointments failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	sessionID := resolveSessionID(r)

	conn, err := transport.Accept(w, r, s.transportOpt...)
	if err != nil {
		s.logger.Warn("media stream upgrade failed", "error", err)
		return
	}

	s.bridge.Serve(r.Context(), sessionID, conn)
}

// resolveSessionID keys the session by the call SID when the request carries
// one, so a reconnecting stream resumes its transcript. Streams opened by
// Twilio carry neither; their call SID arrives in the start event.
func resolveSessionID(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get(CallSIDHeader)); sid != "" {
		return sid
	}
	if sid := strings.TrimSpace(r.URL.Query().Get("callSid")); sid != "" {
		return sid
	}
	return "session_" + uuid.NewString()
}

func destination(r *http.Request) (string, error) {
	var to string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			To string `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", errors.New("invalid json body")
		}
		to = body.To
	} else {
		if err := r.ParseForm(); err != nil {
			return "", errors.New("invalid form")
		}
		to = r.PostForm.Get("to")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("to is required")
	}
	return to, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
