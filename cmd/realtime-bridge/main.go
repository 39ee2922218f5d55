package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	realtimebridge "github.com/agentplexus/twilio-realtime-bridge"
	"github.com/agentplexus/twilio-realtime-bridge/bridge"
	"github.com/agentplexus/twilio-realtime-bridge/callsystem"
	"github.com/agentplexus/twilio-realtime-bridge/internal/api"
	"github.com/agentplexus/twilio-realtime-bridge/internal/client"
	"github.com/agentplexus/twilio-realtime-bridge/internal/completion"
	"github.com/agentplexus/twilio-realtime-bridge/internal/config"
	"github.com/agentplexus/twilio-realtime-bridge/internal/metrics"
	"github.com/agentplexus/twilio-realtime-bridge/internal/notify"
	"github.com/agentplexus/twilio-realtime-bridge/internal/store"
	"github.com/agentplexus/twilio-realtime-bridge/realtime"
	"github.com/agentplexus/twilio-realtime-bridge/session"
	"github.com/agentplexus/twilio-realtime-bridge/transcript"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("realtime bridge starting",
		"port", cfg.Port,
		"model", cfg.RealtimeModel,
		"voice", cfg.Voice,
		"webhook", cfg.WebhookURL != "",
		"outbound", cfg.TwilioEnabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("realtime_bridge")

	// Step 1: Optional appointment storage.
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database connected")
	}

	// Step 2: Optional call completion events.
	var pub *notify.Publisher
	if cfg.NatsURL != "" {
		pub, err = notify.Connect(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		slog.Info("NATS connected", "subject", pub.Subject())
	}

	// Step 3: Transcript extraction and delivery.
	completer, err := completion.New(completion.Config{
		BaseURL: cfg.APIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.ExtractionModel,
	})
	if err != nil {
		slog.Error("failed to create completion client", "error", err)
		os.Exit(1)
	}
	procCfg := transcript.Config{
		Extractor: transcript.NewCompletionExtractor(completer),
		Metrics:   m,
		Logger:    slog.Default(),
	}
	if db != nil {
		procCfg.Saver = db
	}
	if pub != nil {
		procCfg.Publisher = pub
	}
	processor, err := transcript.NewProcessor(procCfg)
	if err != nil {
		slog.Error("failed to create transcript processor", "error", err)
		os.Exit(1)
	}

	// Step 4: Call handling.
	callsCfg := callsystem.Config{
		Greeting:   cfg.Greeting,
		PublicHost: cfg.PublicHost,
		StreamPath: realtimebridge.MediaStreamPath,
		Logger:     slog.Default(),
	}
	if cfg.TwilioEnabled() {
		tw, err := client.New(client.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		})
		if err != nil {
			slog.Error("failed to create twilio client", "error", err)
			os.Exit(1)
		}
		callsCfg.Twilio = tw
		callsCfg.From = cfg.TwilioPhoneNumber
	}
	calls := callsystem.New(callsCfg)

	// Step 5: Realtime API client and bridge controller.
	sessionCfg := realtime.DefaultSessionConfig(cfg.SystemMessage)
	sessionCfg.Voice = cfg.Voice
	sessionCfg.Temperature = cfg.Temperature
	rt, err := realtime.NewClient(realtime.Config{
		URL:         cfg.RealtimeURL,
		Model:       cfg.RealtimeModel,
		APIKey:      cfg.OpenAIAPIKey,
		Session:     sessionCfg,
		SettleDelay: cfg.SettleDelay,
		Logger:      slog.Default(),
	})
	if err != nil {
		slog.Error("failed to create realtime client", "error", err)
		os.Exit(1)
	}

	sessions := session.NewStore()
	controller, err := bridge.New(bridge.Config{
		Store:         sessions,
		Dial:          bridge.RealtimeDialer(rt),
		Processor:     processor,
		WebhookURL:    cfg.WebhookURL,
		OnStreamStart: calls.StreamStarted,
		Metrics:       m,
		Logger:        slog.Default(),
	})
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}

	// Step 6: HTTP API.
	apiCfg := api.Config{
		Port:     cfg.Port,
		Bridge:   controller,
		Calls:    calls,
		Sessions: sessions,
		Metrics:  m,
		Logger:   slog.Default(),
	}
	if db != nil {
		apiCfg.Appointments = db
	}
	srv := api.NewServer(apiCfg)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("realtime bridge ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := controller.Wait(shutdownCtx); err != nil {
		slog.Warn("transcript deliveries still running", "error", err)
	}
	slog.Info("realtime bridge stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
