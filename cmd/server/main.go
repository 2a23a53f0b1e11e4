package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/HanTheDev/support-chat-gateway/internal/admin"
	"github.com/HanTheDev/support-chat-gateway/internal/api"
	"github.com/HanTheDev/support-chat-gateway/internal/auth"
	"github.com/HanTheDev/support-chat-gateway/internal/chat"
	"github.com/HanTheDev/support-chat-gateway/internal/config"
	"github.com/HanTheDev/support-chat-gateway/internal/db"
	"github.com/HanTheDev/support-chat-gateway/internal/escalation"
	"github.com/HanTheDev/support-chat-gateway/internal/filter"
	"github.com/HanTheDev/support-chat-gateway/internal/knowledge"
	"github.com/HanTheDev/support-chat-gateway/internal/logging"
	"github.com/HanTheDev/support-chat-gateway/internal/metrics"
	"github.com/HanTheDev/support-chat-gateway/internal/operator"
	"github.com/HanTheDev/support-chat-gateway/internal/provider"
	"github.com/HanTheDev/support-chat-gateway/internal/ratelimit"
	"github.com/HanTheDev/support-chat-gateway/internal/session"
	"github.com/HanTheDev/support-chat-gateway/internal/transcript"
)

const (
	sessionSweepInterval = 10 * time.Minute
	shutdownTimeout      = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		JSON:    cfg.LogFormat == "json",
		Dir:     cfg.LogDir,
		Service: "support-chat",
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	log := logger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, w := range cfg.Warnings() {
		log.Warn("Configuration incomplete", "problem", w)
	}

	// Load knowledge base
	kb, err := knowledge.Load(ctx, cfg.KnowledgeDir, log)
	if err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}
	banned := kb.Banned()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize transcript backend
	recorder, transcripts, closeRecorder, err := openTranscripts(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRecorder()

	// Initialize operator hand-off
	notifier, closeNotifier, err := openNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// Initialize rate limiter and session store
	limiter := ratelimit.NewLimiter(ratelimit.Limits{
		Window:        cfg.RateLimit.Window,
		MaxPerWindow:  cfg.RateLimit.MaxPerWindow,
		MinDelay:      cfg.RateLimit.MinDelay,
		BlockDuration: cfg.RateLimit.BlockDuration,
		MaxPerMinute:  cfg.RateLimit.MaxPerMinute,
		MaxPerDay:     cfg.RateLimit.MaxPerDay,
	}, log)
	sessions := session.NewStore(session.Options{
		MaxStoredMessages: cfg.Session.MaxStoredMessages,
		IdleTTL:           cfg.Session.IdleTTL,
	}, log)

	go limiter.Run(ctx, cfg.RateLimit.CleanupInterval)
	go sessions.Run(ctx, sessionSweepInterval)

	providers := provider.FromConfig(cfg, log)
	log.Info("Providers configured", "available", providers.Names(), "default", providers.Default())

	pipeline := chat.New(chat.Deps{
		Knowledge: kb,
		Detector:  escalation.NewDetector(banned.EscalationTriggers),
		Filter:    filter.New(banned.Competitors, banned.ForbiddenTopics),
		Providers: providers,
		Sessions:  sessions,
		Notifier:  notifier,
		Recorder:  recorder,
		Metrics:   m,
		Logger:    log,
	}, chat.Options{
		MaxMessageLength:   cfg.Chat.MaxMessageLength,
		MaxHistoryMessages: cfg.Chat.MaxHistoryMessages,
		ProviderTimeout:    cfg.ProviderTimeout,
	})

	// Initialize router
	router := mux.NewRouter()

	authMiddleware := auth.NewMiddleware(cfg.Security.ClientAPIKeys, cfg.Security.JWTSecret, cfg.Security.RequireAPIKey, log)
	server := api.NewServer(pipeline, authMiddleware, limiter, m, log, api.Options{
		TrustedProxyCount: cfg.Security.TrustedProxyCount,
		AllowedOrigins:    cfg.Security.AllowedOrigins,
		MaxMessageLength:  cfg.Chat.MaxMessageLength,
	})
	server.RegisterRoutes(router)

	adminHandler := admin.NewAdminHandler(cfg.Security.AdminToken, limiter, sessions, transcripts, log)
	if adminHandler.RegisterRoutes(router) {
		log.Info("Admin API available at /admin/*")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           server.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "port", cfg.ServerPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openTranscripts(ctx context.Context, cfg *config.Config, log *slog.Logger) (transcript.Recorder, admin.TranscriptReader, func(), error) {
	switch cfg.TranscriptBackend {
	case "none":
		log.Info("Transcripts disabled")
		return transcript.Nop{}, nil, func() {}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, nil, errors.New("TRANSCRIPT_BACKEND=postgres requires DATABASE_URL")
		}
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			return nil, nil, nil, err
		}
		log.Info("Transcripts stored in Postgres")
		return transcript.NewDBRecorder(database), nil, database.Close, nil
	case "file", "":
		rec, err := transcript.NewFileRecorder(cfg.TranscriptDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open transcript dir: %w", err)
		}
		log.Info("Transcripts stored on disk", "dir", cfg.TranscriptDir)
		return rec, rec, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown TRANSCRIPT_BACKEND %q", cfg.TranscriptBackend)
	}
}

func openNotifier(ctx context.Context, cfg *config.Config, log *slog.Logger) (operator.Notifier, func(), error) {
	if cfg.RedisURL == "" {
		return operator.NewLogNotifier(log), func() {}, nil
	}
	client, err := operator.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("Escalations queued in Redis", "queue", cfg.OperatorQueue)
	return operator.NewRedisNotifier(client, cfg.OperatorQueue, log), func() { client.Close() }, nil
}
