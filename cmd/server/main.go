package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/companionai/chat-gateway/internal/agent"
	"github.com/companionai/chat-gateway/internal/auth"
	"github.com/companionai/chat-gateway/internal/chat"
	"github.com/companionai/chat-gateway/internal/config"
	"github.com/companionai/chat-gateway/internal/observability"
	"github.com/companionai/chat-gateway/internal/room"
	"github.com/companionai/chat-gateway/internal/speech"
	"github.com/companionai/chat-gateway/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		bootLogger := observability.GetLogger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()
	logger.Info().
		Str("port", cfg.Port).
		Str("agent_url", cfg.AgentBaseURL).
		Str("default_voice", cfg.XAIDefaultVoice).
		Msg("starting chat gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to conversation store")
	}
	defer db.Close()

	verifier := auth.NewJWTVerifier(cfg.AuthJWTSecret, cfg.AuthIssuer)
	agentClient := agent.NewClient(cfg, logger)
	speechClient := speech.NewClient(cfg, logger)
	registry := room.NewRegistry(logger)
	orch := chat.NewOrchestrator(db, agentClient, chat.NewSpeechStreamer(speechClient), logger)
	handler := chat.NewHandler(cfg, registry, verifier, db, orch, logger)

	mux := http.NewServeMux()
	mux.Handle("/chat/", handler)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"database": func(ctx context.Context) (bool, error) {
			if err := db.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"agent": agentClient.HealthCheck,
		"speech": func(context.Context) (bool, error) {
			if cfg.XAISpeechWSURL == "" || cfg.XAIAPIKey == "" {
				return false, errors.New("speech provider not configured")
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout/WriteTimeout: WebSocket sessions are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info().Msg("chat gateway stopped")
}
