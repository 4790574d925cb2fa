package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notewire/internal/admission"
	"notewire/internal/chatbot"
	"notewire/internal/config"
	"notewire/internal/conversation"
	"notewire/internal/httpapi"
	"notewire/internal/observability"
	"notewire/internal/pipeline"
	"notewire/internal/transcode"
	"notewire/internal/upstream/gemini"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	generator := gemini.New(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, upstreamHTTPClient, gemini.WithObserver(metrics.ObserveUpstream))

	telegram, err := chatbot.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, chatbot.WithSendObserver(metrics.IncChatMessageSent))
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegram error: %v\n", err)
		os.Exit(1)
	}

	state := conversation.NewState()
	gate := admission.New(cfg.MaxConcurrent)
	transcoder := transcode.New(transcode.NewExecutor(), cfg.FFmpegPath)

	pipelineService := pipeline.New(gate, generator, transcoder, telegram, state, pipeline.Options{
		CompressThreshold: cfg.CompressThreshold,
		ChunkSize:         cfg.ChunkSize,
		Logger:            logger,
	})

	dispatcher := chatbot.NewDispatcher(telegram, generator, state, cfg.TelegramChatID, chatbot.DispatcherOptions{
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
	})

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline:       pipelineService,
		State:          state,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		logger.Info("chat dispatcher starting", "chat_id", cfg.TelegramChatID)
		dispatcher.Run(ctx, telegram.Listen(ctx))
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	<-dispatcherDone
	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
