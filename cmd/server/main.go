package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bauki/assistant-backend/internal/api"
	"github.com/bauki/assistant-backend/internal/auth"
	"github.com/bauki/assistant-backend/internal/config"
	"github.com/bauki/assistant-backend/internal/core"
	"github.com/bauki/assistant-backend/internal/logger"
	"github.com/bauki/assistant-backend/internal/mailer"
	"github.com/bauki/assistant-backend/internal/metrics"
	"github.com/bauki/assistant-backend/internal/ratelimit"
	"github.com/bauki/assistant-backend/internal/store"
)

func main() {
	cfg, dotenv, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()
	if dotenv {
		logg.Debug("Loaded environment from .env")
	}

	ctx := context.Background()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logg.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	m := metrics.New()
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	admin := auth.NewAdminGate(cfg.AdminEmails)
	if len(cfg.AdminEmails) == 0 {
		logg.Warn("ADMIN_EMAILS is empty, admin endpoints are unreachable")
	}

	// Title generation is optional; without a key every title is a truncation.
	var titleGen core.TitleGenerator
	if cfg.GeminiAPIKey != "" {
		gemini, err := core.NewGeminiTitleGenerator(ctx, cfg.GeminiAPIKey, cfg.TitleModel)
		if err != nil {
			logg.Fatal("Failed to initialize title generator", "error", err)
		}
		defer gemini.Close()
		titleGen = gemini
	} else {
		logg.Info("GEMINI_API_KEY not set, conversation titles use truncation")
	}
	titles := core.NewTitleService(titleGen, m, logg)

	responder := core.NewWebhookResponder(cfg.ResponderURL, &http.Client{}, m, logg)

	var resetMailer mailer.Mailer
	if cfg.SendGridAPIKey != "" {
		sg, err := mailer.NewSendGridMailer(mailer.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logg)
		if err != nil {
			logg.Fatal("Failed to initialize mailer", "error", err)
		}
		resetMailer = sg
	} else {
		logg.Warn("SENDGRID_API_KEY not set, reset codes are only logged")
		resetMailer = mailer.NewLogMailer(logg)
	}

	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		counter, err := ratelimit.NewRedisCounter(ctx, cfg.RedisURL)
		if err != nil {
			logg.Fatal("Failed to connect to redis", "error", err)
		}
		defer counter.Close()
		limiter = ratelimit.NewLimiter(counter, cfg.RateLimitPerMinute, time.Minute)
	} else {
		logg.Info("REDIS_URL not set, rate limiting disabled")
	}

	services := api.Services{
		Accounts: core.NewAccountService(dbStore, tokens, logg),
		Resets:   core.NewResetService(dbStore, resetMailer, logg),
		Chat: core.NewChatService(dbStore, responder, titles, core.ChatServiceConfig{
			ResponderTimeout:       cfg.ResponderTimeout,
			ResponderUploadTimeout: cfg.ResponderUploadTimeout,
			MaxUploadBytes:         cfg.MaxUploadBytes,
		}, logg),
		Feedback: core.NewFeedbackService(dbStore, admin, logg),
		Stats:    core.NewStatsService(dbStore, admin),
		Admin:    admin,
	}

	handler := api.NewHandler(services, limiter, m, cfg.MaxUploadBytes, logg)
	router := api.NewRouter(handler, m, logg, api.RouterConfig{CORSOrigins: cfg.CORSOrigins})

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Minute, // uploads
		// Turns with attachments may wait on the responder for its full timeout.
		WriteTimeout: cfg.ResponderUploadTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logg.Info("Starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("Server forced to shutdown", "error", err)
	}

	logg.Info("Server exiting gracefully")
}
