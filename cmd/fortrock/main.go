package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/fortrock/internal/config"
	"github.com/dukerupert/fortrock/internal/database"
	"github.com/dukerupert/fortrock/internal/email"
	"github.com/dukerupert/fortrock/internal/identity"
	"github.com/dukerupert/fortrock/internal/logging"
	"github.com/dukerupert/fortrock/internal/server"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil && !os.IsNotExist(envErr) {
		slog.Warn("could not load .env", "error", envErr)
	}

	db, err := database.Open(cfg.DBPath, database.Options{ProvisionPortal: cfg.ProvisionPortal})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if !cfg.ProvisionPortal {
		slog.Warn("portal tables not provisioned, gating falls back to email confirmation")
	}

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if !emailClient.Configured() {
		slog.Info("email not configured, confirmation and reset links will be logged")
	}

	srv := server.New(db, server.Config{
		Identity: identity.Config{
			TokenSecret:        cfg.TokenSecret,
			BaseURL:            cfg.BaseURL,
			DevMode:            cfg.DevMode(),
			GoogleClientID:     cfg.GoogleClientID,
			GoogleClientSecret: cfg.GoogleClientSecret,
		},
		Mailer:        emailClient,
		LookupTimeout: cfg.LookupTimeout,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: /ws/session connections are long-lived.
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(cleanupCtx); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					slog.Debug("cleaned up rate limit buckets", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("fortrock starting", "addr", ":"+cfg.Port, "env", cfg.Env, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down", "open_session_streams", srv.Hub().ClientCount())
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
