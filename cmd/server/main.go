// Command server runs the Twitch Analytics API.
//
//	@title			Twitch Analytics API
//	@version		0.1.0
//	@description	Read-only proxy for Twitch user and live stream data.
//	@BasePath		/
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/twitch-analytics/internal/adapter/httpserver"
	"github.com/pscheid92/twitch-analytics/internal/adapter/metrics"
	"github.com/pscheid92/twitch-analytics/internal/adapter/twitch"
	"github.com/pscheid92/twitch-analytics/internal/app"
	"github.com/pscheid92/twitch-analytics/internal/platform/config"
	"github.com/pscheid92/twitch-analytics/internal/platform/logging"
	"github.com/pscheid92/twitch-analytics/internal/platform/version"
)

//go:generate swag init --dir ../../ --generalInfo cmd/server/main.go --output ../../docs --outputTypes go --parseInternal

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, twitchClient *twitch.Client) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		twitchClient.Close()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupTwitch(cfg *config.Config, registry prometheus.Registerer) *twitch.Client {
	client, err := twitch.NewClient(twitch.Options{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		TokenURL:     cfg.TwitchAuthURL,
		APIBaseURL:   cfg.TwitchAPIURL,
		Timeout:      cfg.TwitchRequestTimeout,
		ExpirySkew:   cfg.TwitchTokenExpirySkew,
		MaxAttempts:  cfg.TwitchMaxAttempts,
		Clock:        clockwork.NewRealClock(),
		Registerer:   registry,
	})
	if err != nil {
		slog.Error("Failed to create Twitch client", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "addr", cfg.Addr(), "version", version.Version)

	registry := metrics.NewRegistry()

	twitchClient := setupTwitch(cfg, registry)
	appSvc := app.NewService(twitchClient)

	healthChecks := []httpserver.HealthCheck{
		httpserver.TwitchTokenCheck(twitchClient.Ping),
	}
	srv := httpserver.NewServer(cfg, appSvc, registry, healthChecks)

	done := runGracefulShutdown(srv, twitchClient)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
