package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/twitch-analytics/internal/adapter/metrics"
	"github.com/pscheid92/twitch-analytics/internal/app"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	"github.com/pscheid92/twitch-analytics/internal/platform/config"
)

type appService interface {
	GetUser(ctx context.Context, id, login string) (*domain.User, error)
	GetStreams(ctx context.Context, filter app.StreamFilter) (*domain.StreamPage, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app appService

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, app appService, registry *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		registry:     registry,
		httpMetrics:  metrics.NewHTTPMetrics(registry),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "addr", s.config.Addr(), "env", s.config.AppEnv)
	if err := s.echo.Start(s.config.Addr()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
