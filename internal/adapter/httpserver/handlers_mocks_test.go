package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/twitch-analytics/internal/app"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	"github.com/pscheid92/twitch-analytics/internal/platform/config"
)

// --- Mock implementations ---

type mockAppService struct {
	getUserFn    func(ctx context.Context, id, login string) (*domain.User, error)
	getStreamsFn func(ctx context.Context, filter app.StreamFilter) (*domain.StreamPage, error)
}

func (m *mockAppService) GetUser(ctx context.Context, id, login string) (*domain.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, id, login)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) GetStreams(ctx context.Context, filter app.StreamFilter) (*domain.StreamPage, error) {
	if m.getStreamsFn != nil {
		return m.getStreamsFn(ctx, filter)
	}
	return &domain.StreamPage{Streams: []domain.Stream{}}, nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, app appService, opts ...func(*Server)) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:             "test",
		Host:               "127.0.0.1",
		Port:               "0",
		TwitchClientID:     "test-client-id",
		TwitchClientSecret: "test-client-secret",
	}
	srv := NewServer(cfg, app, prometheus.NewRegistry(), nil)

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// serve runs a request through the full middleware chain.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}
