package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/twitch-analytics/internal/adapter/metrics"
	"github.com/pscheid92/twitch-analytics/internal/platform/correlation"
)

const welcomeMessage = "Welcome to the Twitch Analytics API. Visit /docs for API documentation."

func (s *Server) registerRoutes() {
	s.echo.Use(requestIDMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.httpMetrics.Middleware())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled: true,
		// Swagger UI runs an inline bootstrap script and uses data: URIs for its icons.
		ContentSecurityPolicy: "default-src 'self'; " +
			"script-src 'self' 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data:; " +
			"frame-ancestors 'none'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	s.echo.GET("/", s.handleRoot)

	s.registerHealthRoutes()
	s.registerAnalyticsRoutes()
	s.registerDocsRoutes()

	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
}

// requestIDMiddleware reuses an inbound X-Request-Id or generates one, echoes it in the
// response and stores it in the request context for log correlation.
func requestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: correlation.Header,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := correlation.WithID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// handleRoot godoc
//
//	@Summary	API information
//	@Tags		root
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/ [get]
func (s *Server) handleRoot(c echo.Context) error {
	if err := c.JSON(http.StatusOK, map[string]string{"message": welcomeMessage}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
