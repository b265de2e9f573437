package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	_ "github.com/pscheid92/twitch-analytics/docs" // registers the OpenAPI document with swag
	echoSwagger "github.com/swaggo/echo-swagger"
)

func (s *Server) registerDocsRoutes() {
	s.echo.GET("/docs", func(c echo.Context) error {
		return c.Redirect(http.StatusMovedPermanently, "/docs/index.html")
	})
	s.echo.GET("/docs/*", echoSwagger.WrapHandler)
}
