package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/twitch-analytics/internal/adapter/twitch"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	apperrors "github.com/pscheid92/twitch-analytics/internal/platform/errors"
)

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeUnauthorized:
		slog.WarnContext(ctx, "Twitch rejected credentials", attrs...)
	case apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Twitch rate limit exceeded", attrs...)
	case apperrors.TypeUnavailable:
		slog.WarnContext(ctx, "Twitch unavailable", attrs...)
	case apperrors.TypeInternal:
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// twitchError translates an error from the application layer into the structured
// error rendered to clients. notFound is the message used for ErrNotFound.
func twitchError(c echo.Context, err error, notFound string) *apperrors.Error {
	var apiErr *twitch.APIError
	hasAPIErr := errors.As(err, &apiErr)

	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		if hasAPIErr && apiErr.Message != "" {
			return apperrors.ValidationError("Twitch API error: " + apiErr.Message)
		}
		return apperrors.ValidationError("invalid request")
	case errors.Is(err, domain.ErrAuthentication):
		return apperrors.UnauthorizedError("authentication error with Twitch API, check credentials", err)
	case errors.Is(err, domain.ErrNotFound):
		return apperrors.NotFoundError(notFound)
	case errors.Is(err, domain.ErrRateLimited):
		if hasAPIErr && apiErr.RetryIn > 0 {
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(apiErr.RetryIn.Seconds()))))
		}
		return apperrors.RateLimitedError("Twitch API rate limit exceeded, please try again later", err)
	case errors.Is(err, domain.ErrUnavailable):
		return apperrors.UnavailableError("Twitch API is temporarily unavailable", err)
	case errors.Is(err, domain.ErrUpstream):
		return apperrors.ExternalError("failed to fetch data from Twitch", err)
	default:
		return apperrors.InternalError("internal server error", err)
	}
}
