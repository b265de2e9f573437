package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/twitch-analytics/internal/app"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	apperrors "github.com/pscheid92/twitch-analytics/internal/platform/errors"
)

// UserResponse wraps a single Twitch user.
type UserResponse struct {
	User domain.User `json:"user"`
}

// StreamsResponse wraps one page of live streams. Streams is never null; Cursor is
// passed back as "after" to fetch the next page and is omitted on the last one.
type StreamsResponse struct {
	Streams []domain.Stream `json:"streams"`
	Cursor  string          `json:"cursor,omitempty"`
}

const maxStreamsPerPage = 100

func (s *Server) registerAnalyticsRoutes() {
	g := s.echo.Group("/analytics")
	g.GET("/user", s.handleGetUser)
	g.GET("/streams", s.handleGetStreams)
}

// handleGetUser godoc
//
//	@Summary		Get Twitch user information
//	@Description	Retrieves information about a specific Twitch streamer by ID or login.
//	@Tags			analytics
//	@Produce		json
//	@Param			id		query		string	false	"Twitch user ID"
//	@Param			login	query		string	false	"The login name of the Twitch user"
//	@Success		200		{object}	UserResponse
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Failure		401		{object}	apperrors.ErrorResponse
//	@Failure		404		{object}	apperrors.ErrorResponse
//	@Failure		429		{object}	apperrors.ErrorResponse
//	@Failure		502		{object}	apperrors.ErrorResponse
//	@Failure		503		{object}	apperrors.ErrorResponse
//	@Router			/analytics/user [get]
func (s *Server) handleGetUser(c echo.Context) error {
	id := c.QueryParam("id")
	login := c.QueryParam("login")
	if id == "" && login == "" {
		return apperrors.ValidationError("either 'id' or 'login' parameter must be provided")
	}

	user, err := s.app.GetUser(c.Request().Context(), id, login)
	if err != nil {
		return twitchError(c, err, "Twitch user not found")
	}

	if err := c.JSON(http.StatusOK, UserResponse{User: *user}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleGetStreams godoc
//
//	@Summary		Get active Twitch streams
//	@Description	Retrieves currently live Twitch streams, optionally filtered by broadcaster. An offline broadcaster yields an empty list.
//	@Tags			analytics
//	@Produce		json
//	@Param			user_id		query		string	false	"Filter streams by Twitch user ID"
//	@Param			user_login	query		string	false	"Filter streams by Twitch login"
//	@Param			first		query		int		false	"Page size, 1 to 100 (Twitch default 20)"
//	@Param			after		query		string	false	"Cursor from a previous response"
//	@Success		200			{object}	StreamsResponse
//	@Failure		400			{object}	apperrors.ErrorResponse
//	@Failure		401			{object}	apperrors.ErrorResponse
//	@Failure		429			{object}	apperrors.ErrorResponse
//	@Failure		502			{object}	apperrors.ErrorResponse
//	@Failure		503			{object}	apperrors.ErrorResponse
//	@Router			/analytics/streams [get]
func (s *Server) handleGetStreams(c echo.Context) error {
	filter := app.StreamFilter{
		UserID:    c.QueryParam("user_id"),
		UserLogin: c.QueryParam("user_login"),
		After:     c.QueryParam("after"),
	}
	if raw := c.QueryParam("first"); raw != "" {
		first, err := strconv.Atoi(raw)
		if err != nil || first < 1 || first > maxStreamsPerPage {
			return apperrors.ValidationError(fmt.Sprintf("'first' must be a number between 1 and %d", maxStreamsPerPage))
		}
		filter.First = first
	}

	page, err := s.app.GetStreams(c.Request().Context(), filter)
	if err != nil {
		return twitchError(c, err, "Twitch streams not found")
	}

	resp := StreamsResponse{Streams: []domain.Stream{}}
	if page != nil {
		resp.Cursor = page.Cursor
		if page.Streams != nil {
			resp.Streams = page.Streams
		}
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
