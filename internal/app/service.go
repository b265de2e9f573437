package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/twitch-analytics/internal/domain"
)

// Service is the application layer. It orchestrates the analytics use cases.
type Service struct {
	twitch domain.TwitchClient
}

// NewService creates the application layer service.
func NewService(twitch domain.TwitchClient) *Service {
	return &Service{twitch: twitch}
}

// GetUser looks up a single user by ID or login. When both are given, Twitch is asked
// for both and the first record it returns wins.
func (s *Service) GetUser(ctx context.Context, id, login string) (*domain.User, error) {
	if id == "" && login == "" {
		return nil, fmt.Errorf("%w: either 'id' or 'login' must be provided", domain.ErrInvalidQuery)
	}

	query := domain.UserQuery{}
	if id != "" {
		query.IDs = []string{id}
	}
	if login != "" {
		query.Logins = []string{login}
	}

	users, err := s.twitch.GetUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(users) == 0 {
		slog.DebugContext(ctx, "No Twitch user matched", "id", id, "login", login)
		return nil, fmt.Errorf("%w: twitch user", domain.ErrNotFound)
	}

	return &users[0], nil
}

// StreamFilter narrows GetStreams. Zero values leave the Twitch defaults in place.
type StreamFilter struct {
	UserID    string
	UserLogin string
	First     int
	After     string
}

// GetStreams lists one page of live streams, optionally narrowed to one broadcaster.
// A broadcaster who is offline yields an empty list.
func (s *Service) GetStreams(ctx context.Context, filter StreamFilter) (*domain.StreamPage, error) {
	query := domain.StreamQuery{First: filter.First, After: filter.After}
	if filter.UserID != "" {
		query.UserIDs = []string{filter.UserID}
	}
	if filter.UserLogin != "" {
		query.UserLogins = []string{filter.UserLogin}
	}

	page, err := s.twitch.GetStreams(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get streams: %w", err)
	}
	if page == nil {
		page = &domain.StreamPage{}
	}
	if page.Streams == nil {
		page.Streams = []domain.Stream{}
	}

	return page, nil
}
