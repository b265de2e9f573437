package domain

import "context"

// TwitchClient is the read-only slice of the Twitch API this service relays.
type TwitchClient interface {
	GetUsers(ctx context.Context, query UserQuery) ([]User, error)
	GetStreams(ctx context.Context, query StreamQuery) (*StreamPage, error)
}
