package domain

import "errors"

var (
	ErrInvalidQuery   = errors.New("invalid query")
	ErrAuthentication = errors.New("twitch rejected the client credentials")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("twitch rate limit exceeded")
	ErrUpstream       = errors.New("twitch request failed")
	ErrUnavailable    = errors.New("twitch is unavailable")
)
