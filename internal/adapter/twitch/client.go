package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/twitch-analytics/internal/adapter/metrics"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	"github.com/pscheid92/twitch-analytics/internal/platform/retry"
	"github.com/pscheid92/twitch-analytics/internal/platform/version"
)

const (
	DefaultAPIBaseURL = "https://api.twitch.tv/helix"

	defaultTimeout        = 10 * time.Second
	defaultExpirySkew     = 5 * time.Minute
	retryInitialBackoff   = 200 * time.Millisecond
	retryMaxBackoff       = 2 * time.Second
	retryRateLimitBackoff = 1 * time.Second
	maxStreamsPerPage     = 100

	endpointUsers   = "users"
	endpointStreams = "streams"
)

type Options struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string

	Timeout     time.Duration
	ExpirySkew  time.Duration
	MaxAttempts int
	Breaker     BreakerSettings

	Clock      clockwork.Clock
	Registerer prometheus.Registerer
	HTTPClient *http.Client
}

// Client issues read-only Helix requests with a shared app access token.
// It is safe for concurrent use.
type Client struct {
	clientID   string
	apiBaseURL string
	httpClient *http.Client

	tokens  *TokenSource
	breaker circuitbreaker.CircuitBreaker[any]
	gate    *rateLimitGate
	policy  retry.Policy
	clock   clockwork.Clock
	metrics *metrics.UpstreamMetrics
}

var _ domain.TwitchClient = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("twitch client id and secret are required")
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = DefaultAPIBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ExpirySkew < 0 {
		opts.ExpirySkew = defaultExpirySkew
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Breaker == (BreakerSettings{}) {
		opts.Breaker = DefaultBreakerSettings()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	upstreamMetrics := metrics.NewUpstreamMetrics(opts.Registerer)
	tokenMetrics := metrics.NewTokenMetrics(opts.Registerer)

	c := &Client{
		clientID:   opts.ClientID,
		apiBaseURL: opts.APIBaseURL,
		httpClient: opts.HTTPClient,
		tokens:     NewTokenSource(opts.ClientID, opts.ClientSecret, opts.TokenURL, opts.HTTPClient, opts.Timeout, opts.ExpirySkew, opts.Clock, tokenMetrics),
		breaker:    newBreaker(opts.Breaker, upstreamMetrics),
		gate:       newRateLimitGate(opts.Clock),
		clock:      opts.Clock,
		metrics:    upstreamMetrics,
		policy: retry.Policy{
			MaxAttempts:      opts.MaxAttempts,
			InitialBackoff:   retryInitialBackoff,
			MaxBackoff:       retryMaxBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
			Clock:            opts.Clock,
		},
	}
	return c, nil
}

// Ping reports whether an app access token can be obtained.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

// Close releases idle upstream connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// GetUsers looks users up by ID and/or login.
func (c *Client) GetUsers(ctx context.Context, query domain.UserQuery) ([]domain.User, error) {
	if query.Empty() {
		return nil, fmt.Errorf("%w: either user ids or logins must be provided", domain.ErrInvalidQuery)
	}

	params := &helix.UsersParams{IDs: query.IDs, Logins: query.Logins}
	users, err := call(ctx, c, endpointUsers, func(hc *helix.Client) ([]helix.User, *helix.ResponseCommon, error) {
		resp, err := hc.GetUsers(params)
		if err != nil {
			return nil, nil, err
		}
		return resp.Data.Users, &resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		out = append(out, toUser(u))
	}
	return out, nil
}

// GetStreams lists live streams matching the query.
func (c *Client) GetStreams(ctx context.Context, query domain.StreamQuery) (*domain.StreamPage, error) {
	if query.First < 0 || query.First > maxStreamsPerPage {
		return nil, fmt.Errorf("%w: first must be between 1 and %d", domain.ErrInvalidQuery, maxStreamsPerPage)
	}

	params := &helix.StreamsParams{
		UserIDs:    query.UserIDs,
		UserLogins: query.UserLogins,
		First:      query.First,
		After:      query.After,
	}
	data, err := call(ctx, c, endpointStreams, func(hc *helix.Client) (helix.ManyStreams, *helix.ResponseCommon, error) {
		resp, err := hc.GetStreams(params)
		if err != nil {
			return helix.ManyStreams{}, nil, err
		}
		return resp.Data, &resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}

	page := &domain.StreamPage{
		Streams: make([]domain.Stream, 0, len(data.Streams)),
		Cursor:  data.Pagination.Cursor,
	}
	for _, s := range data.Streams {
		page.Streams = append(page.Streams, toStream(s))
	}
	return page, nil
}

type helixCall[T any] func(hc *helix.Client) (T, *helix.ResponseCommon, error)

func call[T any](ctx context.Context, c *Client, endpoint string, fn helixCall[T]) (T, error) {
	p := c.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.metrics.Retries.WithLabelValues(endpoint).Inc()
		slog.WarnContext(ctx, "Twitch request failed, retrying", "endpoint", endpoint, "attempt", attempt, "backoff", backoff, "error", err)
	}
	op := func(int) (T, error) {
		return attempt(ctx, c, endpoint, fn)
	}

	val, err := retry.Do(ctx, p, classify, op)
	if err == nil || !isTokenRejected(err) {
		return val, err
	}

	// The rejected token is already invalidated; one more round runs with a fresh one.
	c.metrics.Retries.WithLabelValues(endpoint).Inc()
	slog.InfoContext(ctx, "Retrying Twitch request with a fresh access token", "endpoint", endpoint)
	return retry.Do(ctx, p, classify, op)
}

func attempt[T any](ctx context.Context, c *Client, endpoint string, fn helixCall[T]) (T, error) {
	var zero T

	waited, err := c.gate.wait(ctx)
	if waited {
		c.metrics.RateLimitWaits.Inc()
	}
	if err != nil {
		return zero, err
	}

	if !c.breaker.TryAcquirePermit() {
		return zero, &APIError{Endpoint: endpoint, Kind: domain.ErrUnavailable, Err: circuitbreaker.ErrOpen}
	}

	val, err := send(ctx, c, endpoint, fn)
	if isFailure(err) {
		c.breaker.RecordError(err)
	} else {
		c.breaker.RecordSuccess()
	}
	return val, err
}

func send[T any](ctx context.Context, c *Client, endpoint string, fn helixCall[T]) (T, error) {
	var zero T

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return zero, err
	}

	hc, err := helix.NewClientWithContext(ctx, &helix.Options{
		ClientID:       c.clientID,
		AppAccessToken: token,
		APIBaseURL:     c.apiBaseURL,
		HTTPClient:     c.httpClient,
		UserAgent:      version.UserAgent(),
	})
	if err != nil {
		return zero, &APIError{Endpoint: endpoint, Kind: domain.ErrUpstream, Err: err}
	}

	start := c.clock.Now()
	val, resp, err := fn(hc)
	c.metrics.RequestDuration.WithLabelValues(endpoint).Observe(c.clock.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.RequestsTotal.WithLabelValues(endpoint, "canceled").Inc()
			return zero, &APIError{Endpoint: endpoint, Err: ctxErr}
		}
		c.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return zero, &APIError{Endpoint: endpoint, Kind: domain.ErrUpstream, Err: err}
	}

	c.metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	c.gate.observe(resp.StatusCode, resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return val, nil
	}

	apiErr := &APIError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Message:    resp.ErrorMessage,
		Kind:       kindForStatus(resp.StatusCode),
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		apiErr.tokenRejected = true
		c.tokens.Invalidate(token)
		slog.WarnContext(ctx, "Twitch rejected the access token", "endpoint", endpoint, "message", resp.ErrorMessage)
	case http.StatusTooManyRequests:
		apiErr.RetryIn = retryIn(c.clock, resp.Header)
		slog.WarnContext(ctx, "Twitch rate limit exceeded", "endpoint", endpoint, "retry_in", apiErr.RetryIn)
	}
	return zero, apiErr
}

func toUser(u helix.User) domain.User {
	return domain.User{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		Type:            u.Type,
		BroadcasterType: u.BroadcasterType,
		Description:     u.Description,
		ProfileImageURL: u.ProfileImageURL,
		OfflineImageURL: u.OfflineImageURL,
		ViewCount:       u.ViewCount,
		CreatedAt:       u.CreatedAt.Time,
	}
}

func toStream(s helix.Stream) domain.Stream {
	return domain.Stream{
		ID:           s.ID,
		UserID:       s.UserID,
		UserLogin:    s.UserLogin,
		UserName:     s.UserName,
		GameID:       s.GameID,
		GameName:     s.GameName,
		Title:        s.Title,
		ViewerCount:  s.ViewerCount,
		StartedAt:    s.StartedAt,
		Language:     s.Language,
		ThumbnailURL: s.ThumbnailURL,
	}
}
