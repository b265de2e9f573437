package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/twitch-analytics/internal/adapter/metrics"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

	tokenEndpoint = "oauth2/token"
	refreshKey    = "app_access_token"
)

// Token is an app access token and the instant it stops being used.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

type TokenSource struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	timeout      time.Duration
	skew         time.Duration
	clock        clockwork.Clock
	metrics      *metrics.TokenMetrics

	mu    sync.RWMutex
	token *Token

	refresh singleflight.Group
}

func NewTokenSource(clientID, clientSecret, tokenURL string, httpClient *http.Client, timeout, skew time.Duration, clock clockwork.Clock, m *metrics.TokenMetrics) *TokenSource {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &TokenSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		httpClient:   httpClient,
		timeout:      timeout,
		skew:         skew,
		clock:        clock,
		metrics:      m,
	}
}

// Token returns a currently valid access token, fetching a new one if none is cached
// or the cached one has expired. Concurrent callers share a single fetch.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := ts.cached(); ok {
		ts.metrics.Hits.Inc()
		return tok, nil
	}

	// The fetch must not die with the first caller's request: other callers may be waiting on it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := ts.refresh.DoChan(refreshKey, func() (any, error) {
		if tok, ok := ts.cached(); ok {
			return tok, nil
		}
		return ts.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			ts.metrics.Shared.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for twitch token: %w", ctx.Err())
	}
}

// Invalidate drops the cached token if it is still the given one. A newer token
// fetched in the meantime is kept.
func (ts *TokenSource) Invalidate(accessToken string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != nil && ts.token.AccessToken == accessToken {
		ts.token = nil
	}
}

// current returns a copy of the cached token, valid or not.
func (ts *TokenSource) current() (Token, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.token == nil {
		return Token{}, false
	}
	return *ts.token, true
}

func (ts *TokenSource) cached() (string, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.token == nil || !ts.clock.Now().Before(ts.token.ExpiresAt) {
		return "", false
	}
	return ts.token.AccessToken, true
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	slog.InfoContext(ctx, "Requesting Twitch app access token")

	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()

	token, err := ts.requestToken(ctx)
	if err != nil {
		ts.metrics.Refreshes.WithLabelValues("failure").Inc()
		slog.ErrorContext(ctx, "Failed to obtain Twitch app access token", "error", err)
		return "", err
	}
	ts.metrics.Refreshes.WithLabelValues("success").Inc()

	ts.mu.Lock()
	ts.token = token
	ts.mu.Unlock()

	slog.InfoContext(ctx, "Obtained Twitch app access token", "expires_at", token.ExpiresAt)
	return token.AccessToken, nil
}

func (ts *TokenSource) requestToken(ctx context.Context) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", ts.clientID)
	data.Set("client_secret", ts.clientSecret)
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &APIError{Endpoint: tokenEndpoint, Kind: domain.ErrUpstream, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Endpoint: tokenEndpoint, Kind: domain.ErrUpstream, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Endpoint: tokenEndpoint, Kind: domain.ErrUpstream, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, tokenStatusError(resp.StatusCode, body)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &APIError{Endpoint: tokenEndpoint, Kind: domain.ErrUpstream, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if result.AccessToken == "" {
		return nil, &APIError{Endpoint: tokenEndpoint, Kind: domain.ErrUpstream, Message: "token response without access_token", StatusCode: resp.StatusCode}
	}

	return &Token{
		AccessToken: result.AccessToken,
		ExpiresAt:   ts.clock.Now().Add(ts.lifetime(time.Duration(result.ExpiresIn) * time.Second)),
	}, nil
}

// lifetime subtracts the skew from the advertised lifetime. For very short-lived
// tokens the skew is capped at half the lifetime so the token is still usable.
func (ts *TokenSource) lifetime(expiresIn time.Duration) time.Duration {
	skew := ts.skew
	if skew > expiresIn/2 {
		skew = expiresIn / 2
	}
	return expiresIn - skew
}

func tokenStatusError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	kind := domain.ErrUpstream
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		kind = domain.ErrAuthentication
	case http.StatusTooManyRequests:
		kind = domain.ErrRateLimited
	}

	return &APIError{
		Endpoint:   tokenEndpoint,
		StatusCode: status,
		Message:    payload.Message,
		Kind:       kind,
	}
}
