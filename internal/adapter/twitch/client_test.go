package twitch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/twitch-analytics/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usersBody = `{"data":[{"id":"141981764","login":"twitchdev","display_name":"TwitchDev","type":"",` +
		`"broadcaster_type":"partner","description":"Supporting third-party developers.",` +
		`"profile_image_url":"https://static-cdn.jtvnw.net/profile.png","offline_image_url":"https://static-cdn.jtvnw.net/offline.png",` +
		`"view_count":5980557,"created_at":"2016-12-14T20:32:28Z"}]}`

	streamsBody = `{"data":[{"id":"40952121085","user_id":"101051819","user_login":"afro","user_name":"Afro",` +
		`"game_id":"32982","game_name":"Grand Theft Auto V","type":"live","title":"Jacob: Digital Den Laptops",` +
		`"viewer_count":1490,"started_at":"2021-03-10T03:18:11Z","language":"en",` +
		`"thumbnail_url":"https://static-cdn.jtvnw.net/previews-ttv/live_user_afro-{width}x{height}.jpg","tags":["English"],"is_mature":false}],` +
		`"pagination":{"cursor":"eyJiIjp7IkN1cnNvciI6ImV5SnpJam94TkRrd0xDSmtJanBtWVd4elpTd2lkQ0k2ZEhKMVpYMD0ifX0"}}`

	emptyBody = `{"data":[],"pagination":{}}`
)

// helixStub counts requests and answers with the handler installed by the test.
type helixStub struct {
	*httptest.Server
	calls atomic.Int32
}

func newHelixStub(t *testing.T, handler http.HandlerFunc) *helixStub {
	t.Helper()
	h := &helixStub{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(h.Close)
	return h
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeHelixError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, `{"error":"`+http.StatusText(status)+`","status":`+strconv.Itoa(status)+`,"message":"`+message+`"}`)
}

type testClient struct {
	*Client
	tokenServer *fakeTokenServer
	helixServer *helixStub
	clock       *clockwork.FakeClock
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*Options)) *testClient {
	t.Helper()

	clock := clockwork.NewFakeClock()
	tokens := newFakeTokenServer(t, tokenServerOptions{})
	stub := newHelixStub(t, handler)

	o := Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokens.URL,
		APIBaseURL:   stub.URL,
		Timeout:      5 * time.Second,
		MaxAttempts:  3,
		Clock:        clock,
		Registerer:   prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := NewClient(o)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return &testClient{Client: c, tokenServer: tokens, helixServer: stub, clock: clock}
}

// autoAdvance moves the fake clock forward whenever something waits on it, so
// backoffs and rate-limit pauses elapse instantly.
func autoAdvance(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(time.Minute)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Options{ClientID: "client-id"})
	assert.Error(t, err)

	_, err = NewClient(Options{ClientSecret: "client-secret"})
	assert.Error(t, err)
}

func TestClient_GetUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "client-id", r.Header.Get("Client-Id"))
		assert.Equal(t, []string{"twitchdev"}, r.URL.Query()["login"])
		writeJSON(w, http.StatusOK, usersBody)
	})

	users, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.NoError(t, err)
	require.Len(t, users, 1)
	u := users[0]
	assert.Equal(t, "141981764", u.ID)
	assert.Equal(t, "twitchdev", u.Login)
	assert.Equal(t, "TwitchDev", u.DisplayName)
	assert.Equal(t, "partner", u.BroadcasterType)
	assert.Equal(t, 5980557, u.ViewCount)
	assert.Equal(t, time.Date(2016, 12, 14, 20, 32, 28, 0, time.UTC), u.CreatedAt.UTC())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RequestsTotal.WithLabelValues(endpointUsers, "200")), 0)
}

func TestClient_GetUsers_ByID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"141981764"}, r.URL.Query()["id"])
		writeJSON(w, http.StatusOK, usersBody)
	})

	users, err := c.GetUsers(context.Background(), domain.UserQuery{IDs: []string{"141981764"}})

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "141981764", users[0].ID)
}

func TestClient_GetUsers_NoMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, emptyBody)
	})

	users, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"nobody"}})

	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestClient_GetUsers_EmptyQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.GetUsers(context.Background(), domain.UserQuery{})

	require.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Equal(t, int32(0), c.tokenServer.calls.Load())
}

func TestClient_RetriesOnceWithFreshTokenAfterUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			writeHelixError(w, http.StatusUnauthorized, "Invalid OAuth token")
			return
		}
		writeJSON(w, http.StatusOK, usersBody)
	})
	autoAdvance(t, c.clock)

	users, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, int32(2), c.tokenServer.calls.Load())
	assert.Equal(t, int32(2), c.helixServer.calls.Load())
}

func TestClient_ReauthenticatesEvenWithSingleAttempt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			writeHelixError(w, http.StatusUnauthorized, "Invalid OAuth token")
			return
		}
		writeJSON(w, http.StatusOK, usersBody)
	}, func(o *Options) {
		o.MaxAttempts = 1
	})

	users, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, int32(2), c.tokenServer.calls.Load())
	assert.Equal(t, int32(2), c.helixServer.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.Retries.WithLabelValues(endpointUsers)), 0)
}

func TestClient_PersistentUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeHelixError(w, http.StatusUnauthorized, "Invalid OAuth token")
	})
	autoAdvance(t, c.clock)

	_, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.ErrorIs(t, err, domain.ErrAuthentication)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid OAuth token", apiErr.Message)
	assert.Equal(t, int32(2), c.tokenServer.calls.Load())
	assert.Equal(t, int32(2), c.helixServer.calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, domain.ErrInvalidQuery},
		{"not found", http.StatusNotFound, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeHelixError(w, tt.status, "nope")
			})

			_, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), c.helixServer.calls.Load())
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var failures atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(1) <= 2 {
			writeHelixError(w, http.StatusServiceUnavailable, "try again")
			return
		}
		writeJSON(w, http.StatusOK, usersBody)
	})
	autoAdvance(t, c.clock)

	users, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, int32(3), c.helixServer.calls.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(c.metrics.Retries.WithLabelValues(endpointUsers)), 0)
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeHelixError(w, http.StatusInternalServerError, "boom")
	})
	autoAdvance(t, c.clock)

	_, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), c.helixServer.calls.Load())
}

func TestClient_WaitsForRateLimitReset(t *testing.T) {
	var calls atomic.Int32
	var c *testClient
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			reset := c.clock.Now().Add(2 * time.Second).Unix()
			w.Header().Set(headerRateLimitRemaining, "0")
			w.Header().Set(headerRateLimitReset, strconv.FormatInt(reset, 10))
			writeHelixError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		writeJSON(w, http.StatusOK, usersBody)
	})
	autoAdvance(t, c.clock)

	users, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, int32(2), c.helixServer.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RequestsTotal.WithLabelValues(endpointUsers, "429")), 0)
}

func TestClient_PersistentRateLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeHelixError(w, http.StatusTooManyRequests, "Too Many Requests")
	})
	autoAdvance(t, c.clock)

	_, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(3), c.helixServer.calls.Load())
}

func TestClient_HoldsRequestsWhileBucketIsEmpty(t *testing.T) {
	var c *testClient
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reset := c.clock.Now().Add(30 * time.Second).Unix()
		w.Header().Set(headerRateLimitRemaining, "0")
		w.Header().Set(headerRateLimitReset, strconv.FormatInt(reset, 10))
		writeJSON(w, http.StatusOK, usersBody)
	})
	autoAdvance(t, c.clock)
	ctx := context.Background()

	_, err := c.GetUsers(ctx, domain.UserQuery{Logins: []string{"twitchdev"}})
	require.NoError(t, err)
	_, err = c.GetUsers(ctx, domain.UserQuery{Logins: []string{"twitchdev"}})
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RateLimitWaits), 0)
}

func TestClient_TransportFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, func(o *Options) {
		o.MaxAttempts = 1
	})
	c.helixServer.Close()

	_, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.RequestsTotal.WithLabelValues(endpointUsers, "error")), 0)
}

func TestClient_RejectedCredentials(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tokens := newFakeTokenServer(t, tokenServerOptions{status: http.StatusBadRequest})
	stub := newHelixStub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no Helix request expected without a token")
	})
	c, err := NewClient(Options{
		ClientID:     "client-id",
		ClientSecret: "wrong",
		TokenURL:     tokens.URL,
		APIBaseURL:   stub.URL,
		MaxAttempts:  3,
		Clock:        clock,
	})
	require.NoError(t, err)

	_, err = c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})

	require.ErrorIs(t, err, domain.ErrAuthentication)
	assert.Equal(t, int32(1), tokens.calls.Load())
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeHelixError(w, http.StatusBadGateway, "bad gateway")
	}, func(o *Options) {
		o.MaxAttempts = 1
		o.Breaker = BreakerSettings{
			FailureRate:      0.5,
			MinExecutions:    2,
			Window:           time.Minute,
			OpenDelay:        time.Hour,
			SuccessThreshold: 1,
		}
	})
	ctx := context.Background()
	query := domain.UserQuery{Logins: []string{"twitchdev"}}

	for range 2 {
		_, err := c.GetUsers(ctx, query)
		require.ErrorIs(t, err, domain.ErrUpstream)
	}

	_, err := c.GetUsers(ctx, query)

	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, int32(2), c.helixServer.calls.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(c.metrics.BreakerState), 0)
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeHelixError(w, http.StatusNotFound, "not found")
	}, func(o *Options) {
		o.Breaker = BreakerSettings{
			FailureRate:      0.5,
			MinExecutions:    2,
			Window:           time.Minute,
			OpenDelay:        time.Hour,
			SuccessThreshold: 1,
		}
	})

	for range 3 {
		_, err := c.GetUsers(context.Background(), domain.UserQuery{Logins: []string{"twitchdev"}})
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, int32(3), c.helixServer.calls.Load())
}

func TestClient_TimedOutCallersDoNotTripBreaker(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	release := make(chan struct{})

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		writeJSON(w, http.StatusOK, usersBody)
	}, func(o *Options) {
		o.Breaker = BreakerSettings{
			FailureRate:      0.5,
			MinExecutions:    2,
			Window:           time.Minute,
			OpenDelay:        time.Hour,
			SuccessThreshold: 1,
		}
	})
	t.Cleanup(func() { close(release) })
	require.NoError(t, c.Ping(context.Background()))
	query := domain.UserQuery{Logins: []string{"twitchdev"}}

	for range 4 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.GetUsers(ctx, query)
		cancel()

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, domain.ErrUpstream)
	}
	assert.Equal(t, int32(4), c.helixServer.calls.Load(), "a timed-out caller is not retried")

	slow.Store(false)
	users, err := c.GetUsers(context.Background(), query)

	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.InDelta(t, 0, testutil.ToFloat64(c.metrics.BreakerState), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(c.metrics.RequestsTotal.WithLabelValues(endpointUsers, "canceled")), 0)
}

func TestClient_CancelledCallerIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	})
	require.NoError(t, c.Ping(context.Background()))

	_, err := c.GetUsers(ctx, domain.UserQuery{Logins: []string{"twitchdev"}})

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, int32(1), c.helixServer.calls.Load())
	assert.InDelta(t, 0, testutil.ToFloat64(c.metrics.Retries.WithLabelValues(endpointUsers)), 0)
}

func TestClient_GetStreams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streams", r.URL.Path)
		assert.Equal(t, []string{"afro"}, r.URL.Query()["user_login"])
		writeJSON(w, http.StatusOK, streamsBody)
	})

	page, err := c.GetStreams(context.Background(), domain.StreamQuery{UserLogins: []string{"afro"}})

	require.NoError(t, err)
	require.Len(t, page.Streams, 1)
	s := page.Streams[0]
	assert.Equal(t, "40952121085", s.ID)
	assert.Equal(t, "101051819", s.UserID)
	assert.Equal(t, "afro", s.UserLogin)
	assert.Equal(t, "Grand Theft Auto V", s.GameName)
	assert.Equal(t, 1490, s.ViewerCount)
	assert.Equal(t, time.Date(2021, 3, 10, 3, 18, 11, 0, time.UTC), s.StartedAt.UTC())
	assert.NotEmpty(t, page.Cursor)
}

func TestClient_GetStreams_Offline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, emptyBody)
	})

	page, err := c.GetStreams(context.Background(), domain.StreamQuery{UserIDs: []string{"101051819"}})

	require.NoError(t, err)
	assert.NotNil(t, page.Streams)
	assert.Empty(t, page.Streams)
	assert.Empty(t, page.Cursor)
}

func TestClient_GetStreams_PageSizeOutOfRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.GetStreams(context.Background(), domain.StreamQuery{First: maxStreamsPerPage + 1})

	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestClient_SharesTokenAcrossCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/streams" {
			writeJSON(w, http.StatusOK, emptyBody)
			return
		}
		writeJSON(w, http.StatusOK, usersBody)
	})
	ctx := context.Background()

	_, err := c.GetUsers(ctx, domain.UserQuery{Logins: []string{"twitchdev"}})
	require.NoError(t, err)
	_, err = c.GetStreams(ctx, domain.StreamQuery{UserLogins: []string{"twitchdev"}})
	require.NoError(t, err)

	assert.Equal(t, int32(1), c.tokenServer.calls.Load())
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Ping must not call Helix")
	})

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, int32(1), c.tokenServer.calls.Load())
}
