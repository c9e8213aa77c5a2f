package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiRequest struct {
	method      string
	path        string
	query       url.Values
	auth        string
	contentType string
	body        string
}

// fakeProvider serves a token endpoint at /token and an API under /api.
type fakeProvider struct {
	srv *httptest.Server

	mu         sync.Mutex
	tokenCalls int
	forms      []url.Values
	tokenAuth  []string
	apiCalls   []apiRequest

	tokenReply func(n int, form url.Values) (int, map[string]any)
	apiReply   func(r *http.Request) (int, string)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{
		tokenReply: func(n int, _ url.Values) (int, map[string]any) {
			return http.StatusOK, map[string]any{
				"access_token":  fmt.Sprintf("access-%d", n),
				"refresh_token": fmt.Sprintf("refresh-%d", n),
				"expires_in":    3600,
				"token_type":    "Bearer",
			}
		},
		apiReply: func(*http.Request) (int, string) {
			return http.StatusOK, `{"ok":true}`
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", fp.handleToken)
	mux.HandleFunc("/api/", fp.handleAPI)
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)

	return fp
}

func (fp *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	fp.mu.Lock()
	fp.tokenCalls++
	n := fp.tokenCalls
	fp.forms = append(fp.forms, r.PostForm)
	fp.tokenAuth = append(fp.tokenAuth, r.Header.Get("Authorization"))
	reply := fp.tokenReply
	fp.mu.Unlock()

	status, body := reply(n, r.PostForm)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (fp *fakeProvider) handleAPI(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	fp.mu.Lock()
	fp.apiCalls = append(fp.apiCalls, apiRequest{
		method:      r.Method,
		path:        strings.TrimPrefix(r.URL.Path, "/api"),
		query:       r.URL.Query(),
		auth:        r.Header.Get("Authorization"),
		contentType: r.Header.Get("Content-Type"),
		body:        string(body),
	})
	reply := fp.apiReply
	fp.mu.Unlock()

	status, respBody := reply(r)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, respBody)
}

func (fp *fakeProvider) SetTokenReply(reply func(n int, form url.Values) (int, map[string]any)) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.tokenReply = reply
}

func (fp *fakeProvider) SetAPIReply(reply func(r *http.Request) (int, string)) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.apiReply = reply
}

func (fp *fakeProvider) TokenCalls() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.tokenCalls
}

func (fp *fakeProvider) LastForm() url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.forms) == 0 {
		return nil
	}
	return fp.forms[len(fp.forms)-1]
}

func (fp *fakeProvider) LastTokenAuth() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.tokenAuth) == 0 {
		return ""
	}
	return fp.tokenAuth[len(fp.tokenAuth)-1]
}

func (fp *fakeProvider) APICalls() []apiRequest {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]apiRequest(nil), fp.apiCalls...)
}

func (fp *fakeProvider) config() ProviderConfig {
	return ProviderConfig{
		Name:        "test",
		ClientID:    "client-id",
		RedirectURI: "http://127.0.0.1:0/callback",
		Scopes:      []string{"read", "offline_access"},
		AuthURL:     fp.srv.URL + "/authorize",
		TokenURL:    fp.srv.URL + "/token",
		APIBaseURL:  fp.srv.URL + "/api",
		AuthStyle:   oauth2.AuthStyleInParams,
	}
}

func newTestClient(t *testing.T, cfg ProviderConfig, clock *fakeClock, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithLogger(zerolog.Nop()),
		WithClock(clock.Now),
		WithTimeout(5 * time.Second),
		WithBrowser(func(string) error { return nil }),
	}
	c, err := NewClient(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func seed(c *Client, s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// redirectingBrowser plays the user agent: it follows the consent URL
// straight to the redirect URI with params, echoing the state.
func redirectingBrowser(params url.Values, consent *string) func(string) error {
	return func(authURL string) error {
		if consent != nil {
			*consent = authURL
		}
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()

		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}
		if p.Get("state") == "" && q.Get("state") != "" {
			p.Set("state", q.Get("state"))
		}

		resp, err := http.Get(q.Get("redirect_uri") + "?" + p.Encode())
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func TestNewClient_Validation(t *testing.T) {
	valid := ProviderConfig{
		Name:        "test",
		ClientID:    "id",
		RedirectURI: "http://localhost:8080/callback",
		AuthURL:     "https://example.com/auth",
		TokenURL:    "https://example.com/token",
	}

	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
	}{
		{name: "missing name", mutate: func(c *ProviderConfig) { c.Name = "" }},
		{name: "missing client id", mutate: func(c *ProviderConfig) { c.ClientID = "" }},
		{name: "missing token url", mutate: func(c *ProviderConfig) { c.TokenURL = "" }},
		{name: "redirect without port", mutate: func(c *ProviderConfig) { c.RedirectURI = "http://localhost/callback" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewClient(cfg)
			assert.Error(t, err)
		})
	}

	c, err := NewClient(valid)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Name())
	assert.Equal(t, "test", c.Label())
	assert.Equal(t, StateUnauthenticated, c.State())
}

func TestAuthorizationURL(t *testing.T) {
	c, err := NewClient(ProviderConfig{
		Name:        "test",
		ClientID:    "abc",
		RedirectURI: "http://localhost:8080/callback",
		Scopes:      []string{"A", "B"},
		AuthURL:     "https://login.example.com/authorize",
		TokenURL:    "https://login.example.com/token",
		AuthParams:  map[string]string{"response_mode": "query"},
	})
	require.NoError(t, err)

	got := c.AuthorizationURL()
	assert.Equal(t, got, c.AuthorizationURL())
	assert.True(t, strings.HasPrefix(got, "https://login.example.com/authorize?"))
	assert.Contains(t, got, "client_id=abc")
	assert.Contains(t, got, "response_type=code")
	assert.Contains(t, got, "redirect_uri=http%3A%2F%2Flocalhost%3A8080%2Fcallback")
	assert.Contains(t, got, "scope=A+B")
	assert.Contains(t, got, "response_mode=query")
	assert.NotContains(t, got, "state=")
}

func TestEnsureValid_FreshTokenSkipsNetwork(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", RefreshToken: "r", ExpiresAt: clock.Now().Add(time.Hour)})

	require.NoError(t, c.EnsureValid(context.Background()))
	assert.True(t, c.IsAuthenticated(context.Background()))
	assert.Equal(t, 0, fp.TokenCalls())
}

func TestEnsureValid_NoTokenSkipsNetwork(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config(), newFakeClock())

	err := c.EnsureValid(context.Background())
	assert.True(t, IsAuthenticationRequired(err))
	assert.False(t, c.IsAuthenticated(context.Background()))
	assert.Equal(t, 0, fp.TokenCalls())
}

func TestEnsureValid_RefreshesOnceWithinBuffer(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)

	oldExpiry := clock.Now().Add(100 * time.Second)
	seed(c, Session{AccessToken: "old", RefreshToken: "r0", ExpiresAt: oldExpiry})

	require.NoError(t, c.EnsureValid(context.Background()))
	require.Equal(t, 1, fp.TokenCalls())

	form := fp.LastForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "r0", form.Get("refresh_token"))
	assert.Equal(t, "client-id", form.Get("client_id"))

	sess := c.Session()
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, "refresh-1", sess.RefreshToken)
	assert.True(t, sess.ExpiresAt.After(oldExpiry))
	assert.Equal(t, clock.Now().Add(time.Hour), sess.ExpiresAt)

	require.NoError(t, c.EnsureValid(context.Background()))
	assert.Equal(t, 1, fp.TokenCalls())
}

func TestRefresh_Scope(t *testing.T) {
	tests := []struct {
		name            string
		scopeOnExchange bool
		want            string
	}{
		{name: "sent when the provider expects it", scopeOnExchange: true, want: "read offline_access"},
		{name: "omitted otherwise", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			clock := newFakeClock()
			cfg := fp.config()
			cfg.ScopeOnExchange = tt.scopeOnExchange
			c := newTestClient(t, cfg, clock)
			seed(c, Session{AccessToken: "old", RefreshToken: "r0", ExpiresAt: clock.Now().Add(time.Minute)})

			require.NoError(t, c.EnsureValid(context.Background()))

			form := fp.LastForm()
			assert.Equal(t, "refresh_token", form.Get("grant_type"))
			assert.Equal(t, "r0", form.Get("refresh_token"))
			assert.Equal(t, tt.want, form.Get("scope"))
			assert.Equal(t, "access-1", c.Session().AccessToken)
		})
	}
}

func TestEnsureValid_ConcurrentCallersRefreshOnce(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "old", RefreshToken: "r0", ExpiresAt: clock.Now().Add(time.Minute)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.EnsureValid(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fp.TokenCalls())
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Minute)})

	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, 0, fp.TokenCalls())

	err = c.EnsureValid(context.Background())
	assert.True(t, IsAuthenticationRequired(err))
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetTokenReply(func(n int, _ url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{"access_token": "fresh", "expires_in": 600}
	})
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "old", RefreshToken: "keep-me", ExpiresAt: clock.Now()})

	require.NoError(t, c.Refresh(context.Background()))

	sess := c.Session()
	assert.Equal(t, "fresh", sess.AccessToken)
	assert.Equal(t, "keep-me", sess.RefreshToken)
	assert.Equal(t, clock.Now().Add(600*time.Second), sess.ExpiresAt)
}

func TestRefresh_DefaultExpiry(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetTokenReply(func(int, url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{"access_token": "fresh"}
	})
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "old", RefreshToken: "r", ExpiresAt: clock.Now()})

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, clock.Now().Add(DefaultExpiresIn), c.Session().ExpiresAt)
}

func TestRefresh_FailureKeepsSession(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetTokenReply(func(int, url.Values) (int, map[string]any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
	})
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	before := Session{AccessToken: "old", RefreshToken: "r0", ExpiresAt: clock.Now().Add(time.Minute)}
	seed(c, before)

	err := c.Refresh(context.Background())
	var refreshErr *TokenRefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)
	assert.Contains(t, refreshErr.Body, "invalid_grant")
	assert.Equal(t, before, c.Session())

	err = c.EnsureValid(context.Background())
	assert.True(t, IsAuthenticationRequired(err))
	assert.True(t, errors.As(err, &refreshErr))
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()

	var consent string
	c := newTestClient(t, fp.config(), clock,
		WithBrowser(redirectingBrowser(url.Values{"code": {"the-code"}}, &consent)),
	)

	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, StateAuthenticated, c.State())

	consentURL, err := url.Parse(consent)
	require.NoError(t, err)
	redirect := consentURL.Query().Get("redirect_uri")
	assert.NotContains(t, redirect, ":0/")
	assert.NotEmpty(t, consentURL.Query().Get("state"))

	form := fp.LastForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, redirect, form.Get("redirect_uri"))
	assert.Empty(t, form.Get("client_secret"))
	assert.Empty(t, form.Get("scope"))

	sess := c.Session()
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, "refresh-1", sess.RefreshToken)
	assert.Equal(t, clock.Now().Add(time.Hour), sess.ExpiresAt)

	var out map[string]any
	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/me", nil, nil, &out))
	assert.Equal(t, true, out["ok"])

	calls := fp.APICalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer access-1", calls[0].auth)
	assert.Equal(t, "/me", calls[0].path)
}

func TestAuthenticate_ScopeOnExchange(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config()
	cfg.ScopeOnExchange = true
	c := newTestClient(t, cfg, newFakeClock(),
		WithBrowser(redirectingBrowser(url.Values{"code": {"c"}}, nil)),
	)

	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, "read offline_access", fp.LastForm().Get("scope"))
}

func TestAuthenticate_PKCE(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config()
	cfg.PKCE = true

	var consent string
	c := newTestClient(t, cfg, newFakeClock(),
		WithBrowser(redirectingBrowser(url.Values{"code": {"c"}}, &consent)),
	)

	require.NoError(t, c.Authenticate(context.Background()))

	u, err := url.Parse(consent)
	require.NoError(t, err)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, u.Query().Get("code_challenge"))
	assert.NotEmpty(t, fp.LastForm().Get("code_verifier"))
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		browser func(string) error
		reason  string
	}{
		{
			name:    "user declined",
			browser: redirectingBrowser(url.Values{"error": {"access_denied"}}, nil),
			reason:  "access_denied",
		},
		{
			name:    "missing code",
			browser: redirectingBrowser(url.Values{"foo": {"bar"}}, nil),
			reason:  ReasonMissingCode,
		},
		{
			name:    "forged state",
			browser: redirectingBrowser(url.Values{"code": {"c"}, "state": {"forged"}}, nil),
			reason:  ReasonState,
		},
		{
			name:    "browser cannot open",
			browser: func(string) error { return errors.New("no display") },
			reason:  ReasonBrowser,
		},
		{
			name:    "no redirect before timeout",
			browser: func(string) error { return nil },
			reason:  ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			c := newTestClient(t, fp.config(), newFakeClock(),
				WithBrowser(tt.browser),
				WithTimeout(200*time.Millisecond),
			)

			err := c.Authenticate(context.Background())

			var authErr *AuthorizationError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.Equal(t, tt.reason, authErr.Reason)
			assert.True(t, IsAuthorizationError(err))
			assert.Equal(t, StateFailed, c.State())
			assert.Equal(t, 0, fp.TokenCalls())
		})
	}
}

func TestAuthenticate_ExchangeRejected(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetTokenReply(func(int, url.Values) (int, map[string]any) {
		return http.StatusUnauthorized, map[string]any{"error": "invalid_client"}
	})
	c := newTestClient(t, fp.config(), newFakeClock(),
		WithBrowser(redirectingBrowser(url.Values{"code": {"c"}}, nil)),
	)

	err := c.Authenticate(context.Background())

	var exchangeErr *TokenExchangeError
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, http.StatusUnauthorized, exchangeErr.StatusCode)
	assert.Equal(t, StateFailed, c.State())
	assert.False(t, c.Session().Authenticated())

	fp.SetTokenReply(func(int, url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{"access_token": "retry", "expires_in": 3600}
	})
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, StateAuthenticated, c.State())
}

func TestAuthenticate_CancelAndInProgress(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(t, fp.config(), newFakeClock(), WithTimeout(10*time.Second))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Authenticate(context.Background()) }()

	require.Eventually(t, func() bool {
		return c.State() == StateAuthenticating
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, c.Authenticate(context.Background()), ErrAuthenticationInProgress)

	c.Cancel()

	select {
	case err := <-errCh:
		var authErr *AuthorizationError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, ReasonCancelled, authErr.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("authenticate did not return after cancel")
	}
}

func TestAuthenticate_DisconnectDiscardsInFlightTokens(t *testing.T) {
	fp := newFakeProvider(t)

	var c *Client
	redirect := redirectingBrowser(url.Values{"code": {"c"}}, nil)
	c = newTestClient(t, fp.config(), newFakeClock(),
		WithBrowser(func(authURL string) error {
			if err := redirect(authURL); err != nil {
				return err
			}
			c.Disconnect()
			return nil
		}),
	)

	require.Error(t, c.Authenticate(context.Background()))
	assert.False(t, c.Session().Authenticated())
}

func TestDisconnect(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", RefreshToken: "r", ExpiresAt: clock.Now().Add(time.Hour)})

	c.Disconnect()
	c.Disconnect()

	err := c.Request(context.Background(), http.MethodGet, "/me", nil, nil, nil)
	assert.True(t, IsAuthenticationRequired(err))
	assert.Empty(t, fp.APICalls())
	assert.Equal(t, 0, fp.TokenCalls())
	assert.Equal(t, StateUnauthenticated, c.State())
	assert.Equal(t, Session{}, c.Session())
}

func TestRequest_RefreshesAfterIdle(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock,
		WithBrowser(redirectingBrowser(url.Values{"code": {"c"}}, nil)),
	)

	require.NoError(t, c.Authenticate(context.Background()))
	require.Equal(t, 1, fp.TokenCalls())

	clock.Advance(3400 * time.Second)
	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/me", nil, nil, nil))

	assert.Equal(t, 2, fp.TokenCalls())
	assert.Equal(t, "refresh-1", fp.LastForm().Get("refresh_token"))

	calls := fp.APICalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer access-2", calls[0].auth)
}

func TestRequest_BodyAndQuery(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetAPIReply(func(*http.Request) (int, string) {
		return http.StatusCreated, `{"id":"m1"}`
	})
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Hour)})

	var out struct {
		ID string `json:"id"`
	}
	err := c.Request(context.Background(), "post", "/items",
		map[string]string{"name": "x"},
		url.Values{"type": {"scheduled"}},
		&out,
	)
	require.NoError(t, err)
	assert.Equal(t, "m1", out.ID)

	calls := fp.APICalls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "scheduled", calls[0].query.Get("type"))
	assert.Equal(t, "application/json", calls[0].contentType)
	assert.JSONEq(t, `{"name":"x"}`, calls[0].body)
}

func TestDo_RawBody(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetAPIReply(func(*http.Request) (int, string) { return http.StatusAccepted, "" })
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Hour)})

	raw := base64.StdEncoding.EncodeToString([]byte("Subject: hi\r\n\r\nbody"))
	err := c.Do(context.Background(), Call{
		Method:      http.MethodPost,
		Path:        "/send",
		RawBody:     []byte(raw),
		ContentType: "text/plain",
	}, nil)
	require.NoError(t, err)

	calls := fp.APICalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "text/plain", calls[0].contentType)
	assert.Equal(t, raw, calls[0].body)
}

func TestRequest_EmptyBodyLeavesOutUntouched(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetAPIReply(func(*http.Request) (int, string) { return http.StatusNoContent, "" })
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Hour)})

	out := map[string]any{"sentinel": 1}
	require.NoError(t, c.Request(context.Background(), http.MethodDelete, "/meetings/1", nil, nil, &out))
	assert.Equal(t, map[string]any{"sentinel": 1}, out)
}

func TestRequest_Non2xx(t *testing.T) {
	fp := newFakeProvider(t)
	fp.SetAPIReply(func(*http.Request) (int, string) {
		return http.StatusNotFound, `{"error":{"code":"ErrorItemNotFound"}}`
	})
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Hour)})

	err := c.Request(context.Background(), http.MethodGet, "/me/messages/x", nil, nil, nil)

	reqErr, ok := IsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Equal(t, http.MethodGet, reqErr.Method)
	assert.Equal(t, "/me/messages/x", reqErr.Path)
	assert.Contains(t, reqErr.Body, "ErrorItemNotFound")
}

func TestRequest_UnsupportedMethod(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	c := newTestClient(t, fp.config(), clock)
	seed(c, Session{AccessToken: "tok", ExpiresAt: clock.Now().Add(time.Hour)})

	err := c.Request(context.Background(), "TRACE", "/me", nil, nil, nil)
	assert.Error(t, err)
	assert.Empty(t, fp.APICalls())
}

func TestTokenEndpointCredentials(t *testing.T) {
	tests := []struct {
		name       string
		style      oauth2.AuthStyle
		secret     string
		wantHeader string
		wantParams bool
	}{
		{
			name:       "basic header",
			style:      oauth2.AuthStyleInHeader,
			secret:     "s3cret",
			wantHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:s3cret")),
		},
		{
			name:       "public client in params",
			style:      oauth2.AuthStyleInParams,
			wantParams: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			cfg := fp.config()
			cfg.AuthStyle = tt.style
			cfg.ClientSecret = tt.secret
			clock := newFakeClock()
			c := newTestClient(t, cfg, clock)
			seed(c, Session{AccessToken: "old", RefreshToken: "r", ExpiresAt: clock.Now()})

			require.NoError(t, c.Refresh(context.Background()))

			assert.Equal(t, tt.wantHeader, fp.LastTokenAuth())
			form := fp.LastForm()
			if tt.wantParams {
				assert.Equal(t, "client-id", form.Get("client_id"))
			} else {
				assert.Empty(t, form.Get("client_id"))
			}
			assert.Empty(t, form.Get("client_secret"))
		})
	}
}

type memoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func (m *memoryTokenStore) LoadSession(_ context.Context, provider string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[provider]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryTokenStore) SaveSession(_ context.Context, provider string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[provider] = s
	return nil
}

func (m *memoryTokenStore) DeleteSession(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, provider)
	return nil
}

func TestTokenStore_PersistRestoreDelete(t *testing.T) {
	fp := newFakeProvider(t)
	clock := newFakeClock()
	store := &memoryTokenStore{sessions: map[string]Session{}}

	c := newTestClient(t, fp.config(), clock,
		WithTokenStore(store),
		WithBrowser(redirectingBrowser(url.Values{"code": {"c"}}, nil)),
	)
	require.NoError(t, c.Authenticate(context.Background()))
	require.Contains(t, store.sessions, "test")
	assert.Equal(t, "access-1", store.sessions["test"].AccessToken)

	restored := newTestClient(t, fp.config(), clock, WithTokenStore(store))
	require.NoError(t, restored.Restore(context.Background()))
	assert.Equal(t, c.Session(), restored.Session())
	assert.Equal(t, StateAuthenticated, restored.State())

	restored.Disconnect()
	assert.NotContains(t, store.sessions, "test")

	empty := newTestClient(t, fp.config(), clock, WithTokenStore(store))
	require.NoError(t, empty.Restore(context.Background()))
	assert.Equal(t, StateUnauthenticated, empty.State())
}

func TestMatches(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config()
	cfg.AuthParams = map[string]string{"prompt": "select_account"}
	c := newTestClient(t, cfg, newFakeClock())

	same := fp.config()
	same.AuthParams = map[string]string{"prompt": "select_account"}
	assert.True(t, c.Matches(same))

	tests := []struct {
		name   string
		change func(*ProviderConfig)
	}{
		{name: "client id", change: func(p *ProviderConfig) { p.ClientID = "other" }},
		{name: "scopes", change: func(p *ProviderConfig) { p.Scopes = []string{"read"} }},
		{name: "auth params", change: func(p *ProviderConfig) { p.AuthParams = nil }},
		{name: "pkce", change: func(p *ProviderConfig) { p.PKCE = true }},
		{name: "token url", change: func(p *ProviderConfig) { p.TokenURL += "/v2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := same
			changed.Scopes = slices.Clone(same.Scopes)
			changed.AuthParams = maps.Clone(same.AuthParams)
			tt.change(&changed)
			assert.False(t, c.Matches(changed))
		})
	}
}
