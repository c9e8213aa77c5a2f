package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	// DefaultAuthTimeout bounds how long Authenticate waits for the
	// browser redirect.
	DefaultAuthTimeout = 60 * time.Second

	// DefaultRefreshBuffer is how far ahead of expiry a token is treated
	// as stale.
	DefaultRefreshBuffer = 300 * time.Second

	// DefaultExpiresIn applies when a token response omits expires_in.
	DefaultExpiresIn = 3600 * time.Second

	requestTimeout = 30 * time.Second
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// ProviderConfig describes one OAuth2 authorization-code provider.
type ProviderConfig struct {
	Name         string
	Label        string
	ClientID     string
	ClientSecret string

	// RedirectURI must carry an explicit port; the loopback listener binds
	// it. Port 0 binds an ephemeral port and rewrites the redirect per
	// attempt.
	RedirectURI string
	Scopes      []string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	// AuthStyle selects form params or an HTTP Basic header for client
	// credentials at the token endpoint.
	AuthStyle oauth2.AuthStyle

	// AuthParams are extra query parameters on the consent URL.
	AuthParams map[string]string

	// ScopeOnExchange sends scope with the authorization_code and
	// refresh_token grants.
	ScopeOnExchange bool

	// PKCE adds an S256 code challenge to the consent URL.
	PKCE bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for token and API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithBrowser overrides how the consent URL is opened.
func WithBrowser(open func(url string) error) Option {
	return func(c *Client) { c.openBrowser = open }
}

// WithTimeout sets how long Authenticate waits for the redirect. A
// non-positive d keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRefreshBuffer sets the expiry safety margin.
func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Client) { c.buffer = d }
}

// WithTokenStore persists sessions after every successful grant.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

// Client owns the token lifecycle for one provider: consent, exchange,
// lazy refresh, and authenticated request dispatch. It is safe for
// concurrent use.
type Client struct {
	cfg          ProviderConfig
	oauth        *oauth2.Config
	redirect     *url.URL
	redirectPort int

	http        *http.Client
	log         zerolog.Logger
	now         func() time.Time
	openBrowser func(string) error
	timeout     time.Duration
	buffer      time.Duration
	tokens      TokenStore

	mu             sync.Mutex
	session        Session
	authenticating bool
	failed         bool
	generation     uint64
	cancelAuth     context.CancelFunc
}

// NewClient validates cfg and returns an unauthenticated client.
func NewClient(cfg ProviderConfig, opts ...Option) (*Client, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%s: client id is required", cfg.Name)
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("%s: auth and token urls are required", cfg.Name)
	}

	redirect, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%s: parsing redirect uri: %w", cfg.Name, err)
	}
	if redirect.Port() == "" {
		return nil, fmt.Errorf("%s: redirect uri %q must include a port", cfg.Name, cfg.RedirectURI)
	}
	port, err := strconv.Atoi(redirect.Port())
	if err != nil {
		return nil, fmt.Errorf("%s: invalid redirect port: %w", cfg.Name, err)
	}
	if cfg.Label == "" {
		cfg.Label = cfg.Name
	}

	c := &Client{
		cfg:          cfg,
		redirect:     redirect,
		redirectPort: port,
		http:         &http.Client{Timeout: requestTimeout},
		log:          zerolog.Nop(),
		now:          time.Now,
		openBrowser:  browser.OpenURL,
		timeout:      DefaultAuthTimeout,
		buffer:       DefaultRefreshBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("provider", cfg.Name).Logger()
	c.oauth = c.oauthConfig(cfg.RedirectURI)

	return c, nil
}

func (c *Client) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthURL,
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: c.cfg.AuthStyle,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.cfg.Name }

// Label returns the provider's display name.
func (c *Client) Label() string { return c.cfg.Label }

// Matches reports whether cfg describes the provider this client was built
// for, so an existing session can be kept.
func (c *Client) Matches(cfg ProviderConfig) bool {
	if cfg.Label == "" {
		cfg.Label = cfg.Name
	}
	if !slices.Equal(c.cfg.Scopes, cfg.Scopes) || !maps.Equal(c.cfg.AuthParams, cfg.AuthParams) {
		return false
	}

	a, b := c.cfg, cfg
	a.Scopes, b.Scopes = nil, nil
	a.AuthParams, b.AuthParams = nil, nil
	return reflect.DeepEqual(a, b)
}

// AuthorizationURL returns the consent URL. It depends only on the
// provider configuration.
func (c *Client) AuthorizationURL() string {
	return c.oauth.AuthCodeURL("", c.authParams()...)
}

func (c *Client) authParams() []oauth2.AuthCodeOption {
	opts := make([]oauth2.AuthCodeOption, 0, len(c.cfg.AuthParams))
	for k, v := range c.cfg.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return opts
}

// Authenticate runs the interactive authorization-code flow: it binds the
// loopback listener, opens the browser, waits for the redirect, and
// exchanges the code. Only one authentication may run at a time.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	if c.authenticating {
		c.mu.Unlock()
		return ErrAuthenticationInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.authenticating = true
	c.cancelAuth = cancel
	gen := c.generation
	c.mu.Unlock()

	sess, err := c.authorize(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticating = false
	c.cancelAuth = nil

	if err == nil && gen != c.generation {
		err = &AuthorizationError{Provider: c.cfg.Name, Reason: ReasonCancelled}
	}
	if err != nil {
		c.failed = true
		c.logFailure("authentication failed", err)
		return err
	}

	if sess.RefreshToken == "" {
		sess.RefreshToken = c.session.RefreshToken
	}
	c.session = sess
	c.failed = false
	c.persistLocked(ctx)
	c.log.Info().Msg("authenticated")

	return nil
}

func (c *Client) authorize(ctx context.Context) (Session, error) {
	state := uuid.NewString()
	ln, err := Listen(ListenConfig{
		Host:   c.redirect.Hostname(),
		Port:   c.redirectPort,
		Path:   c.redirect.Path,
		Label:  c.cfg.Label,
		State:  state,
		Logger: c.log,
	})
	if err != nil {
		return Session{}, &AuthorizationError{Provider: c.cfg.Name, Reason: ReasonListener, Err: err}
	}

	conf := c.oauth
	if c.redirectPort == 0 {
		u := *c.redirect
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(ln.Port()))
		conf = c.oauthConfig(u.String())
	}

	opts := c.authParams()
	var verifier string
	if c.cfg.PKCE {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	if err := c.openBrowser(conf.AuthCodeURL(state, opts...)); err != nil {
		ln.Close()
		return Session{}, &AuthorizationError{Provider: c.cfg.Name, Reason: ReasonBrowser, Err: err}
	}
	c.log.Debug().Msg("waiting for authorization callback")

	res := ln.Wait(ctx, c.timeout)
	if !res.OK() {
		return Session{}, &AuthorizationError{Provider: c.cfg.Name, Reason: res.Error}
	}

	return c.exchange(ctx, conf, res.Code, verifier)
}

func (c *Client) exchange(
	ctx context.Context,
	conf *oauth2.Config,
	code, verifier string,
) (Session, error) {
	var opts []oauth2.AuthCodeOption
	if c.cfg.ScopeOnExchange && len(c.cfg.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(c.cfg.Scopes, " ")))
	}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := conf.Exchange(c.httpContext(ctx), code, opts...)
	if err != nil {
		status, body := retrieveDetails(err)
		return Session{}, &TokenExchangeError{
			Provider:   c.cfg.Name,
			StatusCode: status,
			Body:       body,
			Err:        err,
		}
	}

	return Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    c.now().Add(expiresIn(tok)),
	}, nil
}

// Refresh exchanges the refresh token for a new access token. The refresh
// token is rotated only when the provider issues a new one. On failure the
// session is left untouched.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if c.session.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	src := c.oauth.TokenSource(c.refreshContext(ctx), &oauth2.Token{RefreshToken: c.session.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		status, body := retrieveDetails(err)
		refreshErr := &TokenRefreshError{
			Provider:   c.cfg.Name,
			StatusCode: status,
			Body:       body,
			Err:        err,
		}
		c.logFailure("token refresh failed", refreshErr)
		return refreshErr
	}

	c.session.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.session.RefreshToken = tok.RefreshToken
	}
	c.session.ExpiresAt = c.now().Add(expiresIn(tok))
	c.persistLocked(ctx)
	c.log.Debug().Time("expires_at", c.session.ExpiresAt).Msg("access token refreshed")

	return nil
}

// EnsureValid returns nil when the access token outlives the refresh
// buffer, refreshing once if it does not. It fails with
// AuthenticationRequiredError when no token is held or refresh fails.
func (c *Client) EnsureValid(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.validTokenLocked(ctx)
	return err
}

func (c *Client) validTokenLocked(ctx context.Context) (string, error) {
	if !c.session.Authenticated() {
		return "", &AuthenticationRequiredError{Provider: c.cfg.Name}
	}
	if c.session.validAt(c.now(), c.buffer) {
		return c.session.AccessToken, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return "", &AuthenticationRequiredError{Provider: c.cfg.Name, Err: err}
	}
	return c.session.AccessToken, nil
}

// IsAuthenticated reports whether a usable access token is held. It may
// refresh.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.EnsureValid(ctx) == nil
}

// Call is a single authenticated API request. RawBody takes precedence
// over Body, which is sent as JSON.
type Call struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	RawBody     []byte
	ContentType string
}

// Request issues an authenticated JSON request against the provider API
// and decodes a non-empty response into out.
func (c *Client) Request(
	ctx context.Context,
	method, path string,
	body any,
	query url.Values,
	out any,
) error {
	return c.Do(ctx, Call{Method: method, Path: path, Query: query, Body: body}, out)
}

// Do issues call with a valid bearer token. A non-2xx response returns a
// RequestError. An empty success body leaves out untouched.
func (c *Client) Do(ctx context.Context, call Call, out any) error {
	method := strings.ToUpper(call.Method)
	if !allowedMethods[method] {
		return fmt.Errorf("unsupported method %q", call.Method)
	}

	c.mu.Lock()
	token, err := c.validTokenLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	reqURL := c.cfg.APIBaseURL + call.Path
	if len(call.Query) > 0 {
		reqURL += "?" + call.Query.Encode()
	}

	var (
		reader      io.Reader
		contentType string
	)
	switch {
	case call.RawBody != nil:
		reader = bytes.NewReader(call.RawBody)
		contentType = call.ContentType
	case call.Body != nil:
		data, err := json.Marshal(call.Body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, call.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{
			Provider:   c.cfg.Name,
			Method:     method,
			Path:       call.Path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		c.logFailure("api request failed", reqErr)
		return reqErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, call.Path, err)
	}

	return nil
}

// Disconnect clears the session, cancels any in-flight authentication, and
// deletes persisted tokens. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.session = Session{}
	c.failed = false
	c.generation++
	cancel := c.cancelAuth
	c.cancelAuth = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.tokens != nil {
		if err := c.tokens.DeleteSession(context.Background(), c.cfg.Name); err != nil {
			c.log.Warn().Err(err).Msg("deleting stored session")
		}
	}
	c.log.Info().Msg("disconnected")
}

// Cancel aborts an in-flight Authenticate. It is a no-op otherwise.
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancelAuth
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State reports where the client is in its authentication lifecycle.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.authenticating:
		return StateAuthenticating
	case c.session.Authenticated():
		return StateAuthenticated
	case c.failed:
		return StateFailed
	default:
		return StateUnauthenticated
	}
}

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Restore loads a persisted session from the token store. Without a store,
// or when nothing is stored, it does nothing.
func (c *Client) Restore(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}
	sess, err := c.tokens.LoadSession(ctx, c.cfg.Name)
	if err != nil {
		return fmt.Errorf("restoring %s session: %w", c.cfg.Name, err)
	}
	if sess == nil || !sess.Authenticated() {
		return nil
	}

	c.mu.Lock()
	c.session = *sess
	c.mu.Unlock()
	c.log.Debug().Msg("session restored")

	return nil
}

func (c *Client) persistLocked(ctx context.Context) {
	if c.tokens == nil {
		return
	}
	if err := c.tokens.SaveSession(ctx, c.cfg.Name, c.session); err != nil {
		c.log.Warn().Err(err).Msg("saving session")
	}
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// refreshContext is httpContext with scope added to the refresh_token
// grant when the provider expects it there.
func (c *Client) refreshContext(ctx context.Context) context.Context {
	if !c.cfg.ScopeOnExchange || len(c.cfg.Scopes) == 0 {
		return c.httpContext(ctx)
	}
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = &scopeTransport{base: base, scope: strings.Join(c.cfg.Scopes, " ")}
	return context.WithValue(ctx, oauth2.HTTPClient, &hc)
}

// scopeTransport adds scope to refresh_token grant forms that lack one.
type scopeTransport struct {
	base  http.RoundTripper
	scope string
}

func (t *scopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading token request: %w", err)
	}

	form, err := url.ParseQuery(string(data))
	if err == nil && form.Get("grant_type") == "refresh_token" && form.Get("scope") == "" {
		form.Set("scope", t.scope)
		data = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.ContentLength = int64(len(data))

	return t.base.RoundTrip(out)
}

// logFailure records err by kind and status only. Provider bodies and
// codes stay out of the log.
func (c *Client) logFailure(msg string, err error) {
	ev := c.log.Error()

	var (
		authErr     *AuthorizationError
		exchangeErr *TokenExchangeError
		refreshErr  *TokenRefreshError
		reqErr      *RequestError
	)
	switch {
	case errors.As(err, &authErr):
		ev = ev.Str("reason", authErr.Reason)
		if authErr.Err != nil {
			ev = ev.AnErr("cause", authErr.Err)
		}
	case errors.As(err, &exchangeErr):
		ev = ev.Str("grant", "authorization_code").Int("status", exchangeErr.StatusCode)
	case errors.As(err, &refreshErr):
		ev = ev.Str("grant", "refresh_token").Int("status", refreshErr.StatusCode)
	case errors.As(err, &reqErr):
		ev = ev.Str("method", reqErr.Method).Str("path", reqErr.Path).Int("status", reqErr.StatusCode)
	default:
		ev = ev.Err(err)
	}

	ev.Msg(msg)
}

func retrieveDetails(err error) (int, string) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return 0, ""
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	return status, string(re.Body)
}

// expiresIn reads expires_in from the raw token response. JSON responses
// decode numbers as float64; form-encoded ones as int64 or string.
func expiresIn(tok *oauth2.Token) time.Duration {
	var secs float64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return DefaultExpiresIn
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return DefaultExpiresIn
		}
		secs = f
	default:
		return DefaultExpiresIn
	}
	return time.Duration(secs * float64(time.Second))
}
