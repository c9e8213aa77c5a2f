package connect

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/mail-automation/internal/integration"
	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/oauth"
	"github.com/nhle/mail-automation/internal/store"
)

// ErrAborted is the result of an attempt that was overtaken by a
// disconnect or by re-registering the provider. Nothing is recorded for it.
var ErrAborted = errors.New("connection attempt aborted")

// profileTimeout bounds the profile fetch that follows a successful
// authorization.
const profileTimeout = 30 * time.Second

// Authenticator is the part of *oauth.Client the connector drives.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	IsAuthenticated(ctx context.Context) bool
	Disconnect()
	Cancel()
}

// Status holds the connection state for a single provider.
type Status struct {
	Provider    integration.ProviderType
	State       oauth.State
	Profile     integration.Profile
	ConnectedAt time.Time
	Error       error
}

// Result is the outcome of one connection attempt.
type Result struct {
	Provider integration.ProviderType
	Profile  integration.Profile
	Err      error
}

// ResultMsg is a tea.Msg sent when a connection attempt completes.
type ResultMsg Result

// DisconnectedMsg is a tea.Msg sent after a provider is disconnected.
type DisconnectedMsg struct {
	Provider integration.ProviderType
	Err      error
}

// providerEntry holds a registered provider and its current status.
type providerEntry struct {
	auth     Authenticator
	profiler integration.Profiler
	status   Status
}

// Connector runs provider authorizations off the UI goroutine and records
// their outcome in the store.
type Connector struct {
	store   store.Store
	log     zerolog.Logger
	now     func() time.Time
	mu      gosync.Mutex
	entries map[integration.ProviderType]*providerEntry
	order   []integration.ProviderType
}

// New creates a Connector that records status and activity in s.
func New(s store.Store, logger zerolog.Logger) *Connector {
	return &Connector{
		store:   s,
		log:     logger.With().Str("component", "connect").Logger(),
		now:     time.Now,
		entries: make(map[integration.ProviderType]*providerEntry),
	}
}

// Register adds a provider. Registering the same Authenticator again only
// swaps the profiler and keeps the current status. A different
// Authenticator replaces the entry and cancels any sign-in still running on
// the old one.
func (c *Connector) Register(
	pt integration.ProviderType,
	auth Authenticator,
	profiler integration.Profiler,
) {
	c.mu.Lock()
	old, ok := c.entries[pt]
	if ok && old.auth == auth {
		old.profiler = profiler
		c.mu.Unlock()
		return
	}
	if !ok {
		c.order = append(c.order, pt)
	}
	c.entries[pt] = &providerEntry{
		auth:     auth,
		profiler: profiler,
		status:   Status{Provider: pt, State: oauth.StateUnauthenticated},
	}
	c.mu.Unlock()

	if ok {
		old.auth.Cancel()
		c.log.Debug().Str("provider", string(pt)).Msg("provider replaced")
	}
}

// Providers returns the registered provider types in registration order.
func (c *Connector) Providers() []integration.ProviderType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]integration.ProviderType(nil), c.order...)
}

// Statuses returns the current status of all registered providers.
func (c *Connector) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]Status, 0, len(c.order))
	for _, pt := range c.order {
		statuses = append(statuses, c.entries[pt].status)
	}
	return statuses
}

// Status returns the current status of pt.
func (c *Connector) Status(pt integration.ProviderType) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[pt]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

// ConnectAsync marks pt as connecting and authorizes it in a goroutine.
// The returned channel yields exactly one Result.
func (c *Connector) ConnectAsync(ctx context.Context, pt integration.ProviderType) <-chan Result {
	ch := make(chan Result, 1)

	e, ok := c.lookup(pt)
	if !ok {
		ch <- Result{Provider: pt, Err: fmt.Errorf("connecting: unknown provider %q", pt)}
		close(ch)
		return ch
	}

	if c.setConnecting(pt) {
		c.record(ctx, model.Integration{
			Provider: string(pt),
			Status:   model.StatusConnecting,
		})
	}

	go func() {
		defer close(ch)
		ch <- c.connect(ctx, pt, e)
	}()

	return ch
}

// Connect returns a tea.Cmd that authorizes pt and yields a ResultMsg.
// The attempt starts immediately; the command only waits for it.
func (c *Connector) Connect(pt integration.ProviderType) tea.Cmd {
	ch := c.ConnectAsync(context.Background(), pt)
	return func() tea.Msg {
		return ResultMsg(<-ch)
	}
}

// connect runs the authorization and the follow-up profile fetch.
func (c *Connector) connect(ctx context.Context, pt integration.ProviderType, e *providerEntry) Result {
	err := e.auth.Authenticate(ctx)
	if errors.Is(err, oauth.ErrAuthenticationInProgress) {
		return Result{Provider: pt, Err: err}
	}
	if c.aborted(pt, e) {
		c.log.Debug().Str("provider", string(pt)).Msg("connection attempt aborted")
		return Result{Provider: pt, Err: ErrAborted}
	}
	if err != nil {
		c.fail(ctx, pt, err)
		return Result{Provider: pt, Err: err}
	}

	profile := c.complete(ctx, pt, e)
	c.activity(ctx, pt, "Connected to "+pt.Label())
	return Result{Provider: pt, Profile: profile}
}

// Resume marks pt connected when it already holds a usable session, e.g.
// one restored from the token store. It reports whether it did.
func (c *Connector) Resume(ctx context.Context, pt integration.ProviderType) (integration.Profile, bool) {
	e, ok := c.lookup(pt)
	if !ok || !e.auth.IsAuthenticated(ctx) {
		return integration.Profile{}, false
	}
	return c.complete(ctx, pt, e), true
}

// ResumeAll returns a tea.Cmd that resumes every registered provider. Each
// resumed provider yields a ResultMsg.
func (c *Connector) ResumeAll() tea.Cmd {
	var cmds []tea.Cmd
	for _, pt := range c.Providers() {
		cmds = append(cmds, func() tea.Msg {
			profile, ok := c.Resume(context.Background(), pt)
			if !ok {
				return nil
			}
			return ResultMsg{Provider: pt, Profile: profile}
		})
	}
	return tea.Batch(cmds...)
}

// complete fetches the profile and marks pt connected. A failed profile
// fetch does not fail the connection; the generic name is shown instead.
func (c *Connector) complete(ctx context.Context, pt integration.ProviderType, e *providerEntry) integration.Profile {
	var profile integration.Profile
	if e.profiler != nil {
		pctx, cancel := context.WithTimeout(ctx, profileTimeout)
		p, err := e.profiler.Profile(pctx)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("provider", string(pt)).Msg("fetching profile")
		} else {
			profile = p
		}
	}

	now := c.now()
	c.mu.Lock()
	e.status = Status{
		Provider:    pt,
		State:       oauth.StateAuthenticated,
		Profile:     profile,
		ConnectedAt: now,
	}
	c.mu.Unlock()

	c.record(ctx, model.Integration{
		Provider:    string(pt),
		Status:      model.StatusConnected,
		DisplayName: profile.Name(),
		Email:       profile.Email,
		ConnectedAt: &now,
	})
	c.log.Info().Str("provider", string(pt)).Msg("connected")

	return profile
}

// fail marks pt failed and records the error.
func (c *Connector) fail(ctx context.Context, pt integration.ProviderType, err error) {
	c.mu.Lock()
	if e, ok := c.entries[pt]; ok {
		e.status = Status{Provider: pt, State: oauth.StateFailed, Error: err}
	}
	c.mu.Unlock()

	c.record(ctx, model.Integration{
		Provider:  string(pt),
		Status:    model.StatusFailed,
		LastError: err.Error(),
	})
	c.activity(ctx, pt, fmt.Sprintf("Failed to connect to %s", pt.Label()))
}

// Disconnect clears pt's session and records the change. It is idempotent.
func (c *Connector) Disconnect(ctx context.Context, pt integration.ProviderType) error {
	e, ok := c.lookup(pt)
	if !ok {
		return fmt.Errorf("disconnecting: unknown provider %q", pt)
	}

	e.auth.Disconnect()

	c.mu.Lock()
	e.status = Status{Provider: pt, State: oauth.StateUnauthenticated}
	c.mu.Unlock()

	c.record(ctx, model.Integration{
		Provider: string(pt),
		Status:   model.StatusDisconnected,
	})
	c.activity(ctx, pt, "Disconnected from "+pt.Label())

	return nil
}

// DisconnectCmd returns a tea.Cmd that disconnects pt and yields a
// DisconnectedMsg.
func (c *Connector) DisconnectCmd(pt integration.ProviderType) tea.Cmd {
	return func() tea.Msg {
		err := c.Disconnect(context.Background(), pt)
		return DisconnectedMsg{Provider: pt, Err: err}
	}
}

// Cancel aborts an in-flight connection attempt for pt.
func (c *Connector) Cancel(pt integration.ProviderType) {
	if e, ok := c.lookup(pt); ok {
		e.auth.Cancel()
	}
}

func (c *Connector) lookup(pt integration.ProviderType) (*providerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pt]
	return e, ok
}

// aborted reports whether e's attempt was overtaken: e is no longer the
// registered entry, or it left the authenticating state while the
// sign-in ran.
func (c *Connector) aborted(pt integration.ProviderType, e *providerEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[pt] != e || e.status.State != oauth.StateAuthenticating
}

// setConnecting moves pt into the authenticating state. It reports false
// when an attempt is already running.
func (c *Connector) setConnecting(pt integration.ProviderType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[pt]
	if e.status.State == oauth.StateAuthenticating {
		return false
	}
	e.status = Status{Provider: pt, State: oauth.StateAuthenticating}
	return true
}

// record upserts the integration row. Store failures are logged only;
// they never fail a connection.
func (c *Connector) record(ctx context.Context, in model.Integration) {
	if c.store == nil {
		return
	}
	if err := c.store.UpsertIntegration(ctx, in); err != nil {
		c.log.Warn().Err(err).Str("provider", in.Provider).Msg("recording integration status")
	}
}

func (c *Connector) activity(ctx context.Context, pt integration.ProviderType, msg string) {
	if c.store == nil {
		return
	}
	err := c.store.AddActivity(ctx, model.Activity{
		Provider:  string(pt),
		Message:   msg,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("provider", string(pt)).Msg("recording activity")
	}
}
