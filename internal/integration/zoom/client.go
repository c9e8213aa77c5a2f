package zoom

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mail-automation/internal/integration"
	"github.com/nhle/mail-automation/internal/oauth"
)

const (
	// DefaultRedirectURI is registered on the Zoom OAuth app.
	DefaultRedirectURI = "http://localhost:8081/zoom/callback"

	AuthURL    = "https://zoom.us/oauth/authorize"
	TokenURL   = "https://zoom.us/oauth/token"
	APIBaseURL = "https://api.zoom.us/v2"

	// startTimeLayout is the UTC form Zoom expects for start_time.
	startTimeLayout = "2006-01-02T15:04:05Z"

	defaultListType      = "scheduled"
	defaultQuickDuration = 60
	quickStartDelay      = 5 * time.Minute
)

// DefaultScopes are the Zoom scopes the app requests.
var DefaultScopes = []string{"meeting:write", "meeting:read", "user:read"}

// defaultSettings are applied to every created meeting. They are merged
// over the caller's settings, so on a key collision these values win.
var defaultSettings = map[string]any{
	"host_video":        true,
	"participant_video": true,
	"join_before_host":  false,
	"mute_upon_entry":   true,
	"watermark":         false,
	"use_pmi":           false,
	"approval_type":     0,
	"audio":             "both",
	"auto_recording":    "none",
	"waiting_room":      false,
}

// Settings are the user-configurable parts of the Zoom OAuth app.
type Settings struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// OAuthConfig returns the provider configuration for Zoom OAuth. Zoom is
// a confidential client and takes its credentials as HTTP Basic auth.
func OAuthConfig(s Settings) oauth.ProviderConfig {
	redirect := s.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}
	scopes := s.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return oauth.ProviderConfig{
		Name:         string(integration.ProviderZoom),
		Label:        "Zoom",
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURI:  redirect,
		Scopes:       scopes,
		AuthURL:      AuthURL,
		TokenURL:     TokenURL,
		APIBaseURL:   APIBaseURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the time source used for quick meetings.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is the meeting façade over the Zoom v2 API.
type Client struct {
	api integration.Requester
	now func() time.Time
}

// NewClient wraps an authenticated requester.
func NewClient(api integration.Requester, opts ...Option) *Client {
	c := &Client{api: api, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me returns the signed-in Zoom user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var me User
	if err := c.api.Request(ctx, http.MethodGet, "/users/me", nil, nil, &me); err != nil {
		return nil, fmt.Errorf("fetching Zoom profile: %w", err)
	}
	return &me, nil
}

// Profile implements integration.Profiler.
func (c *Client) Profile(ctx context.Context) (integration.Profile, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return integration.Profile{}, err
	}
	return integration.Profile{DisplayName: me.Name(), Email: me.Email}, nil
}

// CreateMeeting schedules m for the signed-in user. The built-in default
// settings override caller settings with the same key; m itself is not
// modified.
func (c *Client) CreateMeeting(ctx context.Context, m Meeting) (*Meeting, error) {
	m.Settings = mergeSettings(m.Settings)

	var created Meeting
	if err := c.api.Request(ctx, http.MethodPost, "/users/me/meetings", m, nil, &created); err != nil {
		return nil, fmt.Errorf("creating meeting: %w", err)
	}
	return &created, nil
}

func mergeSettings(caller map[string]any) map[string]any {
	merged := make(map[string]any, len(caller)+len(defaultSettings))
	maps.Copy(merged, caller)
	maps.Copy(merged, defaultSettings)
	return merged
}

// Meetings lists the user's meetings of meetingType ("scheduled" when
// empty, or "live", "upcoming", ...).
func (c *Client) Meetings(ctx context.Context, meetingType string) ([]Meeting, error) {
	if meetingType == "" {
		meetingType = defaultListType
	}
	query := url.Values{"type": {meetingType}}

	var resp meetingList
	if err := c.api.Request(ctx, http.MethodGet, "/users/me/meetings", nil, query, &resp); err != nil {
		return nil, fmt.Errorf("listing %s meetings: %w", meetingType, err)
	}
	return resp.Meetings, nil
}

// Meeting returns a single meeting by id.
func (c *Client) Meeting(ctx context.Context, id string) (*Meeting, error) {
	var m Meeting
	if err := c.api.Request(ctx, http.MethodGet, meetingPath(id), nil, nil, &m); err != nil {
		return nil, fmt.Errorf("fetching meeting %s: %w", id, err)
	}
	return &m, nil
}

// UpdateMeeting patches meeting id with the non-empty fields of m.
func (c *Client) UpdateMeeting(ctx context.Context, id string, m Meeting) error {
	if err := c.api.Request(ctx, http.MethodPatch, meetingPath(id), m, nil, nil); err != nil {
		return fmt.Errorf("updating meeting %s: %w", id, err)
	}
	return nil
}

// DeleteMeeting deletes meeting id.
func (c *Client) DeleteMeeting(ctx context.Context, id string) error {
	if err := c.api.Request(ctx, http.MethodDelete, meetingPath(id), nil, nil, nil); err != nil {
		return fmt.Errorf("deleting meeting %s: %w", id, err)
	}
	return nil
}

// CreateQuickMeeting schedules a UTC meeting with minimal configuration.
// A zero start means five minutes from now; a non-positive duration means
// 60 minutes.
func (c *Client) CreateQuickMeeting(
	ctx context.Context,
	topic string,
	duration int,
	start time.Time,
) (*Meeting, error) {
	if start.IsZero() {
		start = c.now().Add(quickStartDelay)
	}
	if duration <= 0 {
		duration = defaultQuickDuration
	}

	return c.CreateMeeting(ctx, Meeting{
		Topic:     topic,
		Type:      MeetingTypeScheduled,
		StartTime: start.UTC().Format(startTimeLayout),
		Duration:  duration,
		Timezone:  "UTC",
		Settings: map[string]any{
			"host_video":        true,
			"participant_video": true,
			"join_before_host":  true,
			"mute_upon_entry":   true,
			"waiting_room":      false,
		},
	})
}

func meetingPath(id string) string {
	return "/meetings/" + url.PathEscape(id)
}
