package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mail-automation/internal/integration"
	"github.com/nhle/mail-automation/internal/oauth"
)

const (
	// DefaultTenant signs in both work/school and personal accounts.
	DefaultTenant = "common"

	// DefaultRedirectURI is registered on the app in Azure.
	DefaultRedirectURI = "http://localhost:8080/callback"

	AuthorityBaseURL = "https://login.microsoftonline.com"
	APIBaseURL       = "https://graph.microsoft.com/v1.0"
)

// DefaultScopes are the delegated permissions the app requests.
var DefaultScopes = []string{
	"Mail.ReadWrite",
	"Mail.Send",
	"MailboxSettings.Read",
	"Calendars.ReadWrite",
	"User.Read",
	"offline_access",
}

// messageFields are selected when listing messages.
const messageFields = "id,subject,from,toRecipients,receivedDateTime,bodyPreview,isRead"

const (
	defaultFolder = "inbox"
	defaultLimit  = 10
)

// Settings are the user-configurable parts of the Graph app registration.
type Settings struct {
	ClientID    string
	TenantID    string
	RedirectURI string
	Scopes      []string
	PKCE        bool
}

// OAuthConfig returns the provider configuration for the Microsoft
// identity platform v2.0 endpoints. Graph is a public client: the client
// id travels in the form and no secret is sent.
func OAuthConfig(s Settings) oauth.ProviderConfig {
	tenant := s.TenantID
	if tenant == "" {
		tenant = DefaultTenant
	}
	redirect := s.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}
	scopes := s.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	authority := AuthorityBaseURL + "/" + tenant

	return oauth.ProviderConfig{
		Name:            string(integration.ProviderGraph),
		Label:           "Microsoft",
		ClientID:        s.ClientID,
		RedirectURI:     redirect,
		Scopes:          scopes,
		AuthURL:         authority + "/oauth2/v2.0/authorize",
		TokenURL:        authority + "/oauth2/v2.0/token",
		APIBaseURL:      APIBaseURL,
		AuthStyle:       oauth2.AuthStyleInParams,
		AuthParams:      map[string]string{"response_mode": "query"},
		ScopeOnExchange: true,
		PKCE:            s.PKCE,
	}
}

// Client is the mailbox façade over Microsoft Graph v1.0.
type Client struct {
	api integration.Requester
	now func() time.Time
}

// NewClient wraps an authenticated requester.
func NewClient(api integration.Requester) *Client {
	return &Client{api: api, now: time.Now}
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var me User
	if err := c.api.Request(ctx, http.MethodGet, "/me", nil, nil, &me); err != nil {
		return nil, fmt.Errorf("fetching Graph profile: %w", err)
	}
	return &me, nil
}

// Profile implements integration.Profiler.
func (c *Client) Profile(ctx context.Context) (integration.Profile, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return integration.Profile{}, err
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return integration.Profile{DisplayName: me.DisplayName, Email: email}, nil
}

// Messages lists the newest messages in folder. An empty folder means the
// inbox; a non-positive limit means 10.
func (c *Client) Messages(ctx context.Context, folder string, limit int) ([]Message, error) {
	if folder == "" {
		folder = defaultFolder
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	query := url.Values{}
	query.Set("$top", strconv.Itoa(limit))
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$select", messageFields)

	var resp listResponse[Message]
	path := "/me/mailFolders/" + url.PathEscape(folder) + "/messages"
	if err := c.api.Request(ctx, http.MethodGet, path, nil, query, &resp); err != nil {
		return nil, fmt.Errorf("listing messages in %s: %w", folder, err)
	}
	return resp.Value, nil
}

// CreateDraft saves msg to the Drafts folder and returns the created item.
func (c *Client) CreateDraft(ctx context.Context, msg Message) (*Message, error) {
	var created Message
	if err := c.api.Request(ctx, http.MethodPost, "/me/messages", msg, nil, &created); err != nil {
		return nil, fmt.Errorf("creating draft: %w", err)
	}
	return &created, nil
}

// SendMail sends msg immediately.
func (c *Client) SendMail(ctx context.Context, msg Message) error {
	body := map[string]any{"message": msg}
	if err := c.api.Request(ctx, http.MethodPost, "/me/sendMail", body, nil, nil); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

// SendMIME sends a composed RFC 5322 message. Graph takes the MIME
// content base64 encoded as text/plain.
func (c *Client) SendMIME(ctx context.Context, comp Composition) error {
	raw, err := comp.Encode(c.now())
	if err != nil {
		return err
	}
	call := oauth.Call{
		Method:      http.MethodPost,
		Path:        "/me/sendMail",
		RawBody:     raw,
		ContentType: "text/plain",
	}
	if err := c.api.Do(ctx, call, nil); err != nil {
		return fmt.Errorf("sending MIME message: %w", err)
	}
	return nil
}

// Folders lists the top-level mail folders.
func (c *Client) Folders(ctx context.Context) ([]MailFolder, error) {
	var resp listResponse[MailFolder]
	if err := c.api.Request(ctx, http.MethodGet, "/me/mailFolders", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing mail folders: %w", err)
	}
	return resp.Value, nil
}

// Signature returns the internal automatic-reply message, which the app
// uses as the user's signature. It is empty when none is set.
func (c *Client) Signature(ctx context.Context) (string, error) {
	var settings mailboxSettings
	if err := c.api.Request(ctx, http.MethodGet, "/me/mailboxSettings", nil, nil, &settings); err != nil {
		return "", fmt.Errorf("fetching mailbox settings: %w", err)
	}
	if settings.AutomaticRepliesSetting == nil {
		return "", nil
	}
	return settings.AutomaticRepliesSetting.InternalReplyMessage, nil
}

// CreateEvent adds ev to the default calendar.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (*Event, error) {
	var created Event
	if err := c.api.Request(ctx, http.MethodPost, "/me/events", ev, nil, &created); err != nil {
		return nil, fmt.Errorf("creating event: %w", err)
	}
	return &created, nil
}
