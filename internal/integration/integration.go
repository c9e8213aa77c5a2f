package integration

import (
	"context"
	"net/url"

	"github.com/nhle/mail-automation/internal/oauth"
)

// ProviderType identifies an OAuth-backed integration.
type ProviderType string

const (
	ProviderGraph ProviderType = "graph"
	ProviderZoom  ProviderType = "zoom"
)

// Label returns the name shown to the user for the provider.
func (p ProviderType) Label() string {
	switch p {
	case ProviderGraph:
		return "Microsoft Outlook"
	case ProviderZoom:
		return "Zoom"
	default:
		return string(p)
	}
}

// fallbackName is shown when a provider profile carries no display name.
const fallbackName = "User"

// Profile is the signed-in account as reported by a provider.
type Profile struct {
	DisplayName string
	Email       string
}

// Name returns the display name, or a generic fallback when the provider
// did not report one.
func (p Profile) Name() string {
	if p.DisplayName == "" {
		return fallbackName
	}
	return p.DisplayName
}

// Profiler fetches the signed-in account for a connected provider.
type Profiler interface {
	Profile(ctx context.Context) (Profile, error)
}

// Requester is the authenticated request primitive the API façades are
// built on. *oauth.Client satisfies it.
type Requester interface {
	Request(
		ctx context.Context,
		method, path string,
		body any,
		query url.Values,
		out any,
	) error
	Do(ctx context.Context, call oauth.Call, out any) error
}
