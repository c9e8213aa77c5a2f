package oauth

import (
	"context"
	"time"
)

// Session holds the token state for a single provider connection.
// A session without an access token is unauthenticated.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Authenticated reports whether the session holds an access token.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// validAt reports whether the access token is still usable at now
// with the given safety buffer.
func (s Session) validAt(now time.Time, buffer time.Duration) bool {
	if !s.Authenticated() {
		return false
	}
	return now.Add(buffer).Before(s.ExpiresAt)
}

// TokenStore persists sessions across process restarts.
type TokenStore interface {
	LoadSession(ctx context.Context, provider string) (*Session, error)
	SaveSession(ctx context.Context, provider string, s Session) error
	DeleteSession(ctx context.Context, provider string) error
}

// State is the position of a client in its authentication lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unauthenticated"
	}
}
