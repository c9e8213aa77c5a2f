package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken is returned by Refresh when the session holds no
	// refresh token. No network call is made.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrAuthenticationInProgress is returned when Authenticate is called
	// while another authentication is still waiting for its callback.
	ErrAuthenticationInProgress = errors.New("authentication already in progress")
)

// Authorization failure reasons that do not come from the provider.
const (
	ReasonTimeout     = "timeout"
	ReasonCancelled   = "cancelled"
	ReasonMissingCode = "missing_code"
	ReasonBrowser     = "browser"
	ReasonListener    = "listener"
	ReasonState       = "state_mismatch"
)

// AuthorizationError indicates the interactive consent step did not
// produce an authorization code: the user declined, the callback timed
// out, or the flow was cancelled.
type AuthorizationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed (%s): %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization failed (%s): %s", e.Provider, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// TokenExchangeError indicates the token endpoint rejected or returned an
// unparseable response to an authorization_code grant.
type TokenExchangeError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	return tokenErrorString("token exchange", e.Provider, e.StatusCode, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError indicates the token endpoint rejected or returned an
// unparseable response to a refresh_token grant.
type TokenRefreshError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	return tokenErrorString("token refresh", e.Provider, e.StatusCode, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

func tokenErrorString(op, provider string, status int, err error) string {
	if status != 0 {
		return fmt.Sprintf("%s failed (%s): status %d: %v", op, provider, status, err)
	}
	return fmt.Sprintf("%s failed (%s): %v", op, provider, err)
}

// AuthenticationRequiredError is returned when an authenticated call is
// attempted without a usable access token. Err carries the refresh
// failure when one was attempted.
type AuthenticationRequiredError struct {
	Provider string
	Err      error
}

func (e *AuthenticationRequiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication required (%s): %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("authentication required (%s)", e.Provider)
}

func (e *AuthenticationRequiredError) Unwrap() error { return e.Err }

// RequestError is returned when an authenticated API call receives a
// non-2xx response. Body holds the raw response for diagnostics.
type RequestError struct {
	Provider   string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf(
		"%s API error (%d) on %s %s: %s",
		e.Provider, e.StatusCode, e.Method, e.Path, e.Body,
	)
}

// IsAuthorizationError reports whether err (or any error in its chain)
// is an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

// IsAuthenticationRequired reports whether err (or any error in its
// chain) is an AuthenticationRequiredError.
func IsAuthenticationRequired(err error) bool {
	var reqErr *AuthenticationRequiredError
	return errors.As(err, &reqErr)
}

// IsRequestError reports whether err (or any error in its chain) is a
// RequestError, returning it when it is.
func IsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}
