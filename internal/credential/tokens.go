package credential

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/mail-automation/internal/oauth"
)

var _ oauth.TokenStore = (*TokenStore)(nil)

// TokenStore keeps OAuth sessions in a keyring, one JSON item per
// provider. It implements oauth.TokenStore.
type TokenStore struct {
	ring keyring.Keyring
}

// NewTokenStore wraps ring.
func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

func sessionKey(provider string) string {
	return "oauth-" + provider
}

// LoadSession returns the stored session, or nil when none is stored.
func (s *TokenStore) LoadSession(_ context.Context, provider string) (*oauth.Session, error) {
	item, err := s.ring.Get(sessionKey(provider))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s session: %w", provider, err)
	}

	var sess oauth.Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return nil, fmt.Errorf("decoding %s session: %w", provider, err)
	}
	return &sess, nil
}

// SaveSession replaces the stored session for provider.
func (s *TokenStore) SaveSession(_ context.Context, provider string, sess oauth.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding %s session: %w", provider, err)
	}

	err = s.ring.Set(keyring.Item{
		Key:         sessionKey(provider),
		Data:        data,
		Label:       "mailauto " + provider + " session",
		Description: "OAuth tokens",
	})
	if err != nil {
		return fmt.Errorf("saving %s session: %w", provider, err)
	}
	return nil
}

// DeleteSession removes the stored session. A missing session is not an
// error.
func (s *TokenStore) DeleteSession(_ context.Context, provider string) error {
	err := s.ring.Remove(sessionKey(provider))
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("deleting %s session: %w", provider, err)
	}
	return nil
}
