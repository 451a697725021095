package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrOAuthNotConfigured indicates the account lacks oauth credentials
	ErrOAuthNotConfigured = errors.New("oauth not configured")
)

const defaultTokenURL = "https://oauth2.googleapis.com/token"

// tokenCache refreshes and caches access tokens per account so each
// cycle does not pay a token round-trip for every connection.
type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func newTokenCache() *tokenCache {
	return &tokenCache{tokens: make(map[string]*oauth2.Token)}
}

// accessToken returns a valid access token for the account, refreshing
// through the oauth2 token endpoint when the cached one expired.
func (tc *tokenCache) accessToken(ctx context.Context, account Account) (string, error) {
	if account.OAuth == nil || account.OAuth.RefreshToken == "" {
		return "", ErrOAuthNotConfigured
	}

	tc.mu.Lock()
	cached, ok := tc.tokens[account.Address]
	tc.mu.Unlock()
	if ok && cached.Valid() && time.Until(cached.Expiry) > time.Minute {
		return cached.AccessToken, nil
	}

	tokenURL := account.OAuth.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	conf := &oauth2.Config{
		ClientID:     account.OAuth.ClientID,
		ClientSecret: account.OAuth.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: account.OAuth.RefreshToken,
	}).Token()
	if err != nil {
		return "", err
	}

	tc.mu.Lock()
	tc.tokens[account.Address] = token
	tc.mu.Unlock()
	return token.AccessToken, nil
}
