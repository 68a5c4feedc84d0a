// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/provider"
)

var ErrInvalidLogoutToken = errors.New("providertest: invalid logout token")

// Fake answers every call from its fields and counts the network calls.
type Fake struct {
	ID  string
	URL string

	Handshake   *provider.Handshake
	ExchangeErr error

	Info    claims.Value
	InfoErr error

	Refreshed  *provider.Handshake
	RefreshErr error

	EndSession string

	// LogoutTokens maps accepted raw logout tokens to subjects.
	LogoutTokens map[string]string

	mu           sync.Mutex
	infoCalls    int
	refreshCalls int
	lastRefresh  string
}

var _ provider.Client = (*Fake)(nil)

func (f *Fake) Name() string { return f.ID }

func (f *Fake) ProviderURL() string { return f.URL }

func (f *Fake) AuthCodeURL(state string, codeChallenge string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return f.URL + "/auth?" + q.Encode()
}

func (f *Fake) Exchange(context.Context, string, string) (*provider.Handshake, error) {
	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	h := *f.Handshake
	if h.Issuer == "" {
		h.Issuer = f.URL
	}
	return &h, nil
}

func (f *Fake) UserInfo(context.Context, *provider.Handshake) (claims.Value, error) {
	f.mu.Lock()
	f.infoCalls++
	f.mu.Unlock()
	return f.Info, f.InfoErr
}

func (f *Fake) Refresh(_ context.Context, refreshToken string) (*provider.Handshake, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.lastRefresh = refreshToken
	f.mu.Unlock()

	if refreshToken == "" {
		return nil, provider.ErrNoRefreshToken
	}
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	h := *f.Refreshed
	return &h, nil
}

func (f *Fake) EndSessionURL(idToken string, returnURL string) string {
	if f.EndSession == "" {
		return ""
	}
	q := url.Values{}
	q.Set("id_token_hint", idToken)
	q.Set("post_logout_redirect_uri", returnURL)
	return f.EndSession + "?" + q.Encode()
}

func (f *Fake) VerifyLogoutToken(_ context.Context, raw string) (string, string, error) {
	sub, ok := f.LogoutTokens[raw]
	if !ok {
		return "", "", ErrInvalidLogoutToken
	}
	return sub, f.URL, nil
}

func (f *Fake) UserInfoCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

func (f *Fake) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// LastRefreshToken is the refresh token most recently passed to Refresh.
func (f *Fake) LastRefreshToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRefresh
}
