package provider

import (
	"context"
	"errors"
	"time"

	"oidc-linker/internal/auth/claims"
)

var (
	ErrUnknownProvider = errors.New("unknown oidc provider")
	ErrNoRefreshToken  = errors.New("no refresh token")
)

// Handshake is what a completed code exchange or refresh yields. The ID
// token has been verified; the access token payload is read as-is.
type Handshake struct {
	Issuer       string
	IDToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time

	IDTokenClaims     claims.Value
	AccessTokenClaims claims.Value
}

// Client is the protocol engine for one configured issuer. Implementations
// verify tokens and talk HTTP; they make no account decisions.
type Client interface {
	// Name returns the issuer id used in routes and config.
	Name() string

	// ProviderURL identifies the issuer; it is what links are stored under.
	ProviderURL() string

	// AuthCodeURL returns the authorization URL. State and PKCE challenge
	// come from the caller.
	AuthCodeURL(state string, codeChallenge string) string

	// Exchange trades an authorization code for verified tokens.
	Exchange(ctx context.Context, code string, codeVerifier string) (*Handshake, error)

	// UserInfo fetches the user-info document for the handshake's access token.
	UserInfo(ctx context.Context, h *Handshake) (claims.Value, error)

	// Refresh obtains fresh tokens. The returned RefreshToken is empty when
	// the provider did not rotate it.
	Refresh(ctx context.Context, refreshToken string) (*Handshake, error)

	// EndSessionURL builds the provider logout redirect, or "" when the
	// provider has no end-session endpoint.
	EndSessionURL(idToken string, returnURL string) string

	// VerifyLogoutToken validates a back-channel logout token and returns
	// the subject and issuer it names.
	VerifyLogoutToken(ctx context.Context, raw string) (subject string, issuer string, err error)
}
