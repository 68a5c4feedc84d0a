// Package tokens serves a session's access token, refreshing it through the
// issuer once it has gone stale.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/provider"
	"oidc-linker/internal/logger"
	"oidc-linker/internal/metrics"
	"oidc-linker/internal/session"
)

// Grace is how long past exp a cached access token is still handed out.
const Grace = 300 * time.Second

var ErrNilDependency = errors.New("tokens: nil dependency")

// Cache is the part of the session token store the manager needs.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*session.TokenCache, error)
	Save(ctx context.Context, sessionID string, c *session.TokenCache) error
}

// Clients finds the protocol client for an issuer URL.
type Clients interface {
	ByProviderURL(issuer string) (provider.Client, error)
}

type Manager struct {
	cache   Cache
	clients Clients
	now     func() time.Time
	flight  singleflight.Group
}

func NewManager(cache Cache, clients Clients) (*Manager, error) {
	if cache == nil || clients == nil {
		return nil, ErrNilDependency
	}
	return &Manager{cache: cache, clients: clients, now: time.Now}, nil
}

// Fresh reports whether an access token payload may still be used: its exp
// must be an integer no older than Grace.
func Fresh(payload claims.Value, now time.Time) bool {
	v, ok := payload.Get("exp")
	if !ok {
		return false
	}
	exp, ok := v.Int()
	if !ok {
		return false
	}
	return exp >= now.Add(-Grace).Unix()
}

// AccessToken returns the access token payload for the session. It is null
// when the session has no tokens or the token cannot be refreshed.
func (m *Manager) AccessToken(ctx context.Context, sessionID string) (claims.Value, error) {
	c, err := m.current(ctx, sessionID)
	if err != nil || c == nil {
		return claims.Value{}, err
	}
	return c.AccessTokenClaims, nil
}

// AccessTokenRaw is AccessToken for the encoded token.
func (m *Manager) AccessTokenRaw(ctx context.Context, sessionID string) (string, error) {
	c, err := m.current(ctx, sessionID)
	if err != nil || c == nil {
		return "", err
	}
	return c.AccessToken, nil
}

// Attributes merges the ID token payload with the current access token
// payload; access token values win.
func (m *Manager) Attributes(ctx context.Context, sessionID string) (claims.Value, error) {
	c, err := m.cache.Get(ctx, sessionID)
	if err != nil {
		return claims.Value{}, err
	}
	if c == nil {
		return claims.Object(nil), nil
	}

	access, err := m.AccessToken(ctx, sessionID)
	if err != nil {
		return claims.Value{}, err
	}
	return c.IDTokenClaims.Merge(access), nil
}

func (m *Manager) current(ctx context.Context, sessionID string) (*session.TokenCache, error) {
	c, err := m.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c == nil || Fresh(c.AccessTokenClaims, m.now()) {
		return c, nil
	}
	if c.RefreshToken == "" {
		return nil, nil
	}

	v, err, _ := m.flight.Do(sessionID, func() (any, error) {
		return m.refresh(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.TokenCache), nil
}

func (m *Manager) refresh(ctx context.Context, sessionID string) (*session.TokenCache, error) {
	// Another caller may have refreshed while we waited.
	c, err := m.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if Fresh(c.AccessTokenClaims, m.now()) {
		return c, nil
	}

	client, err := m.clients.ByProviderURL(c.Issuer)
	if err != nil {
		return nil, err
	}

	h, err := client.Refresh(ctx, c.RefreshToken)
	metrics.RecordTokenRefresh(err == nil)
	if err != nil {
		logger.Warn("access token refresh failed", map[string]any{
			"issuer": c.Issuer,
			"error":  err,
		})
		return nil, fmt.Errorf("tokens: refresh: %w", err)
	}

	c.AccessToken = h.AccessToken
	c.AccessTokenClaims = h.AccessTokenClaims
	if h.RefreshToken != "" {
		c.RefreshToken = h.RefreshToken
	}
	if h.IDToken != "" {
		c.IDToken = h.IDToken
		c.IDTokenClaims = h.IDTokenClaims
	}

	if err := m.cache.Save(ctx, sessionID, c); err != nil {
		return nil, err
	}

	logger.Debug("access token refreshed", map[string]any{"issuer": c.Issuer})
	return c, nil
}
