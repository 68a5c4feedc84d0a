package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"oidc-linker/internal/auth/claims"
)

// TokenCache is the per-session secret set written at login and read by
// token refresh and group sync.
type TokenCache struct {
	Subject string `json:"subject"`
	Issuer  string `json:"issuer"`

	AccessToken       string       `json:"access_token"`
	AccessTokenClaims claims.Value `json:"access_token_claims"`
	IDToken           string       `json:"id_token"`
	IDTokenClaims     claims.Value `json:"id_token_claims"`
	RefreshToken      string       `json:"refresh_token"`
}

// TokenStore keeps TokenCaches in Redis, keyed by session id.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{
		client: client,
		prefix: "oidc_tokens:",
		ttl:    ttl,
	}
}

func (t *TokenStore) key(sessionID string) string {
	return t.prefix + sessionID
}

func (t *TokenStore) Save(ctx context.Context, sessionID string, c *TokenCache) error {
	if sessionID == "" {
		return fmt.Errorf("session: missing session_id")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("session: failed to marshal tokens: %w", err)
	}

	return t.client.Set(ctx, t.key(sessionID), data, t.ttl).Err()
}

// Get returns nil when nothing is cached for the session.
func (t *TokenStore) Get(ctx context.Context, sessionID string) (*TokenCache, error) {
	val, err := t.client.Get(ctx, t.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c TokenCache
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal tokens: %w", err)
	}
	return &c, nil
}

func (t *TokenStore) Clear(ctx context.Context, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	keys := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = t.key(id)
	}
	return t.client.Del(ctx, keys...).Err()
}
