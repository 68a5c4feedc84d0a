package openid

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidc-linker/internal/auth/provider"
)

const clientID = "wiki"

type fakeIdP struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu             sync.Mutex
	discoveryHits  int
	lastTokenForm  url.Values
	refreshRotates bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIdP{t: t, key: key, refreshRotates: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("/jwks", f.jwks)
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/userinfo", f.userinfo)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) url() string { return f.srv.URL }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.discoveryHits++
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"issuer":                                f.url(),
		"authorization_endpoint":                f.url() + "/auth",
		"token_endpoint":                        f.url() + "/token",
		"userinfo_endpoint":                     f.url() + "/userinfo",
		"jwks_uri":                              f.url() + "/jwks",
		"end_session_endpoint":                  f.url() + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIdP) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": "k1",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIdP) sign(c jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(f.key)
	require.NoError(f.t, err)
	return s
}

func (f *fakeIdP) idTokenClaims(extra jwt.MapClaims) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss":   f.url(),
		"aud":   clientID,
		"sub":   "sub-jane",
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"name":  "Jane Smith",
		"email": "jane@example.com",
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func (f *fakeIdP) accessToken() string {
	return f.sign(jwt.MapClaims{
		"iss":          f.url(),
		"sub":          "sub-jane",
		"exp":          time.Now().Add(5 * time.Minute).Unix(),
		"realm_access": map[string]any{"roles": []string{"admin", "editor"}},
	})
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	f.lastTokenForm = r.PostForm
	f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		writeJSON(w, map[string]any{
			"access_token":  f.accessToken(),
			"token_type":    "Bearer",
			"expires_in":    300,
			"refresh_token": "refresh-1",
			"id_token":      f.sign(f.idTokenClaims(nil)),
		})
	case "refresh_token":
		f.mu.Lock()
		rotate := f.refreshRotates
		f.mu.Unlock()
		resp := map[string]any{
			"access_token": "opaque-access",
			"token_type":   "Bearer",
			"expires_in":   300,
		}
		if rotate {
			resp["refresh_token"] = "refresh-2"
		}
		writeJSON(w, resp)
	default:
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
	}
}

func (f *fakeIdP) userinfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{
		"sub":                "sub-jane",
		"preferred_username": "jane",
		"groups":             []string{"staff"},
	})
}

func (f *fakeIdP) form() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTokenForm
}

func (f *fakeIdP) setRotate(v bool) {
	f.mu.Lock()
	f.refreshRotates = v
	f.mu.Unlock()
}

func (f *fakeIdP) discoveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoveryHits
}

func newClient(t *testing.T, f *fakeIdP, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Name:         "keycloak",
		ProviderURL:  f.url(),
		ClientID:     clientID,
		ClientSecret: "s3cret",
		RedirectURL:  "https://wiki.example.org/oauth/callback/keycloak",
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	return c
}

func TestNewRequiresFields(t *testing.T) {
	_, err := New(context.Background(), Options{Name: "x"})
	assert.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, func(o *Options) {
		o.ForceReauth = true
		o.AuthParams = map[string]string{"kc_idp_hint": "corp"}
		o.Scopes = []string{"openid", "roles"}
	})

	u, err := url.Parse(c.AuthCodeURL("state-1", "challenge-1"))
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, f.url()+"/auth", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "corp", q.Get("kc_idp_hint"))
	assert.Equal(t, "openid roles", q.Get("scope"))
	assert.Equal(t, clientID, q.Get("client_id"))
}

func TestExchangeVerifiesAndParses(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, nil)

	h, err := c.Exchange(context.Background(), "code-1", "verifier-1")
	require.NoError(t, err)

	assert.Equal(t, "verifier-1", f.form().Get("code_verifier"))
	assert.Equal(t, f.url(), h.Issuer)
	assert.Equal(t, "refresh-1", h.RefreshToken)
	assert.NotEmpty(t, h.IDToken)

	sub, ok := h.IDTokenClaims.Get("sub")
	require.True(t, ok)
	assert.Equal(t, "sub-jane", sub.String())

	roles, ok := h.AccessTokenClaims.Lookup("realm_access", "roles")
	require.True(t, ok)
	assert.Equal(t, []string{"admin", "editor"}, roles.Strings())

	exp, _ := h.AccessTokenClaims.Get("exp")
	_, isInt := exp.Int()
	assert.True(t, isInt)
}

func TestUserInfo(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, nil)

	h, err := c.Exchange(context.Background(), "code-1", "v")
	require.NoError(t, err)

	info, err := c.UserInfo(context.Background(), h)
	require.NoError(t, err)
	name, _ := info.Get("preferred_username")
	assert.Equal(t, "jane", name.String())
}

func TestRefresh(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, nil)
	ctx := context.Background()

	_, err := c.Refresh(ctx, "")
	assert.ErrorIs(t, err, provider.ErrNoRefreshToken)

	h, err := c.Refresh(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", f.form().Get("grant_type"))
	assert.Equal(t, "refresh-2", h.RefreshToken)
	assert.Equal(t, "opaque-access", h.AccessToken)
	assert.True(t, h.AccessTokenClaims.IsNull())

	f.setRotate(false)
	h, err = c.Refresh(ctx, "refresh-2")
	require.NoError(t, err)
	assert.Empty(t, h.RefreshToken)
}

func TestEndSessionURL(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, nil)

	u, err := url.Parse(c.EndSessionURL("id-token", "https://wiki.example.org/Main_Page"))
	require.NoError(t, err)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "id-token", u.Query().Get("id_token_hint"))
	assert.Equal(t, "https://wiki.example.org/Main_Page", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, clientID, u.Query().Get("client_id"))
}

func TestVerifyLogoutToken(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, nil)
	ctx := context.Background()

	event := map[string]any{backchannelLogoutEvent: map[string]any{}}

	sub, iss, err := c.VerifyLogoutToken(ctx, f.sign(f.idTokenClaims(jwt.MapClaims{"events": event})))
	require.NoError(t, err)
	assert.Equal(t, "sub-jane", sub)
	assert.Equal(t, f.url(), iss)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not.a.jwt"},
		{name: "no event", raw: f.sign(f.idTokenClaims(nil))},
		{name: "nonce present", raw: f.sign(f.idTokenClaims(jwt.MapClaims{"events": event, "nonce": "n"}))},
		{name: "wrong audience", raw: f.sign(f.idTokenClaims(jwt.MapClaims{"events": event, "aud": "other"}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.VerifyLogoutToken(ctx, tt.raw)
			assert.ErrorIs(t, err, ErrInvalidLogoutToken)
		})
	}
}

func TestProviderConfigSkipsDiscovery(t *testing.T) {
	f := newFakeIdP(t)
	c := newClient(t, f, func(o *Options) {
		o.ProviderConfig = map[string]string{
			"authorization_endpoint":                f.url() + "/auth",
			"token_endpoint":                        f.url() + "/token",
			"userinfo_endpoint":                     f.url() + "/userinfo",
			"jwks_uri":                              f.url() + "/jwks",
			"id_token_signing_alg_values_supported": "RS256",
		}
	})

	assert.Zero(t, f.discoveries())
	assert.Empty(t, c.EndSessionURL("id", "https://wiki.example.org"))

	h, err := c.Exchange(context.Background(), "code", "v")
	require.NoError(t, err)
	sub, _ := h.IDTokenClaims.Get("sub")
	assert.Equal(t, "sub-jane", sub.String())
}

func TestProviderConfigNeedsEndpoints(t *testing.T) {
	f := newFakeIdP(t)
	_, err := New(context.Background(), Options{
		Name:           "keycloak",
		ProviderURL:    f.url(),
		ClientID:       clientID,
		ClientSecret:   "s",
		ProviderConfig: map[string]string{"token_endpoint": f.url() + "/token"},
	})
	assert.Error(t, err)
}

func TestHTTPClient(t *testing.T) {
	hc, err := HTTPClient("", true)
	require.NoError(t, err)
	assert.Nil(t, hc)

	hc, err = HTTPClient("http://proxy.internal:3128", false)
	require.NoError(t, err)
	require.NotNil(t, hc)
	tr := hc.Transport.(*http.Transport)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)

	req, _ := http.NewRequest(http.MethodGet, "https://sso.example.org", nil)
	proxyURL, err := tr.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "proxy.internal:3128", proxyURL.Host)

	_, err = HTTPClient("://bad", true)
	assert.Error(t, err)
}
