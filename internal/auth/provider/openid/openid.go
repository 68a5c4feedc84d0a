// Package openid implements provider.Client on top of go-oidc and oauth2.
package openid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/provider"
	"oidc-linker/internal/logger"
)

const backchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

var (
	ErrMissingIDToken     = errors.New("openid: provider did not return id_token")
	ErrInvalidLogoutToken = errors.New("openid: invalid logout token")
)

type Options struct {
	Name         string
	ProviderURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// AuthParams are added to every authorization request.
	AuthParams  map[string]string
	ForceReauth bool

	// ProviderConfig replaces discovery when non-empty.
	ProviderConfig map[string]string

	// HTTPClient carries proxy and TLS settings; nil uses the default.
	HTTPClient *http.Client
}

// Client talks to one OpenID Connect issuer.
type Client struct {
	name        string
	providerURL string
	clientID    string

	oauthConfig    *oauth2.Config
	provider       *oidc.Provider
	verifier       *oidc.IDTokenVerifier
	endSessionURL  string
	authOptions    []oauth2.AuthCodeOption
	httpClient     *http.Client
	accessTokenJWT *jwt.Parser
}

var _ provider.Client = (*Client)(nil)

// New discovers the issuer (or builds it from ProviderConfig) and prepares
// the verifier.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Name == "" || opts.ProviderURL == "" || opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("openid: issuer config missing required fields")
	}

	if opts.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	}

	p, endSession, err := newProvider(ctx, opts)
	if err != nil {
		return nil, err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	c := &Client{
		name:          opts.Name,
		providerURL:   opts.ProviderURL,
		clientID:      opts.ClientID,
		provider:      p,
		verifier:      p.Verifier(&oidc.Config{ClientID: opts.ClientID}),
		endSessionURL: endSession,
		httpClient:    opts.HTTPClient,
		oauthConfig: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     p.Endpoint(),
			Scopes:       scopes,
		},
		accessTokenJWT: jwt.NewParser(jwt.WithJSONNumber()),
	}

	for k, v := range opts.AuthParams {
		c.authOptions = append(c.authOptions, oauth2.SetAuthURLParam(k, v))
	}
	if opts.ForceReauth {
		c.authOptions = append(c.authOptions, oauth2.SetAuthURLParam("prompt", "login"))
	}

	logger.Info("oidc issuer ready", map[string]any{
		"issuer":    opts.Name,
		"url":       opts.ProviderURL,
		"discovery": len(opts.ProviderConfig) == 0,
	})

	return c, nil
}

func newProvider(ctx context.Context, opts Options) (*oidc.Provider, string, error) {
	pc := opts.ProviderConfig
	if len(pc) == 0 {
		p, err := oidc.NewProvider(ctx, opts.ProviderURL)
		if err != nil {
			return nil, "", fmt.Errorf("openid: discovery for %s: %w", opts.Name, err)
		}

		var meta struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := p.Claims(&meta); err != nil {
			return nil, "", fmt.Errorf("openid: discovery document for %s: %w", opts.Name, err)
		}
		return p, meta.EndSessionEndpoint, nil
	}

	issuer := pc["issuer"]
	if issuer == "" {
		issuer = opts.ProviderURL
	}

	cfg := &oidc.ProviderConfig{
		IssuerURL:   issuer,
		AuthURL:     pc["authorization_endpoint"],
		TokenURL:    pc["token_endpoint"],
		UserInfoURL: pc["userinfo_endpoint"],
		JWKSURL:     pc["jwks_uri"],
		Algorithms:  splitList(pc["id_token_signing_alg_values_supported"]),
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.JWKSURL == "" {
		return nil, "", fmt.Errorf("openid: provider_config for %s needs authorization_endpoint, token_endpoint and jwks_uri", opts.Name)
	}

	return cfg.NewProvider(ctx), pc["end_session_endpoint"], nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func (c *Client) Name() string { return c.name }

func (c *Client) ProviderURL() string { return c.providerURL }

func (c *Client) withHTTP(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, c.httpClient)
}

// AuthCodeURL builds the authorization URL with PKCE parameters.
func (c *Client) AuthCodeURL(state string, codeChallenge string) string {
	opts := append([]oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}, c.authOptions...)
	return c.oauthConfig.AuthCodeURL(state, opts...)
}

// Exchange trades the code for tokens and verifies the ID token.
func (c *Client) Exchange(ctx context.Context, code string, codeVerifier string) (*provider.Handshake, error) {
	ctx = c.withHTTP(ctx)

	token, err := c.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		logger.Warn("oidc token exchange failed", map[string]any{"issuer": c.name, "error": err})
		return nil, fmt.Errorf("openid: exchange: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	return c.handshake(ctx, token, rawIDToken)
}

func (c *Client) handshake(ctx context.Context, token *oauth2.Token, rawIDToken string) (*provider.Handshake, error) {
	h := &provider.Handshake{
		Issuer:            c.providerURL,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		Expiry:            token.Expiry,
		AccessTokenClaims: c.accessTokenPayload(token.AccessToken),
	}

	if rawIDToken == "" {
		return h, nil
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Warn("oidc id_token verification failed", map[string]any{"issuer": c.name, "error": err})
		return nil, fmt.Errorf("openid: verify id_token: %w", err)
	}

	var raw json.RawMessage
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("openid: id_token claims: %w", err)
	}
	payload, err := claims.Parse(raw)
	if err != nil {
		return nil, err
	}

	h.IDToken = rawIDToken
	h.IDTokenClaims = payload
	return h, nil
}

// accessTokenPayload reads a JWT access token without verifying it. Opaque
// tokens yield a null payload.
func (c *Client) accessTokenPayload(raw string) claims.Value {
	if strings.Count(raw, ".") != 2 {
		return claims.Value{}
	}
	mc := jwt.MapClaims{}
	if _, _, err := c.accessTokenJWT.ParseUnverified(raw, mc); err != nil {
		logger.Debug("access token is not a readable jwt", map[string]any{"issuer": c.name, "error": err})
		return claims.Value{}
	}
	return claims.From(map[string]any(mc))
}

// UserInfo queries the user-info endpoint with the handshake's access token.
func (c *Client) UserInfo(ctx context.Context, h *provider.Handshake) (claims.Value, error) {
	ctx = c.withHTTP(ctx)

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: h.AccessToken, TokenType: "Bearer"})
	info, err := c.provider.UserInfo(ctx, src)
	if err != nil {
		return claims.Value{}, fmt.Errorf("openid: userinfo: %w", err)
	}

	var raw json.RawMessage
	if err := info.Claims(&raw); err != nil {
		return claims.Value{}, fmt.Errorf("openid: userinfo claims: %w", err)
	}
	return claims.Parse(raw)
}

// Refresh uses a refresh token to obtain new tokens.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*provider.Handshake, error) {
	if refreshToken == "" {
		return nil, provider.ErrNoRefreshToken
	}
	ctx = c.withHTTP(ctx)

	token, err := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("openid: refresh: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	h, err := c.handshake(ctx, token, rawIDToken)
	if err != nil {
		return nil, err
	}
	if h.RefreshToken == refreshToken {
		h.RefreshToken = ""
	}
	return h, nil
}

// EndSessionURL returns the RP-initiated logout URL.
func (c *Client) EndSessionURL(idToken string, returnURL string) string {
	if c.endSessionURL == "" {
		return ""
	}

	u, err := url.Parse(c.endSessionURL)
	if err != nil {
		return ""
	}

	q := u.Query()
	q.Set("client_id", c.clientID)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if returnURL != "" {
		q.Set("post_logout_redirect_uri", returnURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// VerifyLogoutToken checks signature, audience and the back-channel logout
// event of a logout token.
func (c *Client) VerifyLogoutToken(ctx context.Context, raw string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("%w: missing", ErrInvalidLogoutToken)
	}

	tok, err := c.verifier.Verify(c.withHTTP(ctx), raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLogoutToken, err)
	}

	var body struct {
		Events map[string]json.RawMessage `json:"events"`
		Nonce  *string                    `json:"nonce"`
	}
	if err := tok.Claims(&body); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidLogoutToken, err)
	}

	if _, ok := body.Events[backchannelLogoutEvent]; !ok {
		return "", "", fmt.Errorf("%w: no back-channel logout event", ErrInvalidLogoutToken)
	}
	if body.Nonce != nil {
		return "", "", fmt.Errorf("%w: nonce present", ErrInvalidLogoutToken)
	}
	if tok.Subject == "" {
		return "", "", fmt.Errorf("%w: no subject", ErrInvalidLogoutToken)
	}

	return tok.Subject, c.providerURL, nil
}
