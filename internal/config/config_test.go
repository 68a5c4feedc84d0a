package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AppPort:     "8080",
		BaseURL:     "https://wiki.example.org",
		DatabaseDSN: "postgres://localhost/wiki",
		RedisAddr:   "localhost:6379",
		Issuers: []IssuerConfig{{
			ID:           "keycloak",
			ClientID:     "wiki",
			ClientSecret: "s3cret",
			ProviderURL:  "https://sso.example.org/realms/main",
		}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing client id", mutate: func(c *Config) { c.Issuers[0].ClientID = "" }, wantErr: true},
		{name: "missing client secret", mutate: func(c *Config) { c.Issuers[0].ClientSecret = "" }, wantErr: true},
		{name: "missing provider url", mutate: func(c *Config) { c.Issuers[0].ProviderURL = "" }, wantErr: true},
		{name: "provider url not a url", mutate: func(c *Config) { c.Issuers[0].ProviderURL = "not a url" }, wantErr: true},
		{name: "no issuers", mutate: func(c *Config) { c.Issuers = nil }, wantErr: true},
		{name: "unknown processor", mutate: func(c *Config) { c.Issuers[0].Processors.Email = "rot13" }, wantErr: true},
		{
			name: "duplicate issuer ids",
			mutate: func(c *Config) {
				c.Issuers = append(c.Issuers, c.Issuers[0])
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEffectiveLinkingOverrides(t *testing.T) {
	c := validConfig()
	c.Linking.MigrateUsersByEmail = true
	c.Linking.SingleLogout = true

	off := false
	on := true
	c.Issuers[0].Linking.SingleLogout = &off
	c.Issuers[0].Linking.UseRandomUsernames = &on

	got := c.EffectiveLinking(c.Issuers[0])
	assert.True(t, got.MigrateUsersByEmail)
	assert.False(t, got.SingleLogout)
	assert.True(t, got.UseRandomUsernames)
	assert.False(t, got.MigrateUsersByUserName)
}

func TestScopes(t *testing.T) {
	assert.Equal(t, []string{"openid", "profile", "email"}, IssuerConfig{}.Scopes())
	assert.Equal(t, []string{"openid", "groups"}, IssuerConfig{Scope: []string{"openid groups"}}.Scopes())
	assert.Equal(t, []string{"openid", "roles"}, IssuerConfig{Scope: []string{"openid", "roles"}}.Scopes())
}

func TestCallbackURL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "https://wiki.example.org/oauth/callback/keycloak", cfg.CallbackURL("keycloak"))

	cfg.BaseURL = "https://wiki.example.org/"
	assert.Equal(t, "https://wiki.example.org/oauth/callback/a%20b", cfg.CallbackURL("a b"))
}

func TestTLSVerifyDefaultsOn(t *testing.T) {
	off := false
	assert.True(t, IssuerConfig{}.TLSVerify())
	assert.False(t, IssuerConfig{VerifyPeer: &off}.TLSVerify())
	assert.False(t, IssuerConfig{VerifyHost: &off}.TLSVerify())
}

func TestTransform(t *testing.T) {
	assert.Nil(t, Transform(""))
	assert.Equal(t, "JANE", Transform("upper")("Jane"))
	assert.Equal(t, "jane", Transform("lower")("JaNe"))
	assert.Equal(t, "Jane Smith", Transform("title")("jane smith"))
	assert.Equal(t, "jane", Transform("trim")("  jane "))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_port: "9090"
base_url: https://wiki.example.org
database_dsn: postgres://localhost/wiki
session:
  ttl: 2h
linking:
  migrate_users_by_email: true
issuers:
  - id: keycloak
    client_id: wiki
    client_secret: s3cret
    provider_url: https://sso.example.org/realms/main
    scope: openid profile email roles
    preferred_username: nickname
    linking:
      use_random_usernames: true
    roles:
      global_roles:
        property: [realm_access, roles]
      wiki_roles:
        property: [resource_access, wiki, roles]
        prefix: ["", "wiki_"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Linking.MigrateUsersByEmail)

	iss, ok := cfg.Issuer("keycloak")
	require.True(t, ok)
	assert.Equal(t, "nickname", iss.PreferredUsernameClaim)
	assert.Equal(t, []string{"openid", "profile", "email", "roles"}, iss.Scopes())
	assert.Equal(t, []string{"realm_access", "roles"}, iss.Roles.GlobalRoles.Property)
	assert.Equal(t, []string{"", "wiki_"}, iss.Roles.WikiRoles.Prefix)
	assert.True(t, cfg.EffectiveLinking(iss).UseRandomUsernames)

	_, ok = cfg.Issuer("missing")
	assert.False(t, ok)
}

func TestLoadRejectsIncompleteIssuer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_dsn: postgres://localhost/wiki
issuers:
  - id: keycloak
    provider_url: https://sso.example.org/realms/main
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}
