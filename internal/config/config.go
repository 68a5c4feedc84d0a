package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	AppPort string `mapstructure:"app_port" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	DatabaseDSN string `mapstructure:"database_dsn" validate:"required"`

	RedisAddr     string `mapstructure:"redis_addr" validate:"required"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	Logger  LoggerConfig  `mapstructure:"logger"`
	Session SessionConfig `mapstructure:"session"`

	// Linking holds the defaults every issuer inherits unless it overrides them.
	Linking LinkingConfig `mapstructure:"linking"`

	Issuers []IssuerConfig `mapstructure:"issuers" validate:"required,min=1,dive"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

type LinkingConfig struct {
	MigrateUsersByEmail    bool `mapstructure:"migrate_users_by_email"`
	MigrateUsersByUserName bool `mapstructure:"migrate_users_by_username"`
	ForceReauth            bool `mapstructure:"force_reauth"`
	SingleLogout           bool `mapstructure:"single_logout"`
	UseRealNameAsUserName  bool `mapstructure:"use_real_name_as_username"`
	UseEmailNameAsUserName bool `mapstructure:"use_email_name_as_username"`
	UseRandomUsernames     bool `mapstructure:"use_random_usernames"`
}

// LinkingOverrides mirrors LinkingConfig with optional values; a nil field
// falls back to the global default.
type LinkingOverrides struct {
	MigrateUsersByEmail    *bool `mapstructure:"migrate_users_by_email"`
	MigrateUsersByUserName *bool `mapstructure:"migrate_users_by_username"`
	ForceReauth            *bool `mapstructure:"force_reauth"`
	SingleLogout           *bool `mapstructure:"single_logout"`
	UseRealNameAsUserName  *bool `mapstructure:"use_real_name_as_username"`
	UseEmailNameAsUserName *bool `mapstructure:"use_email_name_as_username"`
	UseRandomUsernames     *bool `mapstructure:"use_random_usernames"`
}

type IssuerConfig struct {
	ID           string `mapstructure:"id" validate:"required"`
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
	ProviderURL  string `mapstructure:"provider_url" validate:"required,url"`

	// Scope accepts a list or a single space separated string.
	Scope      []string          `mapstructure:"scope"`
	AuthParams map[string]string `mapstructure:"auth_params"`
	Proxy      string            `mapstructure:"proxy" validate:"omitempty,url"`
	VerifyHost *bool             `mapstructure:"verify_host"`
	VerifyPeer *bool             `mapstructure:"verify_peer"`

	// ProviderConfig replaces discovery when set. Recognised keys are
	// issuer, authorization_endpoint, token_endpoint, userinfo_endpoint,
	// jwks_uri, end_session_endpoint and id_token_signing_alg_values_supported.
	ProviderConfig map[string]string `mapstructure:"provider_config"`

	PreferredUsernameClaim string     `mapstructure:"preferred_username"`
	Processors             Processors `mapstructure:"processors"`

	Linking LinkingOverrides `mapstructure:"linking"`
	Roles   RoleMappings     `mapstructure:"roles"`
}

// Processors names the post-processing transform applied to each claim.
type Processors struct {
	RealName          string `mapstructure:"real_name" validate:"omitempty,oneof=lower upper title trim"`
	Email             string `mapstructure:"email" validate:"omitempty,oneof=lower upper title trim"`
	PreferredUsername string `mapstructure:"preferred_username" validate:"omitempty,oneof=lower upper title trim"`
}

type RoleMappings struct {
	GlobalRoles RoleMapping `mapstructure:"global_roles"`
	WikiRoles   RoleMapping `mapstructure:"wiki_roles"`
}

// RoleMapping points at a claim inside the access token (Property is the
// path of nested keys) and lists label prefixes for the derived groups.
type RoleMapping struct {
	Property []string `mapstructure:"property"`
	Prefix   []string `mapstructure:"prefix"`
}

// Load reads configs/config.yaml (if present), a local .env file and
// OIDC_LINKER_* environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OIDC_LINKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_port", "8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("database_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure_cookie", true)

	v.SetDefault("linking.migrate_users_by_email", false)
	v.SetDefault("linking.migrate_users_by_username", false)
	v.SetDefault("linking.force_reauth", false)
	v.SetDefault("linking.single_logout", false)
	v.SetDefault("linking.use_real_name_as_username", false)
	v.SetDefault("linking.use_email_name_as_username", false)
	v.SetDefault("linking.use_random_usernames", false)
}

// Validate fails fast on missing or malformed issuer settings.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[string]struct{}, len(c.Issuers))
	for _, iss := range c.Issuers {
		if _, dup := seen[iss.ID]; dup {
			return fmt.Errorf("%w: duplicate issuer id %q", ErrInvalid, iss.ID)
		}
		seen[iss.ID] = struct{}{}
	}

	return nil
}

// Issuer returns the issuer configuration with the given id.
func (c *Config) Issuer(id string) (IssuerConfig, bool) {
	for _, iss := range c.Issuers {
		if iss.ID == id {
			return iss, true
		}
	}
	return IssuerConfig{}, false
}

// CallbackURL is the redirect URI registered with an issuer.
func (c *Config) CallbackURL(issuerID string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/oauth/callback/" + url.PathEscape(issuerID)
}

// EffectiveLinking merges the issuer's overrides onto the global defaults.
func (c *Config) EffectiveLinking(iss IssuerConfig) LinkingConfig {
	out := c.Linking
	o := iss.Linking

	pick := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}

	pick(&out.MigrateUsersByEmail, o.MigrateUsersByEmail)
	pick(&out.MigrateUsersByUserName, o.MigrateUsersByUserName)
	pick(&out.ForceReauth, o.ForceReauth)
	pick(&out.SingleLogout, o.SingleLogout)
	pick(&out.UseRealNameAsUserName, o.UseRealNameAsUserName)
	pick(&out.UseEmailNameAsUserName, o.UseEmailNameAsUserName)
	pick(&out.UseRandomUsernames, o.UseRandomUsernames)

	return out
}

// Scopes returns the requested scopes, splitting space separated entries.
func (i IssuerConfig) Scopes() []string {
	var out []string
	for _, s := range i.Scope {
		out = append(out, strings.Fields(s)...)
	}
	if len(out) == 0 {
		return []string{"openid", "profile", "email"}
	}
	return out
}

// TLSVerify reports whether peer and host verification are enabled.
// Both default to on.
func (i IssuerConfig) TLSVerify() bool {
	peer := i.VerifyPeer == nil || *i.VerifyPeer
	host := i.VerifyHost == nil || *i.VerifyHost
	return peer && host
}
