package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/groups"
	"oidc-linker/internal/auth/resolver"
	"oidc-linker/internal/config"
	"oidc-linker/internal/directory"
	"oidc-linker/internal/logger"
	"oidc-linker/internal/session"
)

var ErrMissingDependency = errors.New("handler: missing dependency")

// Issuer is one configured login option.
type Issuer struct {
	Resolver     resolver.Resolver
	Roles        config.RoleMappings
	SingleLogout bool
}

// Accounts is the host account directory.
type Accounts interface {
	CreateUser(ctx context.Context, name, realName, email string) (*directory.User, error)
	SyncProfile(ctx context.Context, id int64, realName, email string) error
}

type Identities interface {
	FindUserByIdentity(ctx context.Context, subject, issuer string) (int64, string, error)
}

type GroupSync interface {
	Populate(ctx context.Context, ac groups.AuthContext, userID int64) error
}

// Tokens is the session token cache.
type Tokens interface {
	Get(ctx context.Context, sessionID string) (*session.TokenCache, error)
	Clear(ctx context.Context, sessionIDs ...string) error
}

// Refresher serves token data that may need a refresh first.
type Refresher interface {
	Attributes(ctx context.Context, sessionID string) (claims.Value, error)
	AccessTokenRaw(ctx context.Context, sessionID string) (string, error)
}

type Deps struct {
	Issuers    map[string]Issuer
	Accounts   Accounts
	Identities Identities
	Groups     GroupSync
	Sessions   session.Store
	Tokens     Tokens
	Refresher  Refresher

	Cookie     session.CookieOptions
	SessionTTL time.Duration
	BaseURL    string
}

type Handler struct {
	issuers    map[string]Issuer
	accounts   Accounts
	identities Identities
	groups     GroupSync
	sessions   session.Store
	tokens     Tokens
	refresher  Refresher

	cookie     session.CookieOptions
	sessionTTL time.Duration
	baseURL    string
	now        func() time.Time
}

func NewHandler(d Deps) (*Handler, error) {
	if len(d.Issuers) == 0 || d.Accounts == nil || d.Identities == nil || d.Groups == nil ||
		d.Sessions == nil || d.Tokens == nil || d.Refresher == nil {
		return nil, ErrMissingDependency
	}
	for name, iss := range d.Issuers {
		if iss.Resolver == nil {
			return nil, errors.Join(ErrMissingDependency, errors.New("issuer "+name))
		}
	}

	ttl := d.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Handler{
		issuers:    d.Issuers,
		accounts:   d.Accounts,
		identities: d.Identities,
		groups:     d.Groups,
		sessions:   d.Sessions,
		tokens:     d.Tokens,
		refresher:  d.Refresher,
		cookie:     d.Cookie,
		sessionTTL: ttl,
		baseURL:    strings.TrimRight(d.BaseURL, "/"),
		now:        time.Now,
	}, nil
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/oauth/login/:provider", h.login)
	r.GET("/oauth/callback/:provider", h.callback)
	r.POST("/oauth/backchannel-logout/:provider", h.backchannelLogout)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/providers", h.providers)

	for _, route := range r.Routes() {
		logger.Debug("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}
}

func (h *Handler) issuer(c *gin.Context) (Issuer, bool) {
	iss, ok := h.issuers[c.Param("provider")]
	return iss, ok
}

func (h *Handler) providers(c *gin.Context) {
	names := make([]string, 0, len(h.issuers))
	for name := range h.issuers {
		names = append(names, name)
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"providers": names})
}
