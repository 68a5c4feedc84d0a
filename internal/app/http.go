package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/groups"
	"oidc-linker/internal/auth/handler"
	"oidc-linker/internal/auth/migration"
	"oidc-linker/internal/auth/provider"
	"oidc-linker/internal/auth/provider/openid"
	"oidc-linker/internal/auth/resolver"
	"oidc-linker/internal/auth/store"
	"oidc-linker/internal/auth/tokens"
	"oidc-linker/internal/auth/username"
	"oidc-linker/internal/config"
	"oidc-linker/internal/directory"
	"oidc-linker/internal/metrics"
	"oidc-linker/internal/middleware"
	"oidc-linker/internal/session"
)

func setupHTTP(
	ctx context.Context,
	cfg *config.Config,
	gdb *gorm.DB,
	rdb *goredis.Client,
	reg *prometheus.Registry,
) (*gin.Engine, error) {

	// ----------------------------
	// Dependencies
	// ----------------------------

	dir, err := directory.New(gdb)
	if err != nil {
		return nil, err
	}
	links, err := store.New(gdb)
	if err != nil {
		return nil, err
	}

	sessionStore := session.NewRedisStore(rdb)
	tokenStore := session.NewTokenStore(rdb, cfg.Session.TTL)

	cookie := session.CookieOptions{
		Secure:   cfg.Session.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}

	issuers := make(map[string]handler.Issuer, len(cfg.Issuers))
	clients := make([]provider.Client, 0, len(cfg.Issuers))

	for _, iss := range cfg.Issuers {
		client, err := newClient(ctx, cfg, iss)
		if err != nil {
			return nil, err
		}

		authn, err := newAuthenticator(cfg, iss, client, dir, links, tokenStore)
		if err != nil {
			return nil, err
		}

		issuers[iss.ID] = handler.Issuer{
			Resolver:     authn,
			Roles:        iss.Roles,
			SingleLogout: cfg.EffectiveLinking(iss).SingleLogout,
		}
		clients = append(clients, client)
	}

	manager, err := tokens.NewManager(tokenStore, provider.NewRegistry(clients...))
	if err != nil {
		return nil, err
	}

	sync, err := groups.New(dir, links)
	if err != nil {
		return nil, err
	}

	authHandler, err := handler.NewHandler(handler.Deps{
		Issuers:    issuers,
		Accounts:   dir,
		Identities: links,
		Groups:     sync,
		Sessions:   sessionStore,
		Tokens:     tokenStore,
		Refresher:  manager,
		Cookie:     cookie,
		SessionTTL: cfg.Session.TTL,
		BaseURL:    cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	authMiddleware := middleware.NewAuthMiddleware(sessionStore, cookie)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", authHandler.Me)
	api.GET("/me/attributes", authHandler.Attributes)
	api.GET("/me/access-token", authHandler.AccessToken)

	return router, nil
}

func newClient(ctx context.Context, cfg *config.Config, iss config.IssuerConfig) (provider.Client, error) {
	httpClient, err := openid.HTTPClient(iss.Proxy, iss.TLSVerify())
	if err != nil {
		return nil, err
	}

	client, err := openid.New(ctx, openid.Options{
		Name:           iss.ID,
		ProviderURL:    iss.ProviderURL,
		ClientID:       iss.ClientID,
		ClientSecret:   iss.ClientSecret,
		RedirectURL:    cfg.CallbackURL(iss.ID),
		Scopes:         iss.Scopes(),
		AuthParams:     iss.AuthParams,
		ForceReauth:    cfg.EffectiveLinking(iss).ForceReauth,
		ProviderConfig: iss.ProviderConfig,
		HTTPClient:     httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("issuer %s: %w", iss.ID, err)
	}
	return client, nil
}

func newAuthenticator(
	cfg *config.Config,
	iss config.IssuerConfig,
	client provider.Client,
	dir *directory.Directory,
	links *store.Store,
	tokenStore *session.TokenStore,
) (*resolver.Authenticator, error) {
	linking := cfg.EffectiveLinking(iss)

	migrations, err := migration.New(links, migration.Options{
		ByEmail:    linking.MigrateUsersByEmail,
		ByUsername: linking.MigrateUsersByUserName,
	})
	if err != nil {
		return nil, err
	}

	usernames, err := username.New(dir, username.Options{
		Claim:        iss.PreferredUsernameClaim,
		UseRealName:  linking.UseRealNameAsUserName,
		UseEmailName: linking.UseEmailNameAsUserName,
		Processor:    processor(iss.Processors.PreferredUsername),
	})
	if err != nil {
		return nil, err
	}

	return resolver.New(client, links, migrations, usernames, tokenStore, resolver.Options{
		RandomUsernames:   linking.UseRandomUsernames,
		RealNameProcessor: processor(iss.Processors.RealName),
		EmailProcessor:    processor(iss.Processors.Email),
	})
}

// processor lifts a named string transform into a claim processor.
func processor(name string) username.Processor {
	f := config.Transform(name)
	if f == nil {
		return nil
	}
	return func(v string, _ claims.Value) string { return f(v) }
}
