package resolver

import (
	"context"

	"oidc-linker/internal/auth"
	"oidc-linker/internal/auth/claims"
	"oidc-linker/internal/auth/provider"
	"oidc-linker/internal/auth/username"
	"oidc-linker/internal/logger"
	"oidc-linker/internal/metrics"
	"oidc-linker/internal/session"
)

type Options struct {
	RandomUsernames bool

	RealNameProcessor username.Processor
	EmailProcessor    username.Processor
}

// Authenticator runs login attempts for a single issuer.
type Authenticator struct {
	client     provider.Client
	links      LinkStore
	migrations Migrations
	usernames  Usernames
	tokens     TokenCache
	opts       Options
}

var _ Resolver = (*Authenticator)(nil)

func New(
	client provider.Client,
	links LinkStore,
	migrations Migrations,
	usernames Usernames,
	tokens TokenCache,
	opts Options,
) (*Authenticator, error) {
	if client == nil || links == nil || migrations == nil || usernames == nil || tokens == nil {
		return nil, ErrNilDependency
	}
	return &Authenticator{
		client:     client,
		links:      links,
		migrations: migrations,
		usernames:  usernames,
		tokens:     tokens,
		opts:       opts,
	}, nil
}

func (a *Authenticator) Client() provider.Client { return a.client }

// SaveLink records the identity of a freshly created account.
func (a *Authenticator) SaveLink(ctx context.Context, userID int64, subject, issuer string) error {
	return a.links.SaveLink(ctx, userID, subject, issuer)
}

// Authenticate completes the code exchange and resolves the login to an
// account. On failure the session's token cache is cleared and the error is
// an *Error naming the failed state.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (*auth.Result, error) {
	at := &attempt{Authenticator: a, req: req, state: StateStart}

	res, err := at.run(ctx)
	if err != nil {
		if clearErr := a.tokens.Clear(ctx, req.SessionID); clearErr != nil {
			logger.Error("failed to clear token cache", map[string]any{
				"issuer": a.client.Name(),
				"error":  clearErr,
			})
		}
		metrics.RecordLoginFailure(string(at.state))
		logger.Warn("oidc login failed", map[string]any{
			"issuer": a.client.Name(),
			"state":  string(at.state),
			"error":  err,
		})
		return nil, &Error{State: at.state, Err: err}
	}

	metrics.RecordLogin(string(res.Path))
	logger.Info("oidc login resolved", map[string]any{
		"issuer":   a.client.Name(),
		"path":     string(res.Path),
		"user_id":  res.UserID,
		"username": res.Username,
	})
	return res, nil
}

// attempt holds the per-login state.
type attempt struct {
	*Authenticator
	req   Request
	state State

	handshake *provider.Handshake
	info      *claims.Value
}

func (at *attempt) enter(s State) {
	at.state = s
	logger.Debug("oidc login state", map[string]any{
		"issuer": at.client.Name(),
		"state":  string(s),
	})
}

func (at *attempt) run(ctx context.Context) (*auth.Result, error) {
	at.enter(StateHandshake)
	h, err := at.client.Exchange(ctx, at.req.Code, at.req.CodeVerifier)
	if err != nil {
		return nil, err
	}
	at.handshake = h

	at.enter(StateClaimsExtracted)
	id, attrs, err := at.identity(ctx)
	if err != nil {
		return nil, err
	}

	res := &auth.Result{
		RealName: id.RealName,
		Email:    id.Email,
		Subject:  id.Subject,
		Issuer:   id.Issuer,
	}

	at.enter(StateDirectMatch)
	userID, name, err := at.links.FindUserByIdentity(ctx, id.Subject, id.Issuer)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		res.UserID, res.Username, res.Path = userID, name, auth.PathDirect
		return res, nil
	}

	at.enter(StateEmailMigration)
	userID, name, err = at.migrations.ByEmail(ctx, id.Email)
	if err != nil {
		return nil, err
	}
	if userID != 0 {
		if err := at.links.SaveLink(ctx, userID, id.Subject, id.Issuer); err != nil {
			return nil, err
		}
		res.UserID, res.Username, res.Path = userID, name, auth.PathEmail
		return res, nil
	}

	at.enter(StateUsernameResolution)
	preferred, err := at.usernames.Preferred(ctx, at, id.RealName, id.Email, attrs)
	if err != nil {
		return nil, err
	}

	at.enter(StateUsernameMigration)
	if preferred != "" {
		userID, name, err = at.migrations.ByUsername(ctx, preferred)
		if err != nil {
			return nil, err
		}
		if userID != 0 {
			if err := at.links.SaveLink(ctx, userID, id.Subject, id.Issuer); err != nil {
				return nil, err
			}
			res.UserID, res.Username, res.Path = userID, name, auth.PathUsername
			return res, nil
		}
	}

	at.enter(StateAccountAllocation)
	if at.opts.RandomUsernames {
		name, err = at.usernames.Random(ctx)
	} else {
		name, err = at.usernames.Available(ctx, preferred)
	}
	if err != nil {
		return nil, err
	}
	res.Username, res.Path = name, auth.PathNew
	return res, nil
}

// identity reads the claims of the login, caches the session tokens and
// returns the attribute set processors see.
func (at *attempt) identity(ctx context.Context) (auth.Identity, claims.Value, error) {
	h := at.handshake

	subject, err := at.Claim(ctx, "sub")
	if err != nil {
		return auth.Identity{}, claims.Value{}, err
	}
	if subject == "" {
		return auth.Identity{}, claims.Value{}, ErrNoSubject
	}

	realName, err := at.Claim(ctx, "name")
	if err != nil {
		return auth.Identity{}, claims.Value{}, err
	}
	email, err := at.Claim(ctx, "email")
	if err != nil {
		return auth.Identity{}, claims.Value{}, err
	}

	id := auth.Identity{
		Subject:  subject,
		Issuer:   at.client.ProviderURL(),
		RealName: realName,
		Email:    email,
	}

	err = at.tokens.Save(ctx, at.req.SessionID, &session.TokenCache{
		Subject:           id.Subject,
		Issuer:            id.Issuer,
		AccessToken:       h.AccessToken,
		AccessTokenClaims: h.AccessTokenClaims,
		IDToken:           h.IDToken,
		IDTokenClaims:     h.IDTokenClaims,
		RefreshToken:      h.RefreshToken,
	})
	if err != nil {
		return auth.Identity{}, claims.Value{}, err
	}

	attrs := h.IDTokenClaims.Merge(h.AccessTokenClaims)
	id.RealName = at.opts.RealNameProcessor.Apply(id.RealName, attrs)
	id.Email = at.opts.EmailProcessor.Apply(id.Email, attrs)

	logger.Debug("oidc identity", map[string]any{
		"subject":   id.Subject,
		"issuer":    id.Issuer,
		"real_name": id.RealName,
		"email":     id.Email,
	})
	return id, attrs, nil
}

// Claim returns a claim from the verified ID token, or from the user-info
// endpoint when the ID token lacks it. User info is fetched at most once.
func (at *attempt) Claim(ctx context.Context, name string) (string, error) {
	if v, ok := at.handshake.IDTokenClaims.Get(name); ok && !v.IsNull() {
		return v.String(), nil
	}

	if at.info == nil {
		info, err := at.client.UserInfo(ctx, at.handshake)
		if err != nil {
			return "", err
		}
		at.info = &info
	}

	v, _ := at.info.Get(name)
	return v.String(), nil
}
