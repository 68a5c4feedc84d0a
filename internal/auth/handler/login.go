package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"oidc-linker/internal/auth"
	"oidc-linker/internal/auth/groups"
	"oidc-linker/internal/auth/resolver"
	"oidc-linker/internal/logger"
	"oidc-linker/internal/session"
)

func (h *Handler) login(c *gin.Context) {
	iss, ok := h.issuer(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	state, err := h.generateState(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to start login",
		})
		return
	}
	codeChallenge := h.generatePKCE(c)

	c.Redirect(http.StatusFound, iss.Resolver.Client().AuthCodeURL(state, codeChallenge))
}

func (h *Handler) callback(c *gin.Context) {
	providerName := c.Param("provider")

	iss, ok := h.issuer(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	if !validateState(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid state",
		})
		return
	}
	h.clearFlowCookies(c)

	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oidc callback returned error", map[string]any{
			"provider": providerName,
			"error":    errParam,
			"desc":     c.Query("error_description"),
		})
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "authentication failed",
			"error_description": errParam,
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("oidc callback missing code and error", nil)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	codeVerifier := pkceVerifier(c)
	if codeVerifier == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing pkce verifier",
		})
		return
	}

	sessionID, err := session.GenerateID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create session",
		})
		return
	}

	ctx := c.Request.Context()

	res, err := iss.Resolver.Authenticate(ctx, resolver.Request{
		Code:         code,
		CodeVerifier: codeVerifier,
		SessionID:    sessionID,
	})
	if err != nil {
		session.ClearCookie(c.Writer, h.cookie)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "authentication failed",
			"error_description": err.Error(),
		})
		return
	}

	userID, err := h.finishAccount(ctx, iss, res)
	if err != nil {
		logger.Error("failed to finalize account", map[string]any{
			"provider": providerName,
			"username": res.Username,
			"error":    err,
		})
		h.dropTokens(ctx, sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to resolve user",
		})
		return
	}

	h.syncGroups(ctx, iss, sessionID, userID)

	now := h.now()
	expiresAt := now.Add(h.sessionTTL)

	sess := session.Session{
		SessionID: sessionID,
		UserID:    userID,
		Issuer:    providerName,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := h.sessions.Create(ctx, sess); err != nil {
		h.dropTokens(ctx, sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to persist session",
		})
		return
	}

	session.SetCookie(c.Writer, sessionID, expiresAt, h.cookie)

	logger.Info("login success", map[string]any{
		"user_id":  userID,
		"provider": providerName,
		"path":     string(res.Path),
		"ip":       c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{
		"status":   "authenticated",
		"user_id":  userID,
		"username": res.Username,
	})
}

// finishAccount creates the account for a new identity and links it, or
// refreshes the profile of an existing one.
func (h *Handler) finishAccount(ctx context.Context, iss Issuer, res *auth.Result) (int64, error) {
	if !res.NewAccount() {
		if err := h.accounts.SyncProfile(ctx, res.UserID, res.RealName, res.Email); err != nil {
			return 0, err
		}
		return res.UserID, nil
	}

	u, err := h.accounts.CreateUser(ctx, res.Username, res.RealName, res.Email)
	if err != nil {
		return 0, err
	}
	if err := iss.Resolver.SaveLink(ctx, u.ID, res.Subject, res.Issuer); err != nil {
		return 0, err
	}
	return u.ID, nil
}

func (h *Handler) syncGroups(ctx context.Context, iss Issuer, sessionID string, userID int64) {
	tokens, err := h.tokens.Get(ctx, sessionID)
	if err == nil {
		err = h.groups.Populate(ctx, groups.AuthContext{
			Method: groups.MethodOIDC,
			Roles:  iss.Roles,
			Tokens: tokens,
		}, userID)
	}
	if err != nil {
		logger.Warn("group sync failed", map[string]any{
			"user_id": userID,
			"error":   err,
		})
	}
}

func (h *Handler) dropTokens(ctx context.Context, sessionIDs ...string) {
	if err := h.tokens.Clear(ctx, sessionIDs...); err != nil {
		logger.Error("failed to clear token cache", map[string]any{"error": err})
	}
}
