package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"oidc-linker/internal/logger"
	"oidc-linker/internal/metrics"
	"oidc-linker/internal/session"
)

// Logout ends the local session. When the session's issuer has single
// logout enabled the response names the provider URL to visit next.
func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	var endSession string

	if sessionID, ok := session.ReadCookie(c.Request, h.cookie); ok {
		sess, err := h.sessions.Get(ctx, sessionID)
		if err != nil {
			logger.Warn("logout: session lookup failed", map[string]any{"error": err})
		}

		if sess != nil {
			if iss, ok := h.issuers[sess.Issuer]; ok && iss.SingleLogout {
				tokens, err := h.tokens.Get(ctx, sessionID)
				if err == nil && tokens != nil {
					endSession = iss.Resolver.Client().EndSessionURL(tokens.IDToken, h.returnURL(c.Query("returnto")))
				}
			}
		}

		// best-effort
		_ = h.sessions.Delete(ctx, sessionID)
		h.dropTokens(ctx, sessionID)

		logger.Info("logout", map[string]any{
			"single_logout": endSession != "",
			"ip":            c.ClientIP(),
		})
	}

	session.ClearCookie(c.Writer, h.cookie)

	if endSession != "" {
		c.JSON(http.StatusOK, gin.H{"redirect": endSession})
		return
	}
	c.Status(http.StatusNoContent)
}

// returnURL resolves a returnto parameter against the base URL. Anything
// but a local absolute path falls back to the base URL.
func (h *Handler) returnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return h.baseURL + "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return h.baseURL + "/"
	}
	return h.baseURL + u.RequestURI()
}

func (h *Handler) backchannelLogout(c *gin.Context) {
	fail := func(code, desc string) {
		metrics.RecordBackchannelLogout(false)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             code,
			"error_description": desc,
		})
	}

	iss, ok := h.issuer(c)
	if !ok {
		fail("invalid_request", "unknown oauth provider")
		return
	}

	raw := c.PostForm("logout_token")
	if raw == "" {
		fail("invalid_request", "missing logout_token")
		return
	}

	ctx := c.Request.Context()
	client := iss.Resolver.Client()

	subject, _, err := client.VerifyLogoutToken(ctx, raw)
	if err != nil {
		logger.Debug("could not verify logout token", map[string]any{"error": err})
		fail("not-verified", "The provided logout token could not be verified")
		return
	}

	// Links are stored under the configured provider URL.
	userID, username, err := h.identities.FindUserByIdentity(ctx, subject, client.ProviderURL())
	if err != nil {
		logger.Error("back-channel logout lookup failed", map[string]any{"error": err})
		fail("server_error", err.Error())
		return
	}
	if userID == 0 {
		fail("unknown-user", "no account is linked to the logout token subject")
		return
	}

	ids, err := h.sessions.DeleteForUser(ctx, userID)
	if err != nil {
		logger.Error("back-channel logout failed", map[string]any{"error": err})
		fail("server_error", err.Error())
		return
	}
	if len(ids) > 0 {
		h.dropTokens(ctx, ids...)
	}

	metrics.RecordBackchannelLogout(true)
	logger.Info("back-channel logout", map[string]any{
		"user_id":  userID,
		"username": username,
		"sessions": len(ids),
	})
	c.JSON(http.StatusOK, gin.H{})
}
