package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"oidc-linker/internal/middleware"
)

// Me reports the authenticated session. Mount behind the auth middleware.
func (h *Handler) Me(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    sess.UserID,
		"provider":   sess.Issuer,
		"expires_at": sess.ExpiresAt,
	})
}

// Attributes returns the merged ID and access token claims of the session.
func (h *Handler) Attributes(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attrs, err := h.refresher.Attributes(c.Request.Context(), sess.SessionID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load attributes"})
		return
	}
	c.JSON(http.StatusOK, attrs)
}

// AccessToken returns the session's access token, refreshed if it went stale.
func (h *Handler) AccessToken(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	raw, err := h.refresher.AccessTokenRaw(c.Request.Context(), sess.SessionID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to refresh access token"})
		return
	}
	if raw == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": raw})
}
