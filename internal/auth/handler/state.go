package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"oidc-linker/internal/session"
)

// The state and PKCE verifier live in short-lived cookies between the
// redirect to the provider and the callback.
const (
	stateCookieName = "__oauth_state"
	pkceCookieName  = "__oauth_pkce"
	flowTTL         = 5 * time.Minute
)

func (h *Handler) setFlowCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handler) generateState(c *gin.Context) (string, error) {
	state, err := session.GenerateID()
	if err != nil {
		return "", err
	}
	h.setFlowCookie(c, stateCookieName, state, int(flowTTL.Seconds()))
	return state, nil
}

// generatePKCE stores a fresh verifier and returns its S256 challenge.
func (h *Handler) generatePKCE(c *gin.Context) string {
	verifier := oauth2.GenerateVerifier()
	h.setFlowCookie(c, pkceCookieName, verifier, int(flowTTL.Seconds()))
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func validateState(c *gin.Context) bool {
	query := c.Query("state")
	if query == "" {
		return false
	}
	cookie, err := c.Request.Cookie(stateCookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(query)) == 1
}

func pkceVerifier(c *gin.Context) string {
	cookie, err := c.Request.Cookie(pkceCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// clearFlowCookies drops the single-use state and verifier cookies.
func (h *Handler) clearFlowCookies(c *gin.Context) {
	h.setFlowCookie(c, stateCookieName, "", -1)
	h.setFlowCookie(c, pkceCookieName, "", -1)
}
