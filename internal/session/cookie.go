package session

import (
	"net/http"
	"time"
)

const (
	// CookieName is used whenever the cookie is Secure and host-only.
	CookieName = "__Host-oidc_session"
	// PlainCookieName is used for local http deployments, where browsers
	// refuse __Host- cookies.
	PlainCookieName = "oidc_session"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Path     string
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// Name returns the cookie name these options issue.
func (o CookieOptions) Name() string {
	if o.Secure && o.Domain == "" {
		return CookieName
	}
	return PlainCookieName
}

// SetCookie issues the session cookie to the client.
func SetCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name(),
		Value:    sessionID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ReadCookie returns the session id sent by the client, if any.
func ReadCookie(r *http.Request, opts CookieOptions) (string, bool) {
	c, err := r.Cookie(opts.Name())
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name(),
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
