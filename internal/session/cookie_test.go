package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetReadClearCookie(t *testing.T) {
	opts := CookieOptions{Secure: true}

	w := httptest.NewRecorder()
	SetCookie(w, "sid", time.Now().Add(time.Hour), opts)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "sid", cookies[0].Value)
	assert.Equal(t, "/", cookies[0].Path)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookies[0])
	id, ok := ReadCookie(r, opts)
	assert.True(t, ok)
	assert.Equal(t, "sid", id)

	w = httptest.NewRecorder()
	ClearCookie(w, opts)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestPlainCookieForInsecureDeployments(t *testing.T) {
	opts := CookieOptions{}
	assert.Equal(t, PlainCookieName, opts.Name())
	assert.Equal(t, PlainCookieName, CookieOptions{Secure: true, Domain: "example.org"}.Name())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ReadCookie(r, opts)
	assert.False(t, ok)
}

func TestGenerateID(t *testing.T) {
	a, err := GenerateID()
	require.NoError(t, err)
	b, err := GenerateID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}
