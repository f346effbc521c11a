package authgate

import (
	"net/http"
	"time"
)

// Cookie names used by the handler. The CSRF, PKCE and callback-URI cookies
// are single-use flow state; the session cookie carries the signed session
// token for its configured ttl.
const (
	CSRFCookieName        = "authgate_csrf_token"
	PKCECookieName        = "authgate_pkce_verifier"
	CallbackURICookieName = "authgate_callback_uri"
	SessionCookieName     = "authgate_session_token"
)

// CSRFMaxAge bounds the window between sign-in initiation and the provider
// callback. Flow cookies expire after this and the callback then fails its
// CSRF check.
const CSRFMaxAge = 10 * time.Minute

// CookieOptions overrides the attributes applied to every cookie the handler
// sets. The defaults are cross-site compatible: Path "/", HttpOnly, Secure,
// SameSite=None.
type CookieOptions struct {
	Path   string
	Domain string

	// Insecure drops the Secure attribute, for local development over plain
	// http. SameSite=None cookies are rejected by browsers without Secure,
	// so this usually needs a SameSite override too.
	Insecure bool

	// SameSite defaults to http.SameSiteNoneMode.
	SameSite http.SameSite
}

// newCookie builds a cookie with the configured attribute overrides applied.
// maxAge < 0 produces a deletion cookie matching the attributes the value
// was originally set with.
func (o CookieOptions) newCookie(name, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !o.Insecure,
		SameSite: o.SameSite,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteNoneMode
	}
	if maxAge < 0 {
		c.Expires = time.Unix(0, 0)
	}
	return c
}

func (a *Auth) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, a.opts.Cookies.newCookie(name, value, maxAge))
}

func (a *Auth) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, a.opts.Cookies.newCookie(name, "", -1))
}
