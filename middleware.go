package authgate

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

type contextKey string

const (
	userContextKey    contextKey = "authgate.user"
	sessionContextKey contextKey = "authgate.session"
)

// UserFromContext returns the user attached by ExtractUser or RequireUser, or
// nil when the request carried no valid session.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

// SessionFromContext returns the session attached by ExtractUser or
// RequireUser, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey).(*Session)
	return s
}

// Middleware wraps application handlers with session resolution backed by an
// Auth context. The zero value with just Auth set is usable.
type Middleware struct {
	Auth *Auth

	// LoginURL, when set, makes RequireUser redirect unauthenticated
	// requests there instead of answering 401. The original path is
	// appended under CallbackParam.
	LoginURL string

	// CallbackParam is the query parameter carrying the original URL on a
	// login redirect. Defaults to "redirectTo".
	CallbackParam string
}

func (m *Middleware) callbackParam() string {
	if m.CallbackParam == "" {
		return "redirectTo"
	}
	return m.CallbackParam
}

// ExtractUser resolves the request's session token and attaches the user and
// session to the request context. Requests without a valid session pass
// through untouched; enforcement is RequireUser's job.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, session, err := m.Auth.ValidateSession(r.Context(), m.Auth.sessionTokenFromRequest(r))
		if err == nil && user != nil {
			ctx := context.WithValue(r.Context(), userContextKey, user)
			ctx = context.WithValue(ctx, sessionContextKey, session)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser is ExtractUser plus enforcement: requests without a valid
// session get a 401, or a redirect to LoginURL when configured.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return m.ExtractUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			if m.LoginURL != "" {
				original := r.URL.Path
				if r.URL.RawQuery != "" {
					original += "?" + r.URL.RawQuery
				}
				encoded := strings.Replace(url.QueryEscape(original), "+", "%20", -1)
				http.Redirect(w, r, m.LoginURL+"?"+m.callbackParam()+"="+encoded, http.StatusFound)
			} else {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"user": nil, "session": nil})
			}
			return
		}
		next.ServeHTTP(w, r)
	}))
}
