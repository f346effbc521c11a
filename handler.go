package authgate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// handoffPage is served when the session token cannot travel in a cookie
// (custom-scheme deep links, cross-host redirects). The only runtime value is
// the destination URL, injected as a JSON string literal so it cannot break
// out of the script.
const handoffPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Authentication Complete</title>
  <style>
    body {
      font-family: system-ui, -apple-system, "Segoe UI", Roboto, sans-serif;
      background-color: #09090b;
      color: #fafafa;
      display: flex;
      justify-content: center;
      align-items: center;
      height: 100vh;
      margin: 0;
      text-align: center;
    }
    .card {
      background-color: #18181b;
      border: 1px solid #27272a;
      border-radius: 0.75rem;
      padding: 2rem;
      max-width: 320px;
    }
    h1 { font-size: 1.25rem; font-weight: 600; margin: 0 0 0.5rem; }
    p { margin: 0; color: #a1a1aa; }
  </style>
  <script>
    window.onload = function() {
      const url = __DESTINATION__;
      window.location.href = url;
      setTimeout(window.close, 500);
    };
  </script>
</head>
<body>
  <div class="card">
    <h1>Authentication Successful</h1>
    <p>You can now close this window.</p>
  </div>
</body>
</html>`

// Handler returns the http.Handler serving all auth routes. The handler does
// its own base-path check, so it can be registered on a root mux without
// prefix stripping.
func (a *Auth) Handler() http.Handler { return a }

// ServeHTTP dispatches requests under BasePath to the sign-in, callback,
// session and sign-out flows. Every response carries CORS headers reflecting
// the request Origin; OPTIONS preflights are answered before any other check.
func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cookie")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a.applyCORS(w, r)

	if !strings.HasPrefix(r.URL.Path, a.basePath+"/") && r.URL.Path != a.basePath {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	if r.Method == http.MethodPost && !a.verifyRequestOrigin(r) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, a.basePath))
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		switch {
		case len(parts) == 1 && parts[0] == "session":
			a.handleSession(w, r)
		case len(parts) == 1:
			a.handleSignIn(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "callback":
			a.handleCallback(w, r, parts[0])
		default:
			writeError(w, http.StatusNotFound, "Not Found")
		}
	case http.MethodPost:
		if len(parts) == 1 && parts[0] == "signout" {
			a.handleSignOut(w, r)
		} else {
			writeError(w, http.StatusNotFound, "Not Found")
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

// handleSignIn starts the OAuth flow: generate CSRF and PKCE secrets, stash
// them in short-lived cookies, and send the client to the provider.
func (a *Auth) handleSignIn(w http.ResponseWriter, r *http.Request, providerID string) {
	provider := a.providers[providerID]
	if provider == nil {
		writeError(w, http.StatusBadRequest, "Provider not found")
		return
	}

	q := r.URL.Query()
	csrfToken := newCSRFToken()
	codeVerifier := newCodeVerifier()
	state := encodeState(csrfToken, q.Get("redirectTo"))

	callbackURI := q.Get("callbackUri")
	if callbackURI == "" && provider.RequiresRedirectURI() {
		callbackURI = requestOrigin(r) + a.basePath + "/" + providerID + "/callback"
	}

	authURL, err := provider.AuthorizationURL(state, codeVerifier, callbackURI)
	if err != nil {
		slog.Error("failed to build authorization url", "provider", providerID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to build authorization URL")
		return
	}

	maxAge := int(CSRFMaxAge.Seconds())
	a.setCookie(w, CSRFCookieName, csrfToken, maxAge)
	a.setCookie(w, PKCECookieName, codeVerifier, maxAge)
	if callbackURI != "" {
		a.setCookie(w, CallbackURICookieName, callbackURI, maxAge)
	}

	// Clients that must not auto-follow redirects (native app shells) ask
	// for the URL in a JSON body instead.
	if q.Get("redirect") == "false" {
		writeJSON(w, http.StatusOK, map[string]any{"url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback drives the post-redirect state machine: CSRF check, code
// exchange, identity resolution, account linking, session minting and
// delivery. Every check is a hard-fail point with no partial mutation.
func (a *Auth) handleCallback(w http.ResponseWriter, r *http.Request, providerID string) {
	provider := a.providers[providerID]
	if provider == nil {
		writeError(w, http.StatusBadRequest, "Provider not found")
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "Missing code or state")
		return
	}

	savedState, redirectTo := parseState(state)

	// Exact-match CSRF comparison against the cookie value is the sole CSRF
	// defense on this route.
	csrfCookie, err := r.Cookie(CSRFCookieName)
	if err != nil || csrfCookie.Value == "" || csrfCookie.Value != savedState {
		writeError(w, http.StatusForbidden, "Invalid CSRF token")
		return
	}

	pkceCookie, err := r.Cookie(PKCECookieName)
	if err != nil || pkceCookie.Value == "" {
		writeError(w, http.StatusBadRequest, "Missing PKCE code verifier")
		return
	}

	callbackURI := ""
	if c, err := r.Cookie(CallbackURICookieName); err == nil {
		callbackURI = c.Value
	}

	ctx := r.Context()
	profile, tokens, err := provider.ValidateCallback(ctx, code, pkceCookie.Value, callbackURI)
	if err != nil {
		slog.Error("callback validation failed", "provider", providerID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to validate callback")
		return
	}

	userFromAccount, err := a.GetUserByAccount(ctx, providerID, profile.ID)
	if err != nil {
		slog.Error("account lookup failed", "provider", providerID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	user := userFromAccount
	if user == nil {
		if user = a.resolveUser(ctx, w, providerID, profile); user == nil {
			return
		}
	}

	// Linking only happens for a first-time (provider, providerAccountId)
	// pair; returning users skip it entirely.
	if userFromAccount == nil {
		if err := a.linkAccount(ctx, user.ID, providerID, profile, tokens); err != nil {
			slog.Error("error linking account", "provider", providerID, "err", err)
			writeError(w, http.StatusInternalServerError, "Failed to link account")
			return
		}
	}

	sessionToken, err := a.CreateSession(user.ID, nil, 0)
	if err != nil {
		slog.Error("failed to mint session token", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	a.deliverSession(w, r, user, sessionToken, redirectTo, callbackURI)
}

// resolveUser applies the auto-link policy for a provider identity with no
// linked account: reuse an existing user with the profile's email when
// permitted, otherwise create a new user. On failure the error response is
// written and nil returned.
func (a *Auth) resolveUser(ctx context.Context, w http.ResponseWriter, providerID string, profile *Profile) *User {
	if a.shouldAutoLink(profile) {
		existing, err := a.GetUserByEmail(ctx, profile.Email)
		if err != nil {
			slog.Error("email lookup failed", "provider", providerID, "err", err)
			writeError(w, http.StatusInternalServerError, "Failed to resolve user")
			return nil
		}
		if existing != nil {
			// A provider vouching for the email upgrades the existing
			// record's verification flag; otherwise reuse it as-is.
			if profile.EmailVerified && !existing.EmailVerified {
				verified := true
				updated, err := a.UpdateUser(ctx, UserPatch{ID: existing.ID, EmailVerified: &verified})
				if err != nil {
					slog.Error("failed to update user", "user", existing.ID, "err", err)
					writeError(w, http.StatusInternalServerError, "Failed to resolve user")
					return nil
				}
				return updated
			}
			return existing
		}
	}

	user, err := a.CreateUser(ctx, &User{
		Name:          profile.Name,
		Email:         profile.Email,
		Image:         profile.Avatar,
		EmailVerified: profile.EmailVerified,
	})
	if err != nil {
		slog.Error("failed to create user", "provider", providerID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return nil
	}
	return user
}

func (a *Auth) shouldAutoLink(profile *Profile) bool {
	if profile.Email == "" {
		return false
	}
	switch a.opts.AutoLink {
	case AutoLinkAlways:
		return true
	case AutoLinkVerifiedEmail:
		return profile.EmailVerified
	default:
		return false
	}
}

// fieldOr reads one token-set field, degrading to the zero value when the
// provider errors on a field it never issued. Applied per field so the other
// fields still populate.
func fieldOr[T any](accessor func() (T, error)) T {
	v, err := accessor()
	if err != nil {
		var zero T
		return zero
	}
	return v
}

// linkAccount persists the account record for a first-time provider
// identity. The access token is required; the optional fields are extracted
// defensively.
func (a *Auth) linkAccount(ctx context.Context, userID, providerID string, profile *Profile, tokens TokenSet) error {
	accessToken, err := tokens.AccessToken()
	if err != nil {
		return err
	}

	account := &Account{
		UserID:            userID,
		Provider:          providerID,
		ProviderAccountID: profile.ID,
		AccessToken:       accessToken,
		RefreshToken:      fieldOr(tokens.RefreshToken),
		TokenType:         fieldOr(tokens.TokenType),
		IDToken:           fieldOr(tokens.IDToken),
	}
	if expiresAt := fieldOr(tokens.AccessTokenExpiresAt); !expiresAt.IsZero() {
		account.ExpiresAt = &expiresAt
	}
	if scopes := fieldOr(tokens.Scopes); len(scopes) > 0 {
		account.Scope = strings.Join(scopes, " ")
	}

	return a.LinkAccount(ctx, account)
}

// deliverSession hands the minted session token to the client. Cookie-capable
// clients get the session cookie plus a redirect (or JSON body); deep-link
// and cross-host targets get an HTML handoff page carrying the token as a
// query parameter, since a cookie cannot be set for a foreign destination.
func (a *Auth) deliverSession(w http.ResponseWriter, r *http.Request, user *User, sessionToken, redirectTo, callbackURI string) {
	redirectURL, err := url.Parse(redirectTo)
	if err != nil {
		redirectURL = &url.URL{Path: "/"}
		redirectTo = "/"
	}

	deepLink := redirectURL.Scheme != "" && redirectURL.Scheme != "http" && redirectURL.Scheme != "https"
	crossHost := redirectURL.Host != "" && redirectURL.Host != r.Host

	clearFlow := func() {
		a.clearCookie(w, CSRFCookieName)
		a.clearCookie(w, PKCECookieName)
		if callbackURI != "" {
			a.clearCookie(w, CallbackURICookieName)
		}
	}

	if deepLink || crossHost {
		dest := *redirectURL
		dq := dest.Query()
		dq.Set("token", sessionToken)
		dest.RawQuery = dq.Encode()

		encoded, err := json.Marshal(dest.String())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create session")
			return
		}

		clearFlow()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(strings.Replace(handoffPage, "__DESTINATION__", string(encoded), 1))); err != nil {
			slog.Warn("failed to write handoff page", "err", err)
		}
		return
	}

	a.setCookie(w, SessionCookieName, sessionToken, int(a.opts.JWT.TTL.Seconds()))
	clearFlow()

	if r.URL.Query().Get("redirect") == "false" {
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// handleSession reports the current session. "No token" and "invalid token"
// deliberately share the same 401 null-shaped body; only an adapter failure
// during validation escalates to 500.
func (a *Auth) handleSession(w http.ResponseWriter, r *http.Request) {
	token := a.sessionTokenFromRequest(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"user": nil, "session": nil})
		return
	}

	user, session, err := a.ValidateSession(r.Context(), token)
	if err != nil {
		slog.Error("error validating session", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to validate session")
		return
	}
	if user == nil || session == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"user": nil, "session": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "session": session})
}

// handleSignOut deletes the session cookie. Sessions are stateless signed
// tokens, so there is nothing server-side to revoke.
func (a *Auth) handleSignOut(w http.ResponseWriter, _ *http.Request) {
	a.clearCookie(w, SessionCookieName)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Signed out"})
}

// sessionTokenFromRequest reads the session token from the session cookie,
// falling back to a Bearer authorization header.
func (a *Auth) sessionTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response body", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// splitPath breaks a path into its non-empty segments.
func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// requestOrigin reconstructs the scheme://host origin of a request, honoring
// X-Forwarded-Proto behind proxies.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// applyCORS reflects the request Origin onto the response. Requests without
// an Origin header get no CORS headers.
func (a *Auth) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cookie")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// verifyRequestOrigin enforces the trusted-host policy on mutating requests:
// blanket trust, exact same-origin match, or host membership in the list.
func (a *Auth) verifyRequestOrigin(r *http.Request) bool {
	if slices.Contains(a.opts.TrustHosts, "all") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if origin == requestOrigin(r) {
		return true
	}
	return slices.Contains(a.opts.TrustHosts, u.Host)
}
