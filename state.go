package authgate

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// randomToken returns a base64url-encoded cryptographically random value.
func randomToken(numBytes int) string {
	b := make([]byte, numBytes)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewUserID returns a random 16-character hex id, for adapters that assign
// user ids themselves.
func NewUserID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// newCSRFToken generates the per-flow CSRF state value.
func newCSRFToken() string {
	return randomToken(32)
}

// newCodeVerifier generates a PKCE code verifier. 32 random bytes encode to
// 43 characters, inside the RFC 7636 length bounds.
func newCodeVerifier() string {
	return randomToken(32)
}

// encodeState appends the post-login redirect target to the CSRF token as a
// base64 suffix. The CSRF token is base64url and never contains a dot, so
// the first dot always separates the two segments.
func encodeState(csrfToken, redirectTo string) string {
	if redirectTo == "" {
		return csrfToken
	}
	return csrfToken + "." + base64.StdEncoding.EncodeToString([]byte(redirectTo))
}

// parseState splits an OAuth state parameter into its CSRF segment and the
// post-login redirect target. The redirect target falls back to "/" when the
// suffix is absent or does not decode.
func parseState(state string) (csrfToken, redirectTo string) {
	csrfToken = state
	redirectTo = "/"
	if i := strings.Index(state, "."); i >= 0 {
		csrfToken = state[:i]
		if decoded, err := base64.StdEncoding.DecodeString(state[i+1:]); err == nil && len(decoded) > 0 {
			redirectTo = string(decoded)
		}
	}
	return csrfToken, redirectTo
}
