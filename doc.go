// Package authgate provides a drop-in OAuth/OIDC authentication layer for Go
// web applications.
//
// AuthGate handles the full sign-in lifecycle: redirecting to an identity
// provider with CSRF and PKCE protection, exchanging the callback code,
// resolving or creating the local user, linking the provider account, and
// issuing a stateless JWT session. The application supplies two things: an
// Adapter for persistence and one or more Providers.
//
// # Architecture
//
// User: an account in your system, identified by ID and carrying profile
// fields (name, email, verification status, avatar).
//
// Account: a link between a user and an identity at a provider, keyed by
// (provider, providerAccountId) and holding the provider's tokens.
//
// Session: a signed JWT. There is no server-side session record; the token
// itself is the session, and sign-out simply deletes the cookie.
//
// # Basic Usage
//
// Construct an Auth context and mount its handler:
//
//	import (
//	    "github.com/authgate/authgate"
//	    agoauth2 "github.com/authgate/authgate/oauth2"
//	    "github.com/authgate/authgate/stores"
//	)
//
//	auth, err := authgate.New(authgate.Options{
//	    Adapter: stores.NewFSAdapter("/path/to/storage"),
//	    Providers: []authgate.Provider{
//	        agoauth2.NewGoogle("", "", nil),
//	        agoauth2.NewGitHub("", "", nil),
//	    },
//	    JWT: authgate.JWTOptions{Secret: "change-me"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/auth/", auth.Handler())
//
// The handler serves GET /{provider} to start a flow, GET
// /{provider}/callback for the provider redirect, GET /session for
// introspection and POST /signout.
//
// # Protecting Routes
//
// The Middleware type attaches the session user to request contexts:
//
//	mw := &authgate.Middleware{Auth: auth}
//	mux.Handle("/dashboard", mw.RequireUser(dashboardHandler))
//
// # Store Implementations
//
// The stores package ships a file-backed adapter suitable for development
// and small deployments, plus GORM and Google Cloud Datastore adapters under
// stores/gorm and stores/gae. Implement the Adapter interface to back
// authentication with any other store.
//
// # Security
//
// Every flow uses PKCE (S256) and a random CSRF state value round-tripped
// through a short-lived cookie. Cross-origin POSTs are rejected unless the
// origin host is listed in TrustHosts. Session tokens are signed with HS256
// or ES256 and verified with expiry, issuer and audience enforcement.
//
// # Testing
//
// Handlers can be exercised without a running server using httptest. Tests
// use temporary storage directories and fake providers for isolation.
package authgate
