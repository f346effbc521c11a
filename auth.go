package authgate

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgES256 = "ES256"
)

// DefaultBasePath is the route prefix the handler serves when none is
// configured.
const DefaultBasePath = "/api/auth"

// DefaultSessionTTL is the default session token lifetime.
const DefaultSessionTTL = 24 * time.Hour

// AutoLinkPolicy controls whether a new provider identity may be linked to an
// existing user that shares its email address.
type AutoLinkPolicy string

const (
	// AutoLinkVerifiedEmail links by email only when the provider vouches
	// the email as verified. This is the default.
	AutoLinkVerifiedEmail AutoLinkPolicy = "verifiedEmail"

	// AutoLinkAlways links by email regardless of verification status.
	AutoLinkAlways AutoLinkPolicy = "always"

	// AutoLinkNever disables email-based linking; an unrecognized provider
	// identity always creates a new user.
	AutoLinkNever AutoLinkPolicy = "never"
)

// JWTOptions configures session token signing and verification.
type JWTOptions struct {
	// Algorithm is AlgHS256 or AlgES256. Defaults to ES256 when PrivateKey
	// is set, HS256 otherwise.
	Algorithm string

	// Secret is the HS256 signing secret. Falls back to the
	// AUTHGATE_JWT_SECRET environment variable when empty.
	Secret string

	// PrivateKey signs ES256 tokens. Asymmetric keys must be supplied here;
	// the Secret slot cannot hold one.
	PrivateKey *ecdsa.PrivateKey

	// PublicKey verifies ES256 tokens. Derived from PrivateKey when unset.
	PublicKey *ecdsa.PublicKey

	// Issuer and Audience are stamped into every token and enforced on
	// verification when non-empty.
	Issuer   string
	Audience string

	// TTL is the default session token lifetime. Defaults to 24h.
	TTL time.Duration
}

// Options configures an Auth context.
type Options struct {
	// Adapter persists users and linked accounts. Required.
	Adapter Adapter

	// Providers are the identity providers to serve, keyed by Provider.ID.
	Providers []Provider

	// BasePath is the route prefix for all auth endpoints. Defaults to
	// "/api/auth".
	BasePath string

	JWT     JWTOptions
	Cookies CookieOptions

	// TrustHosts are origin hosts allowed to make cross-origin POST
	// requests. The literal entry "all" trusts every origin. Same-origin
	// requests are always trusted. Defaults to empty.
	TrustHosts []string

	// AutoLink controls email-based account linking. Defaults to
	// AutoLinkVerifiedEmail.
	AutoLink AutoLinkPolicy
}

// Auth binds a storage adapter, a set of identity providers and configuration
// into one immutable facade. It embeds the adapter, exposes session
// creation/validation, and serves the HTTP flows via ServeHTTP.
type Auth struct {
	Adapter

	opts      Options
	basePath  string
	providers map[string]Provider
}

// New builds an Auth context. The returned value is immutable; concurrent
// requests never contend on it.
func New(opts Options) (*Auth, error) {
	if opts.Adapter == nil {
		return nil, ErrNoAdapter
	}
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	opts.BasePath = strings.TrimSuffix(opts.BasePath, "/")
	if opts.JWT.TTL <= 0 {
		opts.JWT.TTL = DefaultSessionTTL
	}
	if opts.JWT.Secret == "" {
		opts.JWT.Secret = strings.TrimSpace(os.Getenv("AUTHGATE_JWT_SECRET"))
	}
	if opts.JWT.Algorithm == "" {
		if opts.JWT.PrivateKey != nil {
			opts.JWT.Algorithm = AlgES256
		} else {
			opts.JWT.Algorithm = AlgHS256
		}
	}
	if opts.AutoLink == "" {
		opts.AutoLink = AutoLinkVerifiedEmail
	}

	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		if _, exists := providers[p.ID()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID())
		}
		providers[p.ID()] = p
	}

	return &Auth{
		Adapter:   opts.Adapter,
		opts:      opts,
		basePath:  opts.BasePath,
		providers: providers,
	}, nil
}

// BasePath returns the configured route prefix.
func (a *Auth) BasePath() string { return a.basePath }

// SessionTTL returns the configured session token lifetime.
func (a *Auth) SessionTTL() time.Duration { return a.opts.JWT.TTL }

// Provider returns the provider registered under id, or nil.
func (a *Auth) Provider(id string) Provider { return a.providers[id] }

// signingKey resolves the signing method and key for the configured
// algorithm. Missing key material is a ConfigError.
func (a *Auth) signingKey() (jwt.SigningMethod, any, error) {
	switch a.opts.JWT.Algorithm {
	case AlgHS256:
		if a.opts.JWT.Secret == "" {
			return nil, nil, &ConfigError{Reason: "HS256 requires a signing secret"}
		}
		return jwt.SigningMethodHS256, []byte(a.opts.JWT.Secret), nil
	case AlgES256:
		if a.opts.JWT.PrivateKey == nil {
			return nil, nil, &ConfigError{Reason: "ES256 requires the PrivateKey option; the symmetric Secret slot cannot hold an asymmetric key"}
		}
		return jwt.SigningMethodES256, a.opts.JWT.PrivateKey, nil
	default:
		return nil, nil, &ConfigError{Reason: "unsupported JWT algorithm: " + a.opts.JWT.Algorithm}
	}
}

// verificationKey resolves the key used to verify tokens.
func (a *Auth) verificationKey() (any, error) {
	switch a.opts.JWT.Algorithm {
	case AlgHS256:
		if a.opts.JWT.Secret == "" {
			return nil, &ConfigError{Reason: "HS256 requires a signing secret"}
		}
		return []byte(a.opts.JWT.Secret), nil
	case AlgES256:
		if a.opts.JWT.PublicKey != nil {
			return a.opts.JWT.PublicKey, nil
		}
		if a.opts.JWT.PrivateKey != nil {
			return &a.opts.JWT.PrivateKey.PublicKey, nil
		}
		return nil, &ConfigError{Reason: "ES256 requires the PublicKey or PrivateKey option"}
	default:
		return nil, &ConfigError{Reason: "unsupported JWT algorithm: " + a.opts.JWT.Algorithm}
	}
}

// SignJWT signs the given claims with the configured algorithm, stamping
// iss/aud when configured plus iat and exp. A non-positive ttl uses the
// configured default.
func (a *Auth) SignJWT(claims map[string]any, ttl time.Duration) (string, error) {
	method, key, err := a.signingKey()
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = a.opts.JWT.TTL
	}

	now := time.Now()
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	if a.opts.JWT.Issuer != "" {
		mc["iss"] = a.opts.JWT.Issuer
	}
	if a.opts.JWT.Audience != "" {
		mc["aud"] = a.opts.JWT.Audience
	}
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(ttl).Unix()

	return jwt.NewWithClaims(method, mc).SignedString(key)
}

// VerifyJWT parses and verifies a token, enforcing signature, expiry and the
// configured iss/aud. It never returns an error: any failure, including a
// missing verification key, yields nil claims.
func (a *Auth) VerifyJWT(tokenString string) jwt.MapClaims {
	key, err := a.verificationKey()
	if err != nil {
		return nil
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.opts.JWT.Algorithm}),
		jwt.WithExpirationRequired(),
	}
	if a.opts.JWT.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.opts.JWT.Issuer))
	}
	if a.opts.JWT.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.opts.JWT.Audience))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return key, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return claims
}

// Session is the decoded session token. There is no server-side session
// record; the token itself is the session, so ID is the raw token.
type Session struct {
	ID     string
	Claims jwt.MapClaims
}

// UserID returns the sub claim.
func (s *Session) UserID() string {
	sub, _ := s.Claims.GetSubject()
	return sub
}

// MarshalJSON flattens the claims with the session id added, so introspection
// responses carry the full claim set.
func (s *Session) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Claims)+1)
	for k, v := range s.Claims {
		m[k] = v
	}
	m["id"] = s.ID
	return json.Marshal(m)
}

// CreateSession mints a session token for userID. extra claims are merged in
// (sub always wins); a non-positive ttl uses the configured default.
func (a *Auth) CreateSession(userID string, extra map[string]any, ttl time.Duration) (string, error) {
	claims := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = userID
	return a.SignJWT(claims, ttl)
}

// ValidateSession verifies a session token and resolves its user through the
// adapter. A token that fails verification, or whose user no longer exists,
// yields (nil, nil, nil); an error is returned only for adapter failures.
func (a *Auth) ValidateSession(ctx context.Context, token string) (*User, *Session, error) {
	claims := a.VerifyJWT(token)
	if claims == nil {
		return nil, nil, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, nil, nil
	}
	user, err := a.GetUser(ctx, sub)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, nil
	}
	return user, &Session{ID: token, Claims: claims}, nil
}
