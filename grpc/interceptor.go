package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ag "github.com/authgate/authgate"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// VerifyToken maps a session token to a user id, returning "" for
	// invalid tokens. Required.
	VerifyToken func(token string) string

	// MetadataKey is the incoming metadata key carrying the token. Defaults
	// to "authorization".
	MetadataKey string

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig builds a config that verifies session tokens against
// auth and requires authentication on every method.
func NewInterceptorConfig(auth *ag.Auth) *InterceptorConfig {
	return &InterceptorConfig{
		VerifyToken: func(token string) string {
			claims := auth.VerifyJWT(token)
			if claims == nil {
				return ""
			}
			sub, err := claims.GetSubject()
			if err != nil {
				return ""
			}
			return sub
		},
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// WithPublicMethods marks the given full method names as callable without
// authentication.
func (c *InterceptorConfig) WithPublicMethods(methods ...string) *InterceptorConfig {
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	for _, m := range methods {
		c.PublicMethods[m] = true
	}
	return c
}

// EnsureDefaults fills in default values for any unset fields.
func (c *InterceptorConfig) EnsureDefaults() {
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKeyToken
	}
}

// authenticate verifies the call's token and returns the context carrying
// the resolved user id, or an Unauthenticated error when the method requires
// one and none verified.
func (c *InterceptorConfig) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	userID := ""
	if token := tokenFromMetadata(ctx, c.MetadataKey); token != "" && c.VerifyToken != nil {
		userID = c.VerifyToken(token)
	}
	if userID != "" {
		ctx = WithUserID(ctx, userID)
	}
	if c.RequireAuth && !c.PublicMethods[fullMethod] && userID == "" {
		return ctx, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies the
// session token in request metadata and attaches the user id to the context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.EnsureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that verifies the
// session token in request metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.EnsureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedServerStream overrides the stream context so handlers see the
// authenticated user.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context { return w.ctx }
