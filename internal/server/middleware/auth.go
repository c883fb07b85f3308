// Package middleware provides HTTP and Connect-RPC middleware.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/services/auth"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey ContextKey = "claims"
)

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadFormat     = errors.New("invalid authorization format, expected 'Bearer <token>'")
	errBadToken      = errors.New("invalid or expired token")
	errForbidden     = errors.New("insufficient permissions")
)

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", errBadFormat
	}
	return token, nil
}

// Auth checks bearer tokens on HTTP routes and Connect-RPC procedures.
type Auth struct {
	verifier Verifier
	logger   *zap.Logger
}

// NewAuth creates the auth middleware.
func NewAuth(verifier Verifier, logger *zap.Logger) *Auth {
	return &Auth{
		verifier: verifier,
		logger:   logger.With(zap.String("middleware", "auth")),
	}
}

func (a *Auth) authenticate(header string) (*auth.Claims, error) {
	token, err := bearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("Token verification failed", zap.Error(err))
		return nil, errBadToken
	}
	return claims, nil
}

// Require wraps next so that only holders of a token granting role reach it.
func (a *Auth) Require(role auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if !claims.Role.Allows(role) {
			a.logger.Debug("Request forbidden",
				zap.String("operator", claims.Operator),
				zap.String("role", string(claims.Role)),
				zap.String("path", r.URL.Path),
			)
			writeError(w, http.StatusForbidden, errForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}

// WrapUnary returns a unary interceptor function.
func (a *Auth) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		claims, err := a.authenticate(req.Header().Get("Authorization"))
		if err != nil {
			return nil, connect.NewError(connect.CodeUnauthenticated, err)
		}

		ctx = context.WithValue(ctx, ClaimsKey, claims)
		return next(ctx, req)
	}
}

// WrapStreamingClient returns a streaming client interceptor.
func (a *Auth) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler returns a streaming handler interceptor.
func (a *Auth) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		claims, err := a.authenticate(conn.RequestHeader().Get("Authorization"))
		if err != nil {
			return connect.NewError(connect.CodeUnauthenticated, err)
		}

		ctx = context.WithValue(ctx, ClaimsKey, claims)
		return next(ctx, conn)
	}
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
