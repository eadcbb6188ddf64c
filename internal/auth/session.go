// Package auth issues and verifies the HS256 session tokens that carry a
// caller's identity to HTTP handlers and live connections.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed, expired, wrongly signed, or wrongly issued tokens.
	ErrInvalidToken = errors.New("auth: invalid session token")
	// ErrRoleNotIssuable is returned when signing or presenting a token for a role clients may not hold.
	ErrRoleNotIssuable = errors.New("auth: role cannot be carried by a session token")
)

// sessionClaims is the JWT body. Subject is the user id.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Sessions signs and verifies session tokens.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration

	// Now is the verification and issuing clock.
	Now func() time.Time
}

// NewSessions constructs a signer/verifier. ttl applies to issued tokens.
func NewSessions(secret, issuer string, ttl time.Duration) *Sessions {
	return &Sessions{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		Now:    time.Now,
	}
}

// Issue signs a token for who.
func (s *Sessions) Issue(who identity.Identity) (string, error) {
	if who.Anonymous() || !identity.ValidSessionRole(who.Role) {
		return "", ErrRoleNotIssuable
	}
	now := s.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   who.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: string(who.Role),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Verify parses token and returns the identity it carries.
func (s *Sessions) Verify(token string) (identity.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return identity.Identity{}, ErrInvalidToken
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Subject == "" {
		return identity.Identity{}, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}

	role := identity.Role(parsed.Role)
	if !identity.ValidSessionRole(role) {
		return identity.Identity{}, ErrRoleNotIssuable
	}
	return identity.Identity{Role: role, UserID: parsed.Subject}, nil
}

// FromRequest reads the token from "Authorization: Bearer" or, for browser
// websockets that cannot set headers, the "token" query parameter.
// A request without a token is anonymous and not an error.
func (s *Sessions) FromRequest(r *http.Request) (identity.Identity, error) {
	var token string
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return identity.Identity{}, ErrInvalidToken
		}
		token = rest
	} else {
		token = r.URL.Query().Get("token")
	}

	if token == "" {
		return identity.Identity{}, nil
	}
	return s.Verify(token)
}

type ctxKey struct{}

// WithIdentity stores who in ctx.
func WithIdentity(ctx context.Context, who identity.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, who)
}

// IdentityFrom returns the identity set by Middleware, anonymous if none.
func IdentityFrom(ctx context.Context) identity.Identity {
	who, _ := ctx.Value(ctxKey{}).(identity.Identity)
	return who
}

// Middleware resolves the caller identity once per request. Invalid tokens are rejected with 401.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, err := s.FromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid session token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
	})
}
