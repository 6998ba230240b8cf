// Package middleware holds the HTTP middleware wrapped around the API router.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clothbridge/clothbridge/internal/errors"
	internalhttputil "github.com/clothbridge/clothbridge/internal/httputil"
	"github.com/clothbridge/clothbridge/internal/logging"
)

// Claims are the fields read from a Supabase access token. The user ID is the
// subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 access tokens signed with the project's JWT
// secret.
type AuthMiddleware struct {
	secret    []byte
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an auth middleware. Requests to skipPaths pass
// through Required untouched.
func NewAuthMiddleware(secret []byte, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		if p = strings.TrimSpace(p); p != "" {
			skip[p] = true
		}
	}
	return &AuthMiddleware{secret: secret, logger: logger, skipPaths: skip}
}

// Required rejects requests without a valid token.
func (m *AuthMiddleware) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := tokenFrom(r)
		if token == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}
		claims, err := m.ValidateToken(token)
		if err != nil {
			m.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// Optional attaches the caller's identity when a valid token is present and
// serves the request anonymously otherwise.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := tokenFrom(r); token != "" {
			claims, err := m.ValidateToken(token)
			if err == nil {
				r = r.WithContext(withClaims(r.Context(), claims))
			} else {
				m.logger.WithContext(r.Context()).WithError(err).Debug("ignoring invalid token on optional route")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateToken parses and verifies tokenString.
func (m *AuthMiddleware) ValidateToken(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, errors.Unauthorized("Authentication is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "token has no subject")
	}
	if claims.Role == "anon" {
		return nil, errors.Unauthorized("Sign in required")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}
	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.LogSecurityEvent(r.Context(), "auth_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
		"reason": serviceErr.Message,
	})
}

// tokenFrom reads the bearer token. Browsers cannot set headers on websocket
// upgrades, so those may pass it as ?token= instead.
func tokenFrom(r *http.Request) string {
	if token := internalhttputil.BearerToken(r); token != "" {
		return token
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func withClaims(ctx context.Context, c *Claims) context.Context {
	ctx = logging.WithUserID(ctx, c.Subject)
	if c.Role != "" {
		ctx = context.WithValue(ctx, logging.RoleKey, c.Role)
	}
	if c.Email != "" {
		ctx = context.WithValue(ctx, logging.EmailKey, c.Email)
	}
	return ctx
}

// GetUserID returns the authenticated user, or "".
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}
