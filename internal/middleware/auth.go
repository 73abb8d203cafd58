package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/visasight/prediction-service/internal/errors"
	"github.com/visasight/prediction-service/internal/logging"
)

// Claims represents the admin JWT claims
type Claims struct {
	Subject string `json:"sub_name,omitempty"`
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuth guards mutating model-management endpoints with an HMAC-signed
// bearer token. An empty secret disables the guard, which keeps local
// development friction-free.
type AdminAuth struct {
	secret []byte
	logger *logging.Logger
}

// NewAdminAuth creates the admin authentication middleware
func NewAdminAuth(secret string, logger *logging.Logger) *AdminAuth {
	if logger == nil {
		logger = logging.Default("auth")
	}
	return &AdminAuth{
		secret: []byte(secret),
		logger: logger,
	}
}

// Enabled reports whether a secret is configured.
func (m *AdminAuth) Enabled() bool {
	return len(m.secret) > 0
}

// Handler returns the middleware handler
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.reject(w, r, errors.Unauthorized("missing Authorization header"), nil)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.reject(w, r, errors.Unauthorized("invalid Authorization header format"), nil)
			return
		}

		if err := m.validateToken(parts[1]); err != nil {
			m.reject(w, r, errors.Unauthorized("invalid token"), err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateToken parses and checks the token signature and expiry.
func (m *AdminAuth) validateToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenUnverifiable
	}
	return nil
}

func (m *AdminAuth) reject(w http.ResponseWriter, r *http.Request, serviceErr *errors.ServiceError, cause error) {
	m.logger.WithContext(r.Context()).WithError(cause).LogSecurityEvent(r.Context(), "admin_auth_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	})
	writeServiceError(w, serviceErr)
}
