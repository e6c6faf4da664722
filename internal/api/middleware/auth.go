package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"fleettrack/internal/api/util"
)

type AuthMiddleware struct {
	secret string
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	if secret == "" {
		log.Warn().Msg("JWT secret not configured, API authentication disabled")
	}
	return &AuthMiddleware{secret: secret}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := util.BearerToken(r)
		if token == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		subject, err := util.VerifyToken(m.secret, token)
		if err != nil {
			http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type userKey struct{}

// UserFromContext returns the authenticated subject, if any.
func UserFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(userKey{}).(string)
	return subject
}
