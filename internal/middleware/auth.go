package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pairprep/interview-server-go/internal/audit"
	"github.com/pairprep/interview-server-go/internal/identity"
	"github.com/pairprep/interview-server-go/internal/model"
	"github.com/pairprep/interview-server-go/internal/service"
)

type contextKey string

const UserContextKey contextKey = "user"

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware verifies the bearer token against the identity provider
// and resolves the principal to a user row, creating one on first sight.
type AuthMiddleware struct {
	verifier    identity.Verifier
	userService *service.UserService
}

func NewAuthMiddleware(verifier identity.Verifier, userService *service.UserService) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, userService: userService}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		principal, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: token verification failed")
			audit.Log(r.Context(), audit.Event{
				Type: audit.EventAuthFailure,
				IP:   r.RemoteAddr,
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		user, err := m.userService.Resolve(r.Context(), principal)
		if err != nil {
			log.Error().Err(err).Str("externalId", principal.ExternalID).Msg("auth middleware: user resolution failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// SSE clients cannot set headers from EventSource; allow a query token.
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
