package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/CrowderSoup/crm-board/services"
	"github.com/rs/zerolog/log"
)

type contextKey string

const identityContextKey contextKey = "identity"

type AuthMiddleware struct {
	authService *services.AuthService
}

func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// IdentityFrom returns the identity the auth middleware stored in ctx.
func IdentityFrom(ctx context.Context) (services.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(services.Identity)
	return id, ok
}

// WithIdentity stores id in ctx the way the auth middleware does.
func WithIdentity(ctx context.Context, id services.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		id, err := m.authService.VerifyJWT(tokenString)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket upgrades, where browsers cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		authParts := strings.Split(authHeader, " ")
		if len(authParts) != 2 || authParts[0] != "Bearer" || authParts[1] == "" {
			return "", false
		}
		return authParts[1], true
	}

	if websocketUpgrade(r) {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
