package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"whereabouts-backend/internal/services"
)

type contextKey string

const claimsKey contextKey = "claims"

// ClientTokenHeader carries the token of an approved client
const ClientTokenHeader = "X-Whereabouts-Client-Token"

// TokenValidator validates administrator tokens
type TokenValidator interface {
	ValidateJWT(token string) (*services.Claims, error)
}

// bearerToken extracts the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// APITokenMiddleware admits requests bearing one of the configured machine
// API tokens
func APITokenMiddleware(tokens []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondError(w, "API token required", http.StatusUnauthorized)
				return
			}

			for _, valid := range tokens {
				if subtle.ConstantTimeCompare([]byte(token), []byte(valid)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			respondError(w, "Invalid API token", http.StatusUnauthorized)
		})
	}
}

// AuthMiddleware creates a middleware for administrator JWT authentication
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				respondError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				respondError(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateJWT(token)
			if err != nil {
				respondError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePermission rejects authenticated requests lacking the permission
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				respondError(w, "Authorization required", http.StatusUnauthorized)
				return
			}
			if !claims.Has(permission) {
				respondError(w, "Permission denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims stores validated claims in the context
func WithClaims(ctx context.Context, claims *services.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts the administrator claims from context
func GetClaims(ctx context.Context) *services.Claims {
	claims, ok := ctx.Value(claimsKey).(*services.Claims)
	if !ok {
		return nil
	}
	return claims
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
