package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lorrc/salon-notifications/internal/auth"
	"github.com/lorrc/salon-notifications/internal/infrastructure/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ClaimsKey is the key used to store token claims in the request context.
const ClaimsKey contextKey = "claims"

// JWTMiddleware validates the bearer token from the Authorization header, or
// the token query parameter when allowQuery is set (browsers cannot send
// headers on a websocket handshake).
func JWTMiddleware(tm *auth.TokenManager, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := tokenFromRequest(r, allowQuery)
			if tokenString == "" {
				writeUnauthorized(w, msg)
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			// Add the claims to the context for downstream handlers to use.
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = logging.WithTenantID(ctx, claims.TenantID)
			if claims.StaffID != "" {
				ctx = logging.WithStaffID(ctx, claims.StaffID)
			}
			recordIdentity(ctx, claims.TenantID, claims.StaffID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func tokenFromRequest(r *http.Request, allowQuery bool) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if allowQuery {
			if token := r.URL.Query().Get("token"); token != "" {
				return token, ""
			}
		}
		return "", "Authorization header is required"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Authorization header format must be Bearer {token}"
	}
	return parts[1], ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"` + msg + `","code":"UNAUTHORIZED"}`))
}
