package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidegate/armada/internal/auth"
	"github.com/tidegate/armada/internal/tenancy"
)

type contextKey string

const UserIDKey contextKey = "user_id"

func ManagementAuth(jwtMgr *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				http.Error(w, `{"error":"invalid authorization format"}`, http.StatusUnauthorized)
				return
			}

			claims, err := jwtMgr.Validate(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Tenant resolves the caller's tenant from the X-Tenant header and stores it
// in the request context. Absence falls back to the default tenant.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant := strings.TrimSpace(r.Header.Get("X-Tenant")); tenant != "" {
			r = r.WithContext(tenancy.WithTenant(r.Context(), tenant))
		}
		next.ServeHTTP(w, r)
	})
}
