package middleware

import (
	"net/http"

	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
)

// RequirePermission rejects actors whose role does not grant permission.
func RequirePermission(permission auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
				return
			}
			if !actor.Role.Can(permission) {
				httpx.WriteError(w, r, http.StatusForbidden, "forbidden", "Permission denied", map[string]string{"permission": string(permission)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
