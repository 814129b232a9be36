package middleware

import (
	"net/http"
	"strings"

	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
)

// EnforceCSRF requires the session's CSRF token on every unsafe method.
func EnforceCSRF(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
				return
			}
			token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
			if !auth.TokensEqual(token, actor.CSRFToken) {
				httpx.WriteError(w, r, http.StatusForbidden, "csrf_invalid", "Invalid CSRF token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
