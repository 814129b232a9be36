package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
)

type SessionStore interface {
	GetSessionPrincipal(ctx context.Context, tokenHash string) (auth.Principal, error)
}

type AuthMiddleware struct {
	Sessions   SessionStore
	CookieName string
}

func (m AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.CookieName)
		if err != nil || cookie.Value == "" {
			httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
			return
		}

		principal, err := m.Sessions.GetSessionPrincipal(r.Context(), auth.HashToken(cookie.Value))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) {
				httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Session is invalid", nil)
				return
			}
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load session", nil)
			return
		}

		ctx := WithActor(r.Context(), actorFromPrincipal(principal))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
