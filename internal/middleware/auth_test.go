package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
)

type stubSessions struct {
	principals map[string]auth.Principal
	err        error
}

func (s stubSessions) GetSessionPrincipal(ctx context.Context, tokenHash string) (auth.Principal, error) {
	if s.err != nil {
		return auth.Principal{}, s.err
	}
	p, ok := s.principals[tokenHash]
	if !ok {
		return auth.Principal{}, auth.ErrInvalidSession
	}
	return p, nil
}

func protected(sessions SessionStore, perm auth.Permission) http.Handler {
	mw := AuthMiddleware{Sessions: sessions, CookieName: "crm_sess"}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		w.Header().Set("X-Actor", actor.Email)
		w.WriteHeader(http.StatusOK)
	})
	return mw.RequireAuth(EnforceCSRF(true)(RequirePermission(perm)(final)))
}

func sessionFixture(role auth.Role) (stubSessions, string) {
	token := "session-token"
	return stubSessions{principals: map[string]auth.Principal{
		auth.HashToken(token): {
			SessionID: uuid.New(),
			UserID:    uuid.New(),
			Email:     "staff@example.com",
			Role:      role,
			CSRFToken: "csrf-1",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}}, token
}

func TestRequireAuthRejectsMissingAndUnknownSessions(t *testing.T) {
	sessions, _ := sessionFixture(auth.RoleStaff)
	handler := protected(sessions, auth.PermCustomersRead)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/customers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
	req.AddCookie(&http.Cookie{Name: "crm_sess", Value: "stale"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown session, got %d", rec.Code)
	}
}

func TestRequireAuthStoreFailureIs500(t *testing.T) {
	handler := protected(stubSessions{err: errors.New("db down")}, auth.PermCustomersRead)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
	req.AddCookie(&http.Cookie{Name: "crm_sess", Value: "x"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCSRFAndPermissions(t *testing.T) {
	sessions, token := sessionFixture(auth.RoleViewer)

	read := protected(sessions, auth.PermCustomersRead)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
	req.AddCookie(&http.Cookie{Name: "crm_sess", Value: token})
	read.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Actor") != "staff@example.com" {
		t.Fatalf("expected viewer read allowed without csrf, got %d", rec.Code)
	}

	write := protected(sessions, auth.PermImportsWrite)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/import/ledger", nil)
	req.AddCookie(&http.Cookie{Name: "crm_sess", Value: token})
	write.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "csrf_invalid") {
		t.Fatalf("expected CSRF rejection, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/import/ledger", nil)
	req.AddCookie(&http.Cookie{Name: "crm_sess", Value: token})
	req.Header.Set("X-CSRF-Token", "csrf-1")
	write.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"permission":"imports.write"`) {
		t.Fatalf("expected permission denial for viewer, got %d %s", rec.Code, rec.Body.String())
	}
}
