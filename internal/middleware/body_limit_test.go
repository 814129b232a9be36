package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func readAllHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimitBodyBytesUsesImportOverride(t *testing.T) {
	router := LimitBodyBytesWithOverrides(2, []BodyLimitOverride{
		{PathPrefix: "/import", MaxBytes: 10, Code: "file_too_large"},
	})(readAllHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/import/ledger", strings.NewReader("12345"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under the import cap, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader("12345"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 over the default cap, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"payload_too_large"`) {
		t.Fatalf("expected payload_too_large, got %s", rec.Body.String())
	}
}

func TestLimitBodyBytesRejectsDeclaredLengthEarly(t *testing.T) {
	called := false
	router := LimitBodyBytesWithOverrides(100, []BodyLimitOverride{
		{PathPrefix: "/import", MaxBytes: 4, Code: "file_too_large"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader("123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if called {
		t.Fatal("expected handler not to run")
	}
	if rec.Code != http.StatusRequestEntityTooLarge || !strings.Contains(rec.Body.String(), `"file_too_large"`) {
		t.Fatalf("expected 413 file_too_large, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBodyLimitForPrefersLongestPrefix(t *testing.T) {
	overrides := []BodyLimitOverride{
		{PathPrefix: "/import", MaxBytes: 10},
		{PathPrefix: "/import/templates", MaxBytes: 1},
	}
	if got := bodyLimitFor("/api/import/templates/sales.csv", 5, overrides); got.MaxBytes != 1 {
		t.Fatalf("expected 1, got %d", got.MaxBytes)
	}
	if got := bodyLimitFor("/api/import", 5, overrides); got.MaxBytes != 10 {
		t.Fatalf("expected 10, got %d", got.MaxBytes)
	}
	if got := bodyLimitFor("/api/customers", 5, overrides); got.MaxBytes != 5 || got.Code != "payload_too_large" {
		t.Fatalf("expected default limit, got %+v", got)
	}
}
