package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yutaoyuan/crm-system-sub000/internal/config"
	"github.com/yutaoyuan/crm-system-sub000/internal/handlers"
)

func TestLoadSpecValidates(t *testing.T) {
	doc, err := LoadSpec()
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}
	for _, path := range []string{"/import", "/import/{kind}", "/import/{importId}/status", "/customers/{customerId}/reconcile"} {
		if doc.Paths.Find(path) == nil {
			t.Fatalf("expected path %s in spec", path)
		}
	}
}

func TestRouterRejectsRequestsOutsideContract(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{SessionCookieName: testCookieName, APIMaxBodyBytes: 1 << 20, ImportMaxFileBytes: 1 << 20, RateLimitMaxIPs: 10}
	h := handlers.NewServer(cfg, nil, nil, nil, nil, nil, logger)
	router, err := NewRouter(cfg, nil, h, logger)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/import/visits", ""},
		{http.MethodGet, "/api/sales?limit=0", ""},
		{http.MethodPost, "/api/sales", `{"date":"2024-01-01","totalAmount":"1.234"}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		if tc.body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d (%s)", tc.method, tc.path, rec.Code, rec.Body.String())
		}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if envelope.Error.Code != "validation_error" {
			t.Fatalf("%s %s: expected validation_error, got %s", tc.method, tc.path, envelope.Error.Code)
		}
	}
}
