package middleware

import (
	"net/http"
	"strings"

	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
)

// BodyLimitOverride gives routes under PathPrefix their own cap. Code is the error code
// reported when a declared Content-Length exceeds it.
type BodyLimitOverride struct {
	PathPrefix string
	MaxBytes   int64
	Code       string
}

// LimitBodyBytesWithOverrides caps request bodies. Prefixes match with or without the
// /api mount point and the longest matching prefix wins.
func LimitBodyBytesWithOverrides(defaultMax int64, overrides []BodyLimitOverride) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := bodyLimitFor(r.URL.Path, defaultMax, overrides)
			if limit.MaxBytes <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit.MaxBytes {
				httpx.WriteError(w, r, http.StatusRequestEntityTooLarge, limit.Code, "Request body is too large",
					map[string]int64{"maxBytes": limit.MaxBytes})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit.MaxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func bodyLimitFor(path string, defaultMax int64, overrides []BodyLimitOverride) BodyLimitOverride {
	apiPath := strings.TrimPrefix(path, "/api")
	chosen := BodyLimitOverride{MaxBytes: defaultMax, Code: "payload_too_large"}
	matched := -1
	for _, o := range overrides {
		if o.PathPrefix == "" || o.MaxBytes <= 0 || len(o.PathPrefix) <= matched {
			continue
		}
		if strings.HasPrefix(path, o.PathPrefix) || strings.HasPrefix(apiPath, o.PathPrefix) {
			chosen, matched = o, len(o.PathPrefix)
			if chosen.Code == "" {
				chosen.Code = "payload_too_large"
			}
		}
	}
	return chosen
}
