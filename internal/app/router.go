package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	openapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	"github.com/yutaoyuan/crm-system-sub000/api"
	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
	"github.com/yutaoyuan/crm-system-sub000/internal/config"
	"github.com/yutaoyuan/crm-system-sub000/internal/handlers"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/middleware"
)

// multipartOverhead is allowed on top of the file size limit for boundaries and form fields.
const multipartOverhead = 64 << 10

func LoadSpec() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(api.Spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return doc, nil
}

func NewRouter(cfg config.Config, sessions middleware.SessionStore, h *handlers.Server, logger *slog.Logger) (http.Handler, error) {
	doc, err := LoadSpec()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.LimitBodyBytesWithOverrides(cfg.APIMaxBodyBytes, []middleware.BodyLimitOverride{
		{PathPrefix: "/import", MaxBytes: cfg.ImportMaxFileBytes + multipartOverhead, Code: "file_too_large"},
	}))

	api := chi.NewRouter()
	api.Use(validateRequests(doc))

	authMW := middleware.AuthMiddleware{Sessions: sessions, CookieName: cfg.SessionCookieName}
	loginLimiter := middleware.NewLoginRateLimiter(10, time.Minute)
	uploadLimiter := middleware.NewIPRateLimiterWithMaxEntries(30, time.Minute, cfg.RateLimitMaxIPs)
	csrf := middleware.EnforceCSRF(cfg.CSRFEnforce)
	can := middleware.RequirePermission

	api.Group(func(public chi.Router) {
		public.With(loginLimiter.Middleware).Post("/auth/login", h.PostAuthLogin)
		public.Get("/health", h.GetHealth)
	})

	api.Group(func(protected chi.Router) {
		protected.Use(authMW.RequireAuth)
		protected.Get("/auth/me", h.GetAuthMe)
		protected.Get("/auth/csrf", h.GetAuthCsrf)
		protected.With(csrf).Post("/auth/logout", h.PostAuthLogout)

		protected.Group(func(read chi.Router) {
			read.Use(can(auth.PermCustomersRead))
			read.Get("/customers", h.GetCustomers)
			read.Get("/customers/{customerId}", h.GetCustomer)
			read.Get("/exports/customers.csv", h.GetExportsCustomersCsv)
			read.Get("/sales", h.GetSales)
			read.Get("/sales/{saleId}", h.GetSale)
			read.Get("/ledger", h.GetLedger)
			read.Get("/ledger/{entryId}", h.GetLedgerEntry)
			read.Get("/visits", h.GetVisits)
			read.Get("/import/aliases", h.GetImportAliases)
			read.Get("/import/templates/{kind}.csv", h.GetImportTemplate)
			read.Get("/import/{importId}/status", h.GetImportStatus)
		})

		protected.Group(func(write chi.Router) {
			write.Use(csrf)
			write.With(can(auth.PermCustomersWrite)).Post("/customers", h.PostCustomers)
			write.With(can(auth.PermCustomersWrite)).Post("/visits", h.PostVisits)

			write.With(can(auth.PermRecordsWrite)).Post("/sales", h.PostSales)
			write.With(can(auth.PermRecordsWrite)).Put("/sales/{saleId}", h.PutSale)
			write.With(can(auth.PermRecordsWrite)).Delete("/sales/{saleId}", h.DeleteSale)
			write.With(can(auth.PermRecordsWrite)).Post("/ledger", h.PostLedger)
			write.With(can(auth.PermRecordsWrite)).Put("/ledger/{entryId}", h.PutLedgerEntry)
			write.With(can(auth.PermRecordsWrite)).Delete("/ledger/{entryId}", h.DeleteLedgerEntry)

			write.With(can(auth.PermReconcile)).Post("/customers/reconcile", h.PostCustomersReconcile)
			write.With(can(auth.PermReconcile)).Post("/customers/{customerId}/reconcile", h.PostCustomerReconcile)

			upload := write.With(can(auth.PermImportsWrite), uploadLimiter.Middleware("Too many uploads"))
			upload.Post("/import", h.PostImport)
			upload.Post("/import/{kind}", h.PostImportKind)
			write.With(can(auth.PermImportsWrite)).Delete("/import/{importId}/status", h.DeleteImportStatus)
		})
	})

	r.Mount("/api", api)
	return r, nil
}

// validateRequests checks every API request against the OpenAPI contract. Multipart
// uploads are checked without reading their body, which the import handler streams to disk.
func validateRequests(doc *openapi3.T) func(http.Handler) http.Handler {
	onError := func(w http.ResponseWriter, message string, statusCode int) {
		requestID := w.Header().Get("X-Request-Id")
		httpx.WriteJSON(w, statusCode, httpx.ErrorEnvelope{
			Error:     httpx.ErrorBody{Code: "validation_error", Message: message},
			RequestID: requestID,
		})
	}
	full := openapimiddleware.OapiRequestValidatorWithOptions(doc, &openapimiddleware.Options{
		SilenceServersWarning: true,
		ErrorHandler:          onError,
	})
	bodiless := openapimiddleware.OapiRequestValidatorWithOptions(doc, &openapimiddleware.Options{
		SilenceServersWarning: true,
		ErrorHandler:          onError,
		Options:               openapi3filter.Options{ExcludeRequestBody: true},
	})

	return func(next http.Handler) http.Handler {
		withBody := full(next)
		withoutBody := bodiless(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/") {
				withoutBody.ServeHTTP(w, r)
				return
			}
			withBody.ServeHTTP(w, r)
		})
	}
}
