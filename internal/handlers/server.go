package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yutaoyuan/crm-system-sub000/internal/audit"
	"github.com/yutaoyuan/crm-system-sub000/internal/auth"
	"github.com/yutaoyuan/crm-system-sub000/internal/cache"
	"github.com/yutaoyuan/crm-system-sub000/internal/config"
	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/importer"
	"github.com/yutaoyuan/crm-system-sub000/internal/middleware"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

// Store is the persistence surface used by the HTTP handlers. *store.Store implements it.
type Store interface {
	Ping(ctx context.Context) error

	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateSession(ctx context.Context, params store.NewSession) (uuid.UUID, error)
	RevokeSession(ctx context.Context, sessionID uuid.UUID) error
	RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error

	ListCustomers(ctx context.Context, params store.ListCustomersParams) ([]crm.Customer, error)
	CreateCustomer(ctx context.Context, phone, name, notes string) (crm.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (crm.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (crm.CustomerRef, error)
	EachCustomer(ctx context.Context, fn func(crm.Customer) error) error
	CustomerIDs(ctx context.Context) ([]uuid.UUID, error)

	CreateSale(ctx context.Context, sale *crm.Sale) error
	GetSale(ctx context.Context, id uuid.UUID) (crm.Sale, error)
	ListSales(ctx context.Context, filter store.SaleFilter) ([]crm.Sale, error)
	UpdateSale(ctx context.Context, sale *crm.Sale) (*uuid.UUID, error)
	DeleteSale(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)

	CreateLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id uuid.UUID) (crm.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, filter store.LedgerFilter) ([]crm.LedgerEntry, error)
	UpdateLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) (*uuid.UUID, error)
	DeleteLedgerEntry(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)

	CreateVisit(ctx context.Context, visit *crm.Visit) error
	ListVisits(ctx context.Context, customerID *uuid.UUID, limit int) ([]crm.Visit, error)
}

// Imports is the import engine as seen by the handlers. *importer.Service implements it.
type Imports interface {
	Start(ctx context.Context, up importer.Upload) (importer.Started, error)
	Status(id string) (importer.Snapshot, error)
	Clear(id string) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, customerID uuid.UUID) error
	Both(ctx context.Context, before, after *uuid.UUID) error
}

// RepairQueue takes reconciliations that should run in the background.
type RepairQueue interface {
	Enqueue(ctx context.Context, customerID uuid.UUID) (bool, error)
	EnqueueAll(ctx context.Context, ids []uuid.UUID) (int, error)
}

type Server struct {
	Config     config.Config
	Store      Store
	Imports    Imports
	Reconciler Reconciler
	Repairs    RepairQueue
	Audit      *audit.Logger
	Logger     *slog.Logger

	visits *cache.Cache[string, []crm.Visit]
	ledger *cache.Cache[string, []crm.LedgerEntry]
}

func NewServer(cfg config.Config, st Store, imports Imports, reconciler Reconciler, repairs RepairQueue, auditLogger *audit.Logger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Config:     cfg,
		Store:      st,
		Imports:    imports,
		Reconciler: reconciler,
		Repairs:    repairs,
		Audit:      auditLogger,
		Logger:     logger,
		visits:     cache.New[string, []crm.Visit](cfg.ListCacheTTL),
		ledger:     cache.New[string, []crm.LedgerEntry](cfg.ListCacheTTL),
	}
}

// InvalidateListings drops every cached visit and ledger page.
func (s *Server) InvalidateListings() {
	s.visits.Clear()
	s.ledger.Clear()
}

// RunCacheJanitor evicts expired listing entries until ctx is done.
func (s *Server) RunCacheJanitor(ctx context.Context, interval time.Duration) {
	go s.visits.Run(ctx, interval)
	s.ledger.Run(ctx, interval)
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.Logger.Warn("health_check_failed", "error", err)
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "Database is unreachable", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

type userResponse struct {
	ID       openapi_types.UUID  `json:"id"`
	Email    openapi_types.Email `json:"email"`
	FullName string              `json:"fullName"`
	Role     auth.Role           `json:"role"`
}

type authSessionResponse struct {
	User userResponse `json:"user"`
}

func (s *Server) PostAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.Password == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "email and password are required", nil)
		return
	}

	user, err := s.Store.GetUserByEmail(r.Context(), string(req.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load user", nil)
		return
	}
	matched := false
	if err == nil && user.IsActive {
		ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Password verification failed", nil)
			return
		}
		matched = ok
	}
	if !matched {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}

	if old, err := r.Cookie(s.Config.SessionCookieName); err == nil && old.Value != "" {
		_ = s.Store.RevokeSessionByTokenHash(r.Context(), auth.HashToken(old.Value))
	}

	sessionToken, err := auth.GenerateToken()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create session", nil)
		return
	}
	csrfToken, err := auth.GenerateToken()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create CSRF token", nil)
		return
	}

	expiresAt := time.Now().Add(s.Config.SessionTTL)
	sessionID, err := s.Store.CreateSession(r.Context(), store.NewSession{
		UserID:    user.ID,
		TokenHash: auth.HashToken(sessionToken),
		CSRFToken: csrfToken,
		IPAddress: clientAddr(r),
		UserAgent: r.UserAgent(),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to save session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		Expires:  expiresAt,
	})

	userID := user.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     &userID,
		Action:     "auth.login",
		EntityType: "session",
		EntityID:   sessionID.String(),
		RequestID:  httpx.RequestID(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusOK, authSessionResponse{User: userResponse{
		ID:       user.ID,
		Email:    openapi_types.Email(user.Email),
		FullName: user.FullName,
		Role:     user.Role,
	}})
}

func (s *Server) PostAuthLogout(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := s.Store.RevokeSession(r.Context(), actor.SessionID); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to revoke session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		MaxAge:   -1,
	})

	s.audit(r, actor, "auth.logout", "session", actor.SessionID.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetAuthMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authSessionResponse{User: userResponse{
		ID:       actor.UserID,
		Email:    openapi_types.Email(actor.Email),
		FullName: actor.FullName,
		Role:     actor.Role,
	}})
}

func (s *Server) GetAuthCsrf(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": actor.CSRFToken})
}

func requireActor(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return middleware.Actor{}, false
	}
	return actor, true
}

func (s *Server) audit(r *http.Request, actor middleware.Actor, action, entityType, entityID string, metadata map[string]any) {
	userID := actor.UserID
	err := s.Audit.Log(r.Context(), audit.Entry{
		UserID:     &userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  httpx.RequestID(r.Context()),
		Metadata:   metadata,
	})
	if err != nil {
		s.Logger.Warn("audit_log_failed", "action", action, "error", err)
	}
}

// reconcileTouched brings the aggregates of the customers a write touched up to date.
// Failures are logged and handed to the repair queue.
func (s *Server) reconcileTouched(ctx context.Context, before, after *uuid.UUID) {
	err := s.Reconciler.Both(ctx, before, after)
	if err == nil {
		return
	}
	s.Logger.Error("reconcile_failed", "before", before, "after", after, "error", err)
	if s.Repairs == nil {
		return
	}
	queueCtx := context.WithoutCancel(ctx)
	for _, id := range []*uuid.UUID{before, after} {
		if id == nil {
			continue
		}
		if _, err := s.Repairs.Enqueue(queueCtx, *id); err != nil {
			s.Logger.Error("reconcile_enqueue_failed", "customer_id", *id, "error", err)
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
