package handlers

import (
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/reconcile"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

const (
	defaultCustomerListLimit = 50
	maxCustomerListLimit     = 200
)

type customerRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

type customerResponse struct {
	ID               openapi_types.UUID `json:"id"`
	Phone            string             `json:"phone"`
	Name             string             `json:"name"`
	Notes            string             `json:"notes"`
	TotalConsumption decimal.Decimal    `json:"totalConsumption"`
	ConsumptionCount int64              `json:"consumptionCount"`
	ConsumptionTimes int64              `json:"consumptionTimes"`
	LastConsumption  *string            `json:"lastConsumption"`
	TotalPoints      int64              `json:"totalPoints"`
	AvailablePoints  int64              `json:"availablePoints"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

type customerPage struct {
	Items      []customerResponse `json:"items"`
	NextCursor *string            `json:"nextCursor"`
}

func (s *Server) GetCustomers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := parseLimit(w, r, query.Get("limit"), defaultCustomerListLimit, maxCustomerListLimit)
	if !ok {
		return
	}

	params := store.ListCustomersParams{
		Query: strings.TrimSpace(query.Get("q")),
		Limit: limit + 1,
	}
	if raw := strings.TrimSpace(query.Get("cursor")); raw != "" {
		cursor, err := decodeCustomerCursor(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_cursor", "cursor is invalid", nil)
			return
		}
		params.After = &cursor
	}

	customers, err := s.Store.ListCustomers(r.Context(), params)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load customers", nil)
		return
	}

	var nextCursor *string
	if len(customers) > limit {
		last := customers[limit-1]
		cursor := encodeCustomerCursor(last.CreatedAt, last.ID)
		nextCursor = &cursor
		customers = customers[:limit]
	}

	items := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		items = append(items, mapCustomer(c))
	}
	httpx.WriteJSON(w, http.StatusOK, customerPage{Items: items, NextCursor: nextCursor})
}

func (s *Server) PostCustomers(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	phone := crm.NormalizePhone(req.Phone)
	name := strings.TrimSpace(req.Name)
	if len(phone) < 5 || name == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "a valid phone and a name are required", nil)
		return
	}

	customer, err := s.Store.CreateCustomer(r.Context(), phone, name, strings.TrimSpace(req.Notes))
	if err != nil {
		if errors.Is(err, store.ErrPhoneTaken) {
			httpx.WriteError(w, r, http.StatusConflict, "phone_taken", "A customer with this phone already exists", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create customer", nil)
		return
	}

	s.audit(r, actor, "customers.create", "customer", customer.ID.String(), nil)
	httpx.WriteJSON(w, http.StatusCreated, mapCustomer(customer))
}

func (s *Server) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "customerId")
	if !ok {
		return
	}
	customer, err := s.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeCustomerLoadError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapCustomer(customer))
}

// PostCustomerReconcile recomputes one customer's aggregates and returns the result.
func (s *Server) PostCustomerReconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "customerId")
	if !ok {
		return
	}
	if _, err := s.Store.GetCustomer(r.Context(), id); err != nil {
		writeCustomerLoadError(w, r, err)
		return
	}
	if err := s.Reconciler.Reconcile(r.Context(), id); err != nil {
		s.Logger.Error("reconcile_failed", "customer_id", id, "error", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to reconcile customer", nil)
		return
	}
	customer, err := s.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeCustomerLoadError(w, r, err)
		return
	}

	s.audit(r, actor, "customers.reconcile", "customer", id.String(), nil)
	httpx.WriteJSON(w, http.StatusOK, mapCustomer(customer))
}

// PostCustomersReconcile queues every customer on the repair queue.
func (s *Server) PostCustomersReconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ids, err := s.Store.CustomerIDs(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load customers", nil)
		return
	}
	queued, err := s.Repairs.EnqueueAll(r.Context(), ids)
	if err != nil {
		if errors.Is(err, reconcile.ErrQueueStopped) {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "Reconciliation queue is shutting down", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to queue reconciliation", map[string]int{"queued": queued})
		return
	}

	s.audit(r, actor, "customers.reconcile_all", "customer", "", map[string]any{"customers": len(ids), "queued": queued})
	httpx.WriteJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) GetExportsCustomersCsv(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	httpx.SetAttachment(w, "text/csv; charset=utf-8", "customers.csv")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"id", "phone", "name", "total_consumption", "consumption_count", "consumption_times", "last_consumption", "total_points", "available_points", "notes", "created_at"})
	err := s.Store.EachCustomer(r.Context(), func(c crm.Customer) error {
		return writer.Write([]string{
			c.ID.String(),
			c.Phone,
			c.Name,
			c.TotalConsumption.StringFixed(2),
			strconv.FormatInt(c.ConsumptionCount, 10),
			strconv.FormatInt(c.ConsumptionTimes, 10),
			c.LastConsumption,
			strconv.FormatInt(c.TotalPoints, 10),
			strconv.FormatInt(c.AvailablePoints, 10),
			c.Notes,
			c.CreatedAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		s.Logger.Error("export_failed", "entity", "customers", "error", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export CSV", nil)
		return
	}
	writer.Flush()
	if writer.Error() != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to stream export CSV", nil)
		return
	}

	s.audit(r, actor, "export.download", "customers", "", map[string]any{"filename": "customers.csv"})
}

func writeCustomerLoadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusNotFound, "customer_not_found", "Customer was not found", nil)
		return
	}
	httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load customer", nil)
}

func mapCustomer(c crm.Customer) customerResponse {
	var last *string
	if c.LastConsumption != "" {
		value := c.LastConsumption
		last = &value
	}
	return customerResponse{
		ID:               c.ID,
		Phone:            c.Phone,
		Name:             c.Name,
		Notes:            c.Notes,
		TotalConsumption: c.TotalConsumption,
		ConsumptionCount: c.ConsumptionCount,
		ConsumptionTimes: c.ConsumptionTimes,
		LastConsumption:  last,
		TotalPoints:      c.TotalPoints,
		AvailablePoints:  c.AvailablePoints,
		CreatedAt:        c.CreatedAt.UTC(),
		UpdatedAt:        c.UpdatedAt.UTC(),
	}
}

func encodeCustomerCursor(createdAt time.Time, id uuid.UUID) string {
	payload := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeCustomerCursor(raw string) (store.CustomerCursor, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return store.CustomerCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return store.CustomerCursor{}, errors.New("cursor payload is malformed")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return store.CustomerCursor{}, fmt.Errorf("parse cursor createdAt: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return store.CustomerCursor{}, fmt.Errorf("parse cursor id: %w", err)
	}
	return store.CustomerCursor{CreatedAt: createdAt, ID: id}, nil
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_id", name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", name+" must be a UUID", nil)
		return nil, false
	}
	return &id, true
}

func parseLimit(w http.ResponseWriter, r *http.Request, raw string, fallback, ceiling int) (int, bool) {
	if strings.TrimSpace(raw) == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	switch {
	case err != nil, limit < 1:
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "limit must be at least 1", nil)
		return 0, false
	case limit > ceiling:
		return ceiling, true
	}
	return limit, true
}

func parseOffset(w http.ResponseWriter, r *http.Request, raw string) (int, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "offset must be greater than or equal to 0", nil)
		return 0, false
	}
	return offset, true
}
