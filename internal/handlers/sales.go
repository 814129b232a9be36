package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

const (
	defaultRecordListLimit = 50
	maxRecordListLimit     = 500
)

type saleItemPayload struct {
	ProductCode string          `json:"productCode"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

type saleRequest struct {
	CustomerID    *openapi_types.UUID `json:"customerId,omitempty"`
	CustomerPhone string              `json:"customerPhone"`
	CustomerName  string              `json:"customerName"`
	Date          openapi_types.Date  `json:"date"`
	Store         string              `json:"store"`
	Staff         string              `json:"staff"`
	Notes         string              `json:"notes"`
	TotalAmount   decimal.Decimal     `json:"totalAmount"`
	Items         []saleItemPayload   `json:"items"`
}

type saleResponse struct {
	ID            openapi_types.UUID  `json:"id"`
	CustomerID    *openapi_types.UUID `json:"customerId"`
	CustomerName  string              `json:"customerName"`
	CustomerPhone string              `json:"customerPhone"`
	Date          string              `json:"date"`
	Store         string              `json:"store"`
	Staff         string              `json:"staff"`
	Notes         string              `json:"notes"`
	TotalAmount   decimal.Decimal     `json:"totalAmount"`
	Items         []saleItemPayload   `json:"items"`
	Source        string              `json:"source"`
	ImportID      string              `json:"importId,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func (s *Server) GetSales(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRecordFilter(w, r)
	if !ok {
		return
	}
	sales, err := s.Store.ListSales(r.Context(), store.SaleFilter(filter))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load sales", nil)
		return
	}
	items := make([]saleResponse, 0, len(sales))
	for _, sale := range sales {
		items = append(items, mapSale(sale))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) GetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "saleId")
	if !ok {
		return
	}
	sale, err := s.Store.GetSale(r.Context(), id)
	if err != nil {
		writeRecordLoadError(w, r, err, "sale_not_found", "Sale was not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapSale(sale))
}

func (s *Server) PostSales(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	sale, ok := s.decodeSale(w, r)
	if !ok {
		return
	}

	if err := s.Store.CreateSale(r.Context(), &sale); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create sale", nil)
		return
	}
	s.reconcileTouched(r.Context(), nil, sale.CustomerID)

	s.audit(r, actor, "sales.create", "sale", sale.ID.String(), map[string]any{"totalAmount": sale.TotalAmount.String()})
	httpx.WriteJSON(w, http.StatusCreated, mapSale(sale))
}

func (s *Server) PutSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "saleId")
	if !ok {
		return
	}
	sale, ok := s.decodeSale(w, r)
	if !ok {
		return
	}
	sale.ID = id

	previous, err := s.Store.UpdateSale(r.Context(), &sale)
	if err != nil {
		writeRecordLoadError(w, r, err, "sale_not_found", "Sale was not found")
		return
	}
	s.reconcileTouched(r.Context(), previous, sale.CustomerID)

	s.audit(r, actor, "sales.update", "sale", id.String(), nil)
	httpx.WriteJSON(w, http.StatusOK, mapSale(sale))
}

func (s *Server) DeleteSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "saleId")
	if !ok {
		return
	}

	customerID, err := s.Store.DeleteSale(r.Context(), id)
	if err != nil {
		writeRecordLoadError(w, r, err, "sale_not_found", "Sale was not found")
		return
	}
	s.reconcileTouched(r.Context(), customerID, nil)

	s.audit(r, actor, "sales.delete", "sale", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeSale(w http.ResponseWriter, r *http.Request) (crm.Sale, bool) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return crm.Sale{}, false
	}
	if req.Date.IsZero() {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "date is required", nil)
		return crm.Sale{}, false
	}

	sale := crm.Sale{
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: crm.NormalizePhone(req.CustomerPhone),
		Date:          req.Date.Format(crm.DateLayout),
		Store:         strings.TrimSpace(req.Store),
		Staff:         strings.TrimSpace(req.Staff),
		Notes:         strings.TrimSpace(req.Notes),
		TotalAmount:   req.TotalAmount.Round(2),
	}
	for i, item := range req.Items {
		if item.Quantity < 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "item quantity must not be negative", map[string]int{"item": i})
			return crm.Sale{}, false
		}
		sale.Items = append(sale.Items, crm.SaleItem{
			ProductCode: strings.TrimSpace(item.ProductCode),
			Size:        strings.TrimSpace(item.Size),
			Quantity:    item.Quantity,
			Amount:      item.Amount.Round(2),
		})
	}

	ref, err := s.resolveCustomer(r.Context(), req.CustomerID, sale.CustomerPhone)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, r, http.StatusBadRequest, "customer_not_found", "Sales must belong to a known customer", nil)
		return crm.Sale{}, false
	case err != nil:
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to resolve customer", nil)
		return crm.Sale{}, false
	}
	sale.CustomerID = &ref.id
	if sale.CustomerName == "" {
		sale.CustomerName = ref.name
	}
	if sale.CustomerPhone == "" {
		sale.CustomerPhone = ref.phone
	}
	return sale, true
}

type resolvedCustomer struct {
	id    uuid.UUID
	name  string
	phone string
}

// resolveCustomer finds the customer a record refers to, by id when given and by
// normalized phone otherwise. It returns store.ErrNotFound when neither matches.
func (s *Server) resolveCustomer(ctx context.Context, id *openapi_types.UUID, phone string) (resolvedCustomer, error) {
	if id != nil {
		customer, err := s.Store.GetCustomer(ctx, *id)
		if err != nil {
			return resolvedCustomer{}, err
		}
		return resolvedCustomer{id: customer.ID, name: customer.Name, phone: customer.Phone}, nil
	}
	if phone == "" {
		return resolvedCustomer{}, store.ErrNotFound
	}
	ref, err := s.Store.FindCustomerByPhone(ctx, phone)
	if err != nil {
		return resolvedCustomer{}, err
	}
	return resolvedCustomer{id: ref.ID, name: ref.Name, phone: phone}, nil
}

type recordFilter struct {
	CustomerID *uuid.UUID
	Limit      int
	Offset     int
}

func parseRecordFilter(w http.ResponseWriter, r *http.Request) (recordFilter, bool) {
	customerID, ok := queryUUID(w, r, "customerId")
	if !ok {
		return recordFilter{}, false
	}
	limit, ok := parseLimit(w, r, r.URL.Query().Get("limit"), defaultRecordListLimit, maxRecordListLimit)
	if !ok {
		return recordFilter{}, false
	}
	offset, ok := parseOffset(w, r, r.URL.Query().Get("offset"))
	if !ok {
		return recordFilter{}, false
	}
	return recordFilter{CustomerID: customerID, Limit: limit, Offset: offset}, true
}

func writeRecordLoadError(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusNotFound, code, message, nil)
		return
	}
	httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load record", nil)
}

func mapSale(sale crm.Sale) saleResponse {
	items := make([]saleItemPayload, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, saleItemPayload{
			ProductCode: item.ProductCode,
			Size:        item.Size,
			Quantity:    item.Quantity,
			Amount:      item.Amount,
		})
	}
	return saleResponse{
		ID:            sale.ID,
		CustomerID:    sale.CustomerID,
		CustomerName:  sale.CustomerName,
		CustomerPhone: sale.CustomerPhone,
		Date:          sale.Date,
		Store:         sale.Store,
		Staff:         sale.Staff,
		Notes:         sale.Notes,
		TotalAmount:   sale.TotalAmount,
		Items:         items,
		Source:        sale.Source,
		ImportID:      sale.ImportID,
		CreatedAt:     sale.CreatedAt.UTC(),
		UpdatedAt:     sale.UpdatedAt.UTC(),
	}
}
