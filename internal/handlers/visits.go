package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

const defaultVisitListLimit = 50

type visitRequest struct {
	CustomerID openapi_types.UUID `json:"customerId"`
	VisitedAt  *time.Time         `json:"visitedAt,omitempty"`
	Purpose    string             `json:"purpose"`
	Notes      string             `json:"notes"`
}

type visitResponse struct {
	ID         openapi_types.UUID `json:"id"`
	CustomerID openapi_types.UUID `json:"customerId"`
	VisitedAt  time.Time          `json:"visitedAt"`
	Purpose    string             `json:"purpose"`
	Notes      string             `json:"notes"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func (s *Server) GetVisits(w http.ResponseWriter, r *http.Request) {
	customerID, ok := queryUUID(w, r, "customerId")
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, r.URL.Query().Get("limit"), defaultVisitListLimit, maxRecordListLimit)
	if !ok {
		return
	}

	visits, err := s.visits.GetOrLoad(listingKey(customerID, limit, 0), func() ([]crm.Visit, error) {
		return s.Store.ListVisits(r.Context(), customerID, limit)
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load visits", nil)
		return
	}

	items := make([]visitResponse, 0, len(visits))
	for _, v := range visits {
		items = append(items, mapVisit(v))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) PostVisits(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req visitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.CustomerID == uuid.Nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "customerId is required", nil)
		return
	}

	visit := crm.Visit{
		CustomerID: req.CustomerID,
		Purpose:    strings.TrimSpace(req.Purpose),
		Notes:      strings.TrimSpace(req.Notes),
	}
	if req.VisitedAt != nil {
		visit.VisitedAt = req.VisitedAt.UTC()
	}
	if err := s.Store.CreateVisit(r.Context(), &visit); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "customer_not_found", "Customer was not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to record visit", nil)
		return
	}
	s.visits.Clear()

	s.audit(r, actor, "visits.create", "visit", visit.ID.String(), nil)
	httpx.WriteJSON(w, http.StatusCreated, mapVisit(visit))
}

func mapVisit(v crm.Visit) visitResponse {
	return visitResponse{
		ID:         v.ID,
		CustomerID: v.CustomerID,
		VisitedAt:  v.VisitedAt.UTC(),
		Purpose:    v.Purpose,
		Notes:      v.Notes,
		CreatedAt:  v.CreatedAt.UTC(),
	}
}

func listingKey(customerID *uuid.UUID, limit, offset int) string {
	scope := "all"
	if customerID != nil {
		scope = customerID.String()
	}
	return fmt.Sprintf("%s|%d|%d", scope, limit, offset)
}
