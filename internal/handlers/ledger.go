package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/httpx"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

type ledgerRequest struct {
	CustomerID    *openapi_types.UUID `json:"customerId,omitempty"`
	CustomerPhone string              `json:"customerPhone"`
	CustomerName  string              `json:"customerName"`
	Channel       crm.Channel         `json:"channel"`
	Points        int64               `json:"points"`
	Date          openapi_types.Date  `json:"date"`
	Notes         string              `json:"notes"`
	Operator      string              `json:"operator"`
}

type ledgerResponse struct {
	ID            openapi_types.UUID  `json:"id"`
	CustomerID    *openapi_types.UUID `json:"customerId"`
	CustomerName  string              `json:"customerName"`
	CustomerPhone string              `json:"customerPhone"`
	Channel       crm.Channel         `json:"channel"`
	Points        int64               `json:"points"`
	Date          string              `json:"date"`
	Notes         string              `json:"notes"`
	Operator      string              `json:"operator"`
	Source        string              `json:"source"`
	ImportID      string              `json:"importId,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func (s *Server) GetLedger(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRecordFilter(w, r)
	if !ok {
		return
	}

	key := listingKey(filter.CustomerID, filter.Limit, filter.Offset)
	entries, err := s.ledger.GetOrLoad(key, func() ([]crm.LedgerEntry, error) {
		return s.Store.ListLedgerEntries(r.Context(), store.LedgerFilter(filter))
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load ledger entries", nil)
		return
	}

	items := make([]ledgerResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, mapLedgerEntry(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "entryId")
	if !ok {
		return
	}
	entry, err := s.Store.GetLedgerEntry(r.Context(), id)
	if err != nil {
		writeRecordLoadError(w, r, err, "ledger_entry_not_found", "Ledger entry was not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapLedgerEntry(entry))
}

func (s *Server) PostLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	entry, ok := s.decodeLedgerEntry(w, r)
	if !ok {
		return
	}

	if err := s.Store.CreateLedgerEntry(r.Context(), &entry); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create ledger entry", nil)
		return
	}
	s.ledger.Clear()
	s.reconcileTouched(r.Context(), nil, entry.CustomerID)

	s.audit(r, actor, "ledger.create", "ledger_entry", entry.ID.String(), map[string]any{"points": entry.Points, "channel": entry.Channel})
	httpx.WriteJSON(w, http.StatusCreated, mapLedgerEntry(entry))
}

func (s *Server) PutLedgerEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "entryId")
	if !ok {
		return
	}
	entry, ok := s.decodeLedgerEntry(w, r)
	if !ok {
		return
	}
	entry.ID = id

	previous, err := s.Store.UpdateLedgerEntry(r.Context(), &entry)
	if err != nil {
		writeRecordLoadError(w, r, err, "ledger_entry_not_found", "Ledger entry was not found")
		return
	}
	s.ledger.Clear()
	s.reconcileTouched(r.Context(), previous, entry.CustomerID)

	s.audit(r, actor, "ledger.update", "ledger_entry", id.String(), nil)
	httpx.WriteJSON(w, http.StatusOK, mapLedgerEntry(entry))
}

func (s *Server) DeleteLedgerEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "entryId")
	if !ok {
		return
	}

	customerID, err := s.Store.DeleteLedgerEntry(r.Context(), id)
	if err != nil {
		writeRecordLoadError(w, r, err, "ledger_entry_not_found", "Ledger entry was not found")
		return
	}
	s.ledger.Clear()
	s.reconcileTouched(r.Context(), customerID, nil)

	s.audit(r, actor, "ledger.delete", "ledger_entry", id.String(), nil)
	w.WriteHeader(http.StatusNoContent)
}

// decodeLedgerEntry builds an entry from the request. An unknown phone keeps the entry
// as an orphan; an unknown customerId is rejected.
func (s *Server) decodeLedgerEntry(w http.ResponseWriter, r *http.Request) (crm.LedgerEntry, bool) {
	var req ledgerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return crm.LedgerEntry{}, false
	}
	if req.Date.IsZero() {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "date is required", nil)
		return crm.LedgerEntry{}, false
	}

	if req.Channel != "" && !req.Channel.Valid() {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "channel must be one of earned, redeemed, expired, adjusted", nil)
		return crm.LedgerEntry{}, false
	}
	channel := crm.InferChannel(req.Channel, req.Points)

	entry := crm.LedgerEntry{
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: crm.NormalizePhone(req.CustomerPhone),
		Channel:       channel,
		Points:        req.Points,
		Date:          req.Date.Format(crm.DateLayout),
		Notes:         strings.TrimSpace(req.Notes),
		Operator:      strings.TrimSpace(req.Operator),
	}
	if req.CustomerID != nil || entry.CustomerPhone != "" {
		ref, err := s.resolveCustomer(r.Context(), req.CustomerID, entry.CustomerPhone)
		switch {
		case err == nil:
			entry.CustomerID = &ref.id
			if entry.CustomerName == "" {
				entry.CustomerName = ref.name
			}
			entry.CustomerPhone = ref.phone
		case errors.Is(err, store.ErrNotFound) && req.CustomerID != nil:
			httpx.WriteError(w, r, http.StatusBadRequest, "customer_not_found", "Customer was not found", nil)
			return crm.LedgerEntry{}, false
		case !errors.Is(err, store.ErrNotFound):
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to resolve customer", nil)
			return crm.LedgerEntry{}, false
		}
	}
	if entry.CustomerID == nil && entry.CustomerPhone == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "customerId or customerPhone is required", nil)
		return crm.LedgerEntry{}, false
	}
	if entry.CustomerName == "" {
		entry.CustomerName = crm.PlaceholderName
	}
	return entry, true
}

func mapLedgerEntry(entry crm.LedgerEntry) ledgerResponse {
	return ledgerResponse{
		ID:            entry.ID,
		CustomerID:    entry.CustomerID,
		CustomerName:  entry.CustomerName,
		CustomerPhone: entry.CustomerPhone,
		Channel:       entry.Channel,
		Points:        entry.Points,
		Date:          entry.Date,
		Notes:         entry.Notes,
		Operator:      entry.Operator,
		Source:        entry.Source,
		ImportID:      entry.ImportID,
		CreatedAt:     entry.CreatedAt.UTC(),
		UpdatedAt:     entry.UpdatedAt.UTC(),
	}
}
