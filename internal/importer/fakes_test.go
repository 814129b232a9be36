package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

var errInsertRejected = errors.New("insert rejected")

type fakeStore struct {
	mu        sync.Mutex
	customers map[string]crm.CustomerRef
	sales     []crm.Sale
	entries   []crm.LedgerEntry
	begins    int
	created   int

	beginErr   error
	commitErr  error
	indexErr   error
	rejectNote string
}

func newFakeStore() *fakeStore {
	return &fakeStore{customers: map[string]crm.CustomerRef{}}
}

func (s *fakeStore) addCustomer(phone, name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.customers[phone] = crm.CustomerRef{ID: id, Name: name}
	return id
}

func (s *fakeStore) LoadCustomerIndex(ctx context.Context) (map[string]crm.CustomerRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexErr != nil {
		return nil, s.indexErr
	}
	out := make(map[string]crm.CustomerRef, len(s.customers))
	for k, v := range s.customers {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) BeginBatch(ctx context.Context, kind Kind) (BatchTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{store: s, customers: map[string]crm.CustomerRef{}}, nil
}

func (s *fakeStore) snapshotEntries() []crm.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crm.LedgerEntry(nil), s.entries...)
}

func (s *fakeStore) snapshotSales() []crm.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crm.Sale(nil), s.sales...)
}

type fakeTx struct {
	store     *fakeStore
	sales     []crm.Sale
	entries   []crm.LedgerEntry
	customers map[string]crm.CustomerRef
	done      bool
}

func (t *fakeTx) InsertSale(ctx context.Context, sale *crm.Sale) error {
	if t.store.rejectNote != "" && sale.Notes == t.store.rejectNote {
		return errInsertRejected
	}
	t.sales = append(t.sales, *sale)
	return nil
}

func (t *fakeTx) InsertLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) error {
	if t.store.rejectNote != "" && entry.Notes == t.store.rejectNote {
		return errInsertRejected
	}
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *fakeTx) EnsureCustomer(ctx context.Context, phone, name string) (uuid.UUID, error) {
	if ref, ok := t.customers[phone]; ok {
		return ref.ID, nil
	}
	t.store.mu.Lock()
	ref, ok := t.store.customers[phone]
	t.store.mu.Unlock()
	if ok {
		return ref.ID, nil
	}
	ref = crm.CustomerRef{ID: uuid.New(), Name: name}
	t.customers[phone] = ref
	return ref.ID, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.done = true
	t.store.sales = append(t.store.sales, t.sales...)
	t.store.entries = append(t.store.entries, t.entries...)
	for phone, ref := range t.customers {
		t.store.customers[phone] = ref
		t.store.created++
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	return nil
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (r *fakeReconciler) Reconcile(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return r.err
}

func (r *fakeReconciler) snapshot() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.calls...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
