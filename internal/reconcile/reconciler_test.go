package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

type memSale struct {
	id       uuid.UUID
	customer uuid.UUID
	amount   decimal.Decimal
	quantity int64
	date     string
}

type memStore struct {
	mu        sync.Mutex
	customers map[uuid.UUID]*crm.Aggregates
	sales     []memSale
	points    map[uuid.UUID][]int64
	writes    int
	writeErr  error
}

func newMemStore() *memStore {
	return &memStore{customers: map[uuid.UUID]*crm.Aggregates{}, points: map[uuid.UUID][]int64{}}
}

func (s *memStore) addCustomer() uuid.UUID {
	id := uuid.New()
	s.customers[id] = &crm.Aggregates{}
	return id
}

func (s *memStore) addSale(customer uuid.UUID, amount string, quantity int64, date string) uuid.UUID {
	id := uuid.New()
	s.sales = append(s.sales, memSale{id: id, customer: customer, amount: decimal.RequireFromString(amount), quantity: quantity, date: date})
	return id
}

func (s *memStore) deleteSale(id uuid.UUID) {
	for i, sale := range s.sales {
		if sale.id == id {
			s.sales = append(s.sales[:i], s.sales[i+1:]...)
			return
		}
	}
}

func (s *memStore) CustomerTotals(ctx context.Context, id uuid.UUID) (Totals, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return Totals{}, false, nil
	}
	t := Totals{Spend: decimal.Zero}
	for _, sale := range s.sales {
		if sale.customer != id {
			continue
		}
		if sale.amount.IsPositive() {
			t.Spend = t.Spend.Add(sale.amount)
		}
		t.Quantity += sale.quantity
		t.Sales++
		if sale.date > t.LastDate {
			t.LastDate = sale.date
		}
	}
	for _, p := range s.points[id] {
		t.Points += p
	}
	return t, true, nil
}

func (s *memStore) WriteAggregates(ctx context.Context, id uuid.UUID, agg crm.Aggregates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	current := s.customers[id]
	last := current.LastConsumption
	if agg.LastConsumption > last {
		last = agg.LastConsumption
	}
	*current = agg
	current.LastConsumption = last
	return nil
}

func (s *memStore) get(id uuid.UUID) crm.Aggregates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.customers[id]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMemStore()
	id := store.addCustomer()
	store.addSale(id, "120.50", 2, "2024-01-03")
	store.points[id] = []int64{50, -20}
	r := New(store, quietLogger())

	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	first := store.get(id)
	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	second := store.get(id)
	if !first.TotalConsumption.Equal(second.TotalConsumption) || first.ConsumptionCount != second.ConsumptionCount ||
		first.ConsumptionTimes != second.ConsumptionTimes || first.LastConsumption != second.LastConsumption ||
		first.TotalPoints != second.TotalPoints || first.AvailablePoints != second.AvailablePoints {
		t.Fatalf("expected identical aggregates, got %+v then %+v", first, second)
	}
}

func TestReconcileLedgerSumAndSpendToPointsLaws(t *testing.T) {
	store := newMemStore()
	id := store.addCustomer()
	store.addSale(id, "99.99", 1, "2024-01-01")
	store.addSale(id, "100.50", 3, "2024-02-01")
	store.addSale(id, "-30", 1, "2024-02-02")
	// Earned entries deliberately disagree with spend.
	store.points[id] = []int64{1000, -150, 25, -5}

	if err := New(store, quietLogger()).Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	agg := store.get(id)
	if agg.AvailablePoints != 870 {
		t.Fatalf("expected available_points 870, got %d", agg.AvailablePoints)
	}
	if agg.TotalConsumption.String() != "200.49" {
		t.Fatalf("expected total_consumption 200.49, got %s", agg.TotalConsumption)
	}
	if agg.TotalPoints != 200 {
		t.Fatalf("expected total_points floor(200.49)=200, got %d", agg.TotalPoints)
	}
	if agg.ConsumptionCount != 5 || agg.ConsumptionTimes != 3 {
		t.Fatalf("expected count 5 times 3, got %d %d", agg.ConsumptionCount, agg.ConsumptionTimes)
	}
	if agg.LastConsumption != "2024-02-02" {
		t.Fatalf("expected last consumption 2024-02-02, got %s", agg.LastConsumption)
	}
}

func TestReconcileDeletionSymmetry(t *testing.T) {
	store := newMemStore()
	id := store.addCustomer()
	store.addSale(id, "80", 1, "2024-01-01")
	doomed := store.addSale(id, "45.25", 4, "2024-01-02")
	r := New(store, quietLogger())

	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	before := store.get(id)

	store.deleteSale(doomed)
	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	after := store.get(id)

	if diff := before.TotalConsumption.Sub(after.TotalConsumption); diff.String() != "45.25" {
		t.Fatalf("expected total_consumption to drop by 45.25, dropped %s", diff)
	}
	if before.ConsumptionCount-after.ConsumptionCount != 4 {
		t.Fatalf("expected consumption_count to drop by 4, got %d -> %d", before.ConsumptionCount, after.ConsumptionCount)
	}

	store.deleteSale(store.sales[0].id)
	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	empty := store.get(id)
	if !empty.TotalConsumption.IsZero() || empty.ConsumptionCount != 0 || empty.TotalPoints != 0 {
		t.Fatalf("expected aggregates bounded at zero, got %+v", empty)
	}
}

func TestReconcileLastConsumptionNeverRegresses(t *testing.T) {
	store := newMemStore()
	id := store.addCustomer()
	late := store.addSale(id, "10", 1, "2024-05-01")
	store.addSale(id, "10", 1, "2024-01-01")
	r := New(store, quietLogger())

	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	store.deleteSale(late)
	if err := r.Reconcile(context.Background(), id); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := store.get(id).LastConsumption; got != "2024-05-01" {
		t.Fatalf("expected last consumption kept at 2024-05-01, got %s", got)
	}
}

func TestReconcileUnknownCustomerIsNoop(t *testing.T) {
	store := newMemStore()
	if err := New(store, quietLogger()).Reconcile(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("expected no writes, got %d", store.writes)
	}
}

func TestReconcileWrapsStoreErrors(t *testing.T) {
	store := newMemStore()
	id := store.addCustomer()
	store.writeErr = errors.New("boom")
	err := New(store, quietLogger()).Reconcile(context.Background(), id)
	if !errors.Is(err, store.writeErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestBothSkipsDuplicates(t *testing.T) {
	store := newMemStore()
	a, b := store.addCustomer(), store.addCustomer()
	r := New(store, quietLogger())

	if err := r.Both(context.Background(), &a, &a); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if store.writes != 1 {
		t.Fatalf("expected one write for identical references, got %d", store.writes)
	}
	if err := r.Both(context.Background(), &a, &b); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := r.Both(context.Background(), nil, nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if store.writes != 3 {
		t.Fatalf("expected 3 writes, got %d", store.writes)
	}
}

func TestComputeFloorsSpend(t *testing.T) {
	agg := Compute(Totals{Spend: decimal.RequireFromString("0.99"), Points: -5})
	if agg.TotalPoints != 0 || agg.AvailablePoints != -5 {
		t.Fatalf("unexpected aggregates %+v", agg)
	}
}
