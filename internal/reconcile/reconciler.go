// Package reconcile recomputes the denormalized customer aggregates from the sales,
// line item and points ledger tables.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

// Totals are the raw sums read from the authoritative tables for one customer.
type Totals struct {
	// Spend sums sale totals greater than zero.
	Spend    decimal.Decimal
	Quantity int64
	Sales    int64
	// LastDate is the latest sale date, empty when the customer has no sales.
	LastDate string
	Points   int64
}

type Store interface {
	// CustomerTotals reports found=false for an unknown customer.
	CustomerTotals(ctx context.Context, customerID uuid.UUID) (Totals, bool, error)
	// WriteAggregates must not move last_consumption backwards.
	WriteAggregates(ctx context.Context, customerID uuid.UUID, agg crm.Aggregates) error
}

type Reconciler struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger.With("component", "reconciler")}
}

// Reconcile recomputes every aggregate of the customer from scratch, so repeated or
// reordered calls converge.
func (r *Reconciler) Reconcile(ctx context.Context, customerID uuid.UUID) error {
	totals, found, err := r.store.CustomerTotals(ctx, customerID)
	if err != nil {
		return fmt.Errorf("load customer totals: %w", err)
	}
	if !found {
		r.logger.Debug("reconcile_skipped", "customer_id", customerID, "reason", "customer not found")
		return nil
	}

	agg := Compute(totals)
	if err := r.store.WriteAggregates(ctx, customerID, agg); err != nil {
		return fmt.Errorf("write customer aggregates: %w", err)
	}
	r.logger.Debug("reconciled",
		"customer_id", customerID,
		"total_consumption", agg.TotalConsumption.String(),
		"available_points", agg.AvailablePoints,
	)
	return nil
}

// Compute derives the cached fields. total_points is the floor of cumulative spend,
// not a sum of earned ledger entries; available_points is the signed ledger sum.
func Compute(t Totals) crm.Aggregates {
	spend := t.Spend
	if spend.IsNegative() {
		spend = decimal.Zero
	}
	return crm.Aggregates{
		TotalConsumption: spend,
		ConsumptionCount: max(t.Quantity, 0),
		ConsumptionTimes: max(t.Sales, 0),
		LastConsumption:  t.LastDate,
		TotalPoints:      spend.Floor().IntPart(),
		AvailablePoints:  t.Points,
	}
}

// Both reconciles two customers, skipping nil and duplicate references. Updates that move
// a record between customers use it.
func (r *Reconciler) Both(ctx context.Context, before, after *uuid.UUID) error {
	if before != nil {
		if err := r.Reconcile(ctx, *before); err != nil {
			return err
		}
	}
	if after != nil && !crm.SameCustomer(before, after) {
		if err := r.Reconcile(ctx, *after); err != nil {
			return err
		}
	}
	return nil
}
