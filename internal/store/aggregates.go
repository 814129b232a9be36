package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/reconcile"
)

// CustomerTotals reads the authoritative sums for one customer in a single round trip.
func (s *Store) CustomerTotals(ctx context.Context, customerID uuid.UUID) (reconcile.Totals, bool, error) {
	var t reconcile.Totals
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(total_amount) FROM sales WHERE customer_id = c.id AND total_amount > 0), 0),
			COALESCE((
				SELECT SUM(si.quantity)
				FROM sale_items si JOIN sales sa ON sa.id = si.sale_id
				WHERE sa.customer_id = c.id
			), 0)::bigint,
			(SELECT COUNT(DISTINCT id) FROM sales WHERE customer_id = c.id)::bigint,
			COALESCE((SELECT MAX(sale_date) FROM sales WHERE customer_id = c.id), ''),
			COALESCE((SELECT SUM(points) FROM ledger_entries WHERE customer_id = c.id), 0)::bigint
		FROM customers c
		WHERE c.id = $1
	`, customerID).Scan(&t.Spend, &t.Quantity, &t.Sales, &t.LastDate, &t.Points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return reconcile.Totals{}, false, nil
		}
		return reconcile.Totals{}, false, fmt.Errorf("select customer totals: %w", err)
	}
	return t, true, nil
}

// WriteAggregates stores the recomputed fields. last_consumption keeps the lexically
// greater of the stored and computed value.
func (s *Store) WriteAggregates(ctx context.Context, customerID uuid.UUID, agg crm.Aggregates) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE customers
		SET total_consumption = $2,
			consumption_count = $3,
			consumption_times = $4,
			last_consumption = GREATEST(last_consumption, $5),
			total_points = $6,
			available_points = $7,
			updated_at = now()
		WHERE id = $1
	`, customerID, agg.TotalConsumption, agg.ConsumptionCount, agg.ConsumptionTimes, agg.LastConsumption,
		agg.TotalPoints, agg.AvailablePoints)
	if err != nil {
		return fmt.Errorf("update customer aggregates: %w", err)
	}
	return nil
}
